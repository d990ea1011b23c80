package models

import "time"

// Pipeline is a named, ordered sales process. Its stages live in their own
// table and are keyed by PipelineID.
type Pipeline struct {
	ID          int64     `json:"id" db:"id"`                   // PostgreSQL auto-increment
	Name        string    `json:"name" db:"name"`               // e.g. "Enterprise Sales"
	Description string    `json:"description" db:"description"` // Free text, may be empty
	IsDefault   bool      `json:"is_default" db:"is_default"`   // At most one default pipeline
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
	Stages      []Stage   `json:"stages,omitempty"` // Populated on GetPipeline only
}

// PipelinePatch carries a partial pipeline update. Nil fields are left untouched.
type PipelinePatch struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsDefault   *bool   `json:"is_default,omitempty"`
}
