package models

import "time"

const (
	MinProbability = 0
	MaxProbability = 100
	// DefaultStageColor is used when a stage is created without a colour.
	DefaultStageColor = "#6b7280"
)

// Stage is one step of a pipeline. Rank is its position within the pipeline
// and the only ordering key; probability is edited independently of rank.
type Stage struct {
	ID          int64     `json:"id" db:"id"`
	PipelineID  int64     `json:"pipeline_id" db:"pipeline_id"` // Owning pipeline
	Name        string    `json:"name" db:"name"`               // e.g. "Qualified"
	Color       string    `json:"color" db:"color"`             // Normalised #rrggbb
	Probability int       `json:"probability" db:"probability"` // Win probability, 0-100
	IsDefault   bool      `json:"is_default" db:"is_default"`   // Default stages cannot be deleted
	Rank        int       `json:"rank" db:"rank"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// StageInput holds the fields supplied when a stage is created.
type StageInput struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Probability int    `json:"probability"`
	IsDefault   bool   `json:"is_default"`
}

// StagePatch carries a partial stage update. Nil fields are left untouched.
type StagePatch struct {
	Name        *string `json:"name,omitempty"`
	Color       *string `json:"color,omitempty"`
	Probability *int    `json:"probability,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p StagePatch) Empty() bool {
	return p.Name == nil && p.Color == nil && p.Probability == nil
}

// StageIDs returns the ids of stages in slice order.
func StageIDs(stages []Stage) []int64 {
	ids := make([]int64, len(stages))
	for i, s := range stages {
		ids[i] = s.ID
	}
	return ids
}
