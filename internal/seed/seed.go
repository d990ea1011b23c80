// Package seed loads pipeline templates from YAML and creates them.
package seed

import (
	"context"
	"io"
	"os"

	"github.com/ignatij/dealflow/pkg/models"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a seed file:
//
//	pipelines:
//	  - name: Sales
//	    default: true
//	    stages:
//	      - {name: Lead, color: "#3b82f6", probability: 10, default: true}
//	      - {name: Won, color: "#10b981", probability: 100}
type File struct {
	Pipelines []Pipeline `yaml:"pipelines"`
}

type Pipeline struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Default     bool    `yaml:"default"`
	Stages      []Stage `yaml:"stages"`
}

type Stage struct {
	Name        string `yaml:"name"`
	Color       string `yaml:"color"`
	Probability int    `yaml:"probability"`
	Default     bool   `yaml:"default"`
}

// Target receives the seeded data; *client.Client and the in-process
// services (see ServiceTarget) both fit.
type Target interface {
	CreatePipeline(ctx context.Context, name, description string, isDefault bool) (int64, error)
	CreateStage(ctx context.Context, pipelineID int64, in models.StageInput) (models.Stage, error)
}

// Result records what Apply created.
type Result struct {
	PipelineIDs []int64
	Stages      int
}

func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return File{}, errors.Wrap(err, "parse seed file")
	}
	for i, p := range f.Pipelines {
		if p.Name == "" {
			return File{}, errors.Errorf("pipeline #%d has no name", i+1)
		}
		for j, s := range p.Stages {
			if s.Name == "" {
				return File{}, errors.Errorf("pipeline %q: stage #%d has no name", p.Name, j+1)
			}
		}
	}
	return f, nil
}

func Load(path string) (File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return File{}, err
	}
	defer fh.Close()
	return Parse(fh)
}

// Apply creates every pipeline and appends its stages in file order, so ranks
// follow the file.
func Apply(ctx context.Context, target Target, f File) (Result, error) {
	var res Result
	for _, p := range f.Pipelines {
		id, err := target.CreatePipeline(ctx, p.Name, p.Description, p.Default)
		if err != nil {
			return res, errors.Wrapf(err, "create pipeline %q", p.Name)
		}
		res.PipelineIDs = append(res.PipelineIDs, id)
		for _, s := range p.Stages {
			_, err := target.CreateStage(ctx, id, models.StageInput{
				Name:        s.Name,
				Color:       s.Color,
				Probability: s.Probability,
				IsDefault:   s.Default,
			})
			if err != nil {
				return res, errors.Wrapf(err, "create stage %q of pipeline %q", s.Name, p.Name)
			}
			res.Stages++
		}
	}
	return res, nil
}
