// Package policyfile reads step-scaling policies from YAML or JSON files.
//
//	steps:
//	  - upper: 1
//	    change: -1
//	  - lower: 2
//	    change: 1
//	  - lower: 4
//	    change: 2
//	cooldown: 10s
//	minCapacity: 1
//	maxCapacity: 20
//	normalize: true
//
// With normalize set, steps may use the shorthand where each step names a
// single bound; see stepscaling.NormalizeSteps.
package policyfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/HatiCode/stepscaler/pkg/stepscaling"
)

// Document is the on-disk form of a policy. It is also the JSON body served
// on /policy.
type Document struct {
	Steps                  []stepscaling.StepConfig `json:"steps" yaml:"steps"`
	Cooldown               string                   `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	MinCapacity            int                      `json:"minCapacity" yaml:"minCapacity"`
	MaxCapacity            int                      `json:"maxCapacity" yaml:"maxCapacity"`
	AdjustmentType         string                   `json:"adjustmentType,omitempty" yaml:"adjustmentType,omitempty"`
	MinAdjustmentMagnitude int                      `json:"minAdjustmentMagnitude,omitempty" yaml:"minAdjustmentMagnitude,omitempty"`
	Normalize              bool                     `json:"normalize,omitempty" yaml:"normalize,omitempty"`
}

// Load reads and validates the policy file at path.
func Load(path string) (*stepscaling.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a YAML or JSON document and builds the policy. Unknown
// fields are rejected.
func Parse(data []byte) (*stepscaling.Policy, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return doc.Policy()
}

// Decode decodes data without validating the policy.
func Decode(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return Document{}, fmt.Errorf("%w: empty policy document", stepscaling.ErrInvalidPolicy)
		}
		return Document{}, fmt.Errorf("decode policy: %w", err)
	}
	return doc, nil
}

// Policy validates the document and returns the policy it describes.
func (d Document) Policy() (*stepscaling.Policy, error) {
	adj, err := stepscaling.ParseAdjustmentType(d.AdjustmentType)
	if err != nil {
		return nil, err
	}

	var cooldown time.Duration
	if d.Cooldown != "" {
		cooldown, err = time.ParseDuration(d.Cooldown)
		if err != nil {
			return nil, fmt.Errorf("%w: cooldown: %v", stepscaling.ErrInvalidPolicy, err)
		}
	}

	steps := d.Steps
	if d.Normalize {
		steps, err = stepscaling.NormalizeSteps(steps, adj)
		if err != nil {
			return nil, err
		}
	}

	return stepscaling.NewPolicy(stepscaling.PolicyConfig{
		Steps:                  steps,
		Cooldown:               cooldown,
		MinCapacity:            d.MinCapacity,
		MaxCapacity:            d.MaxCapacity,
		AdjustmentType:         adj,
		MinAdjustmentMagnitude: d.MinAdjustmentMagnitude,
	})
}

// FromPolicy returns the explicit, normalized document for p.
func FromPolicy(p *stepscaling.Policy) Document {
	cfg := p.Config()
	doc := Document{
		Steps:                  cfg.Steps,
		MinCapacity:            cfg.MinCapacity,
		MaxCapacity:            cfg.MaxCapacity,
		AdjustmentType:         string(cfg.AdjustmentType),
		MinAdjustmentMagnitude: cfg.MinAdjustmentMagnitude,
	}
	if cfg.Cooldown > 0 {
		doc.Cooldown = cfg.Cooldown.String()
	}
	return doc
}

// Marshal encodes p as YAML.
func Marshal(p *stepscaling.Policy) ([]byte, error) {
	return yaml.Marshal(FromPolicy(p))
}
