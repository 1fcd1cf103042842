/*
Package factory converts policy documents into engine settings.

PURPOSE:
  Converts JSON or YAML policy definitions into incentive.Settings, and
  named target templates into performance.TargetDefinition slices. Admins
  keep the incentive policy and the standard target sets for each role in
  a file, and the server loads it at startup without code changes.

SCHEMA (YAML; JSON uses the same keys):
  policy:
    min_performance_threshold: 50
    calculation_method: linear
    penalty_enabled: true
    max_penalty_percent: 25
  templates:
    - name: sales
      targets:
        - kind: lead_generation
          target_value: 50
          incentive_base: 15000
        - kind: collection_amount
          target_value: 200000
          unit: amount
          incentive_base: 5000

KEY FEATURES:
  - Validates structure and values
  - Omitted policy fields fall back to incentive.DefaultSettings
  - Template targets default their unit and name from the kind registry

USAGE:
  f := factory.NewPolicyFactory()
  doc, err := f.LoadFile("policy.yaml")
  settings, err := doc.Settings()
  defs, err := doc.Template("sales")

SEE ALSO:
  - incentive/settings.go: Settings type definition
  - performance/kinds.go: Kind registry
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DOCUMENT TYPES
// =============================================================================

// Document is the root of a policy file.
type Document struct {
	Policy    *PolicyJSON    `json:"policy,omitempty" yaml:"policy,omitempty"`
	Templates []TemplateJSON `json:"templates,omitempty" yaml:"templates,omitempty"`
}

// PolicyJSON is the file representation of incentive.Settings.
type PolicyJSON struct {
	MinPerformanceThreshold *float64 `json:"min_performance_threshold,omitempty" yaml:"min_performance_threshold,omitempty"`
	CalculationMethod       string   `json:"calculation_method,omitempty" yaml:"calculation_method,omitempty"`
	PenaltyEnabled          bool     `json:"penalty_enabled,omitempty" yaml:"penalty_enabled,omitempty"`
	MaxPenaltyPercent       *float64 `json:"max_penalty_percent,omitempty" yaml:"max_penalty_percent,omitempty"`
}

// TemplateJSON is a named set of targets assigned together.
type TemplateJSON struct {
	Name    string       `json:"name" yaml:"name"`
	Targets []TargetJSON `json:"targets" yaml:"targets"`
}

// TargetJSON is one target of a template.
type TargetJSON struct {
	Kind          string  `json:"kind" yaml:"kind"`
	Name          string  `json:"name,omitempty" yaml:"name,omitempty"`
	Description   string  `json:"description,omitempty" yaml:"description,omitempty"`
	TargetValue   float64 `json:"target_value" yaml:"target_value"`
	Unit          string  `json:"unit,omitempty" yaml:"unit,omitempty"`
	IncentiveBase float64 `json:"incentive_base" yaml:"incentive_base"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory parses policy documents.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParseJSON parses a JSON policy document.
func (f *PolicyFactory) ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", generic.ErrInvalidPolicy, err)
	}
	return &doc, f.validate(&doc)
}

// ParseYAML parses a YAML policy document.
func (f *PolicyFactory) ParseYAML(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: invalid YAML: %v", generic.ErrInvalidPolicy, err)
	}
	return &doc, f.validate(&doc)
}

// LoadFile reads a policy document, choosing the format by extension.
func (f *PolicyFactory) LoadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return f.ParseJSON(data)
	case ".yaml", ".yml":
		return f.ParseYAML(data)
	default:
		return nil, fmt.Errorf("%w: unsupported policy file extension %q", generic.ErrInvalidPolicy, filepath.Ext(path))
	}
}

func (f *PolicyFactory) validate(doc *Document) error {
	if _, err := doc.Settings(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(doc.Templates))
	for _, t := range doc.Templates {
		if t.Name == "" {
			return fmt.Errorf("%w: template name is required", generic.ErrInvalidPolicy)
		}
		if seen[t.Name] {
			return fmt.Errorf("%w: duplicate template %q", generic.ErrInvalidPolicy, t.Name)
		}
		seen[t.Name] = true
		if _, err := t.Definitions(); err != nil {
			return fmt.Errorf("template %q: %w", t.Name, err)
		}
	}
	return nil
}

// =============================================================================
// CONVERSION
// =============================================================================

// Settings converts the policy section, defaulting anything omitted.
func (d *Document) Settings() (incentive.Settings, error) {
	s := incentive.DefaultSettings()
	if d.Policy == nil {
		return s, nil
	}
	p := d.Policy
	if p.MinPerformanceThreshold != nil {
		s.MinPerformanceThreshold = decimal.NewFromFloat(*p.MinPerformanceThreshold)
	}
	if p.CalculationMethod != "" {
		s.CalculationMethod = incentive.Method(p.CalculationMethod)
	}
	s.PenaltyEnabled = p.PenaltyEnabled
	if p.MaxPenaltyPercent != nil {
		s.MaxPenaltyPercent = decimal.NewFromFloat(*p.MaxPenaltyPercent)
	}
	if err := s.Validate(); err != nil {
		return incentive.Settings{}, err
	}
	return s, nil
}

// Template returns the target definitions of the named template.
func (d *Document) Template(name string) ([]performance.TargetDefinition, error) {
	for _, t := range d.Templates {
		if t.Name == name {
			return t.Definitions()
		}
	}
	return nil, fmt.Errorf("%w: template %q", generic.ErrPolicyNotFound, name)
}

// TemplateNames lists the templates in file order.
func (d *Document) TemplateNames() []string {
	names := make([]string, 0, len(d.Templates))
	for _, t := range d.Templates {
		names = append(names, t.Name)
	}
	return names
}

// Definitions converts a template to engine input.
func (t TemplateJSON) Definitions() ([]performance.TargetDefinition, error) {
	if len(t.Targets) == 0 {
		return nil, fmt.Errorf("%w: template has no targets", generic.ErrInvalidTargetDefinition)
	}
	defs := make([]performance.TargetDefinition, 0, len(t.Targets))
	for _, tj := range t.Targets {
		kind := performance.Kind(tj.Kind)
		if !kind.Valid() {
			return nil, fmt.Errorf("%w: kind %q", generic.ErrInvalidTargetDefinition, tj.Kind)
		}
		unit := generic.Unit(tj.Unit)
		if unit != "" && !unit.Valid() {
			return nil, fmt.Errorf("%w: unit %q", generic.ErrInvalidTargetDefinition, tj.Unit)
		}
		defs = append(defs, performance.TargetDefinition{
			Kind:          kind,
			Name:          tj.Name,
			Description:   tj.Description,
			TargetValue:   decimal.NewFromFloat(tj.TargetValue),
			Unit:          unit,
			IncentiveBase: decimal.NewFromFloat(tj.IncentiveBase),
		})
	}
	return defs, nil
}

// FromSettings renders settings back to their file representation.
func FromSettings(s incentive.Settings) PolicyJSON {
	threshold := s.MinPerformanceThreshold.InexactFloat64()
	maxPenalty := s.MaxPenaltyPercent.InexactFloat64()
	return PolicyJSON{
		MinPerformanceThreshold: &threshold,
		CalculationMethod:       string(s.CalculationMethod),
		PenaltyEnabled:          s.PenaltyEnabled,
		MaxPenaltyPercent:       &maxPenalty,
	}
}
