package factory_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/performance-engine/factory"
	"github.com/warp/performance-engine/generic"
	"github.com/warp/performance-engine/incentive"
	"github.com/warp/performance-engine/performance"
)

const salesYAML = `
policy:
  min_performance_threshold: 60
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
        target_value: 200000.50
        unit: amount
        incentive_base: 5000
  - name: support
    targets:
      - kind: task_completion
        name: Tickets closed
        target_value: 120
        incentive_base: 4000
`

func TestParseYAML_SettingsAndTemplates(t *testing.T) {
	// GIVEN: A policy file with a penalty policy and two templates
	// WHEN: Parsing it
	// THEN: Settings and target definitions come out typed

	doc, err := factory.NewPolicyFactory().ParseYAML([]byte(salesYAML))
	require.NoError(t, err)

	s, err := doc.Settings()
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(60).Equal(s.MinPerformanceThreshold))
	assert.True(t, s.PenaltyEnabled)
	assert.True(t, decimal.NewFromInt(25).Equal(s.MaxPenaltyPercent))
	assert.Equal(t, incentive.MethodLinear, s.CalculationMethod)

	assert.Equal(t, []string{"sales", "support"}, doc.TemplateNames())

	defs, err := doc.Template("sales")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, performance.KindLeadGeneration, defs[0].Kind)
	assert.Equal(t, generic.Unit(""), defs[0].Unit, "unit defaults later from the kind")
	assert.Equal(t, generic.UnitAmount, defs[1].Unit)
	assert.True(t, decimal.RequireFromString("200000.5").Equal(defs[1].TargetValue))

	support, err := doc.Template("support")
	require.NoError(t, err)
	assert.Equal(t, "Tickets closed", support[0].Name)

	_, err = doc.Template("finance")
	assert.ErrorIs(t, err, generic.ErrPolicyNotFound)
}

func TestParseJSON_OmittedPolicyUsesDefaults(t *testing.T) {
	doc, err := factory.NewPolicyFactory().ParseJSON([]byte(`{"templates":[{"name":"ops","targets":[{"kind":"group_filling","target_value":100,"incentive_base":2000}]}]}`))
	require.NoError(t, err)

	s, err := doc.Settings()
	require.NoError(t, err)
	assert.Equal(t, incentive.DefaultSettings().MinPerformanceThreshold.String(), s.MinPerformanceThreshold.String())
	assert.False(t, s.PenaltyEnabled)
}

func TestParse_Rejections(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"malformed", `{"policy":`, generic.ErrInvalidPolicy},
		{"unsupported method", `{"policy":{"calculation_method":"tiered"}}`, generic.ErrUnsupportedCalculationMethod},
		{"unknown method", `{"policy":{"calculation_method":"bonus"}}`, generic.ErrInvalidPolicy},
		{"negative cap", `{"policy":{"max_penalty_percent":-5}}`, generic.ErrInvalidPolicy},
		{"unnamed template", `{"templates":[{"targets":[{"kind":"lead_generation","target_value":1,"incentive_base":1}]}]}`, generic.ErrInvalidPolicy},
		{"duplicate template", `{"templates":[
			{"name":"a","targets":[{"kind":"lead_generation","target_value":1,"incentive_base":1}]},
			{"name":"a","targets":[{"kind":"lead_generation","target_value":1,"incentive_base":1}]}]}`, generic.ErrInvalidPolicy},
		{"empty template", `{"templates":[{"name":"a","targets":[]}]}`, generic.ErrInvalidTargetDefinition},
		{"bad kind", `{"templates":[{"name":"a","targets":[{"kind":"Bad Kind","target_value":1,"incentive_base":1}]}]}`, generic.ErrInvalidTargetDefinition},
		{"bad unit", `{"templates":[{"name":"a","targets":[{"kind":"lead_generation","unit":"days","target_value":1,"incentive_base":1}]}]}`, generic.ErrInvalidTargetDefinition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.NewPolicyFactory().ParseJSON([]byte(tt.json))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoadFile_DispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	f := factory.NewPolicyFactory()

	yamlPath := filepath.Join(dir, "policy.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(salesYAML), 0o600))
	doc, err := f.LoadFile(yamlPath)
	require.NoError(t, err)
	assert.Len(t, doc.Templates, 2)

	jsonPath := filepath.Join(dir, "policy.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"policy":{"penalty_enabled":true,"max_penalty_percent":10}}`), 0o600))
	doc, err = f.LoadFile(jsonPath)
	require.NoError(t, err)
	s, err := doc.Settings()
	require.NoError(t, err)
	assert.True(t, s.PenaltyEnabled)

	txtPath := filepath.Join(dir, "policy.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))
	_, err = f.LoadFile(txtPath)
	assert.ErrorIs(t, err, generic.ErrInvalidPolicy)

	_, err = f.LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFromSettings_RoundTrips(t *testing.T) {
	s := incentive.DefaultSettings()
	s.PenaltyEnabled = true
	s.MaxPenaltyPercent = decimal.RequireFromString("12.5")

	doc := factory.Document{Policy: ptr(factory.FromSettings(s))}
	back, err := doc.Settings()
	require.NoError(t, err)

	assert.True(t, back.PenaltyEnabled)
	assert.True(t, decimal.RequireFromString("12.5").Equal(back.MaxPenaltyPercent))
	assert.True(t, s.MinPerformanceThreshold.Equal(back.MinPerformanceThreshold))
}

func ptr[T any](v T) *T { return &v }
