// Package catalog manages the test type catalog: the definitions of what
// the lab can run, which parameters each test reports, and what samples it
// needs.
package catalog

import (
	"time"

	"github.com/google/uuid"
)

// ParameterConfig describes one reportable parameter of a test type.
// ReferenceRange is free-form because ranges vary by shape: a plain
// min/max, sex- or age-specific bands, or a single expected value for
// qualitative parameters.
type ParameterConfig struct {
	Name           string                 `json:"name"`
	Code           string                 `json:"code"`
	Type           string                 `json:"type"` // numeric, text, select, boolean
	Unit           string                 `json:"unit,omitempty"`
	MinValue       *float64               `json:"min_value,omitempty"`
	MaxValue       *float64               `json:"max_value,omitempty"`
	Options        []string               `json:"options,omitempty"`
	ReferenceRange map[string]interface{} `json:"reference_range,omitempty"`
}

// TestType is a catalog entry. Code is the stable business key (CBC,
// THYROID); orders reference it rather than the row id.
type TestType struct {
	ID                 uuid.UUID         `json:"id"`
	Name               string            `json:"name"`
	Code               string            `json:"code"`
	Description        string            `json:"description,omitempty"`
	Category           string            `json:"category,omitempty"`
	Parameters         []ParameterConfig `json:"parameters"`
	SampleRequirements []string          `json:"sample_requirements"`
	TATHours           *int              `json:"tat_hours,omitempty"`
	IsActive           bool              `json:"is_active"`
	VersionID          int               `json:"version_id"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Parameter returns the configuration for a parameter code, if defined.
func (t *TestType) Parameter(code string) (ParameterConfig, bool) {
	for _, p := range t.Parameters {
		if p.Code == code {
			return p, true
		}
	}
	return ParameterConfig{}, false
}
