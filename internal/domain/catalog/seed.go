package catalog

import (
	"context"
	"errors"
	"fmt"
)

func ptr[T any](v T) *T { return &v }

// DefaultTestTypes is the starter catalog loaded by the seed command.
var DefaultTestTypes = []TestType{
	{
		Name:               "Complete Blood Count (CBC)",
		Code:               "CBC",
		Description:        "Evaluates overall health and detects a variety of disorders including anemia and infection.",
		Category:           "Hematology",
		SampleRequirements: []string{"Blood"},
		TATHours:           ptr(4),
		Parameters: []ParameterConfig{
			{Name: "White Blood Cells", Code: "WBC", Type: "numeric", Unit: "10^3/uL",
				MinValue: ptr(0.0), MaxValue: ptr(100.0),
				ReferenceRange: map[string]interface{}{"min": 4.5, "max": 11.0}},
			{Name: "Hemoglobin", Code: "HGB", Type: "numeric", Unit: "g/dL",
				MinValue: ptr(0.0), MaxValue: ptr(30.0),
				ReferenceRange: map[string]interface{}{
					"male":   map[string]interface{}{"min": 13.5, "max": 17.5},
					"female": map[string]interface{}{"min": 12.0, "max": 15.5},
				}},
			{Name: "Hematocrit", Code: "HCT", Type: "numeric", Unit: "%",
				MinValue: ptr(0.0), MaxValue: ptr(100.0),
				ReferenceRange: map[string]interface{}{
					"male":   map[string]interface{}{"min": 38.8, "max": 50.0},
					"female": map[string]interface{}{"min": 34.9, "max": 44.5},
				}},
			{Name: "Platelets", Code: "PLT", Type: "numeric", Unit: "10^3/uL",
				MinValue: ptr(0.0), MaxValue: ptr(2000.0),
				ReferenceRange: map[string]interface{}{"min": 150, "max": 450}},
		},
	},
	{
		Name:               "Basic Metabolic Panel",
		Code:               "BMP",
		Description:        "Measures glucose, kidney function, and electrolyte balance.",
		Category:           "Chemistry",
		SampleRequirements: []string{"Serum"},
		TATHours:           ptr(4),
		Parameters: []ParameterConfig{
			{Name: "Glucose", Code: "GLU", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{"min": 70, "max": 99}},
			{Name: "Sodium", Code: "NA", Type: "numeric", Unit: "mmol/L",
				ReferenceRange: map[string]interface{}{"min": 135, "max": 145}},
			{Name: "Potassium", Code: "K", Type: "numeric", Unit: "mmol/L",
				ReferenceRange: map[string]interface{}{"min": 3.5, "max": 5.2}},
			{Name: "Creatinine", Code: "CREAT", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{
					"male":   map[string]interface{}{"min": 0.7, "max": 1.3},
					"female": map[string]interface{}{"min": 0.6, "max": 1.1},
				}},
		},
	},
	{
		Name:               "Thyroid Function Tests",
		Code:               "THYROID",
		Description:        "Measures thyroid hormone levels to assess thyroid function.",
		Category:           "Endocrinology",
		SampleRequirements: []string{"Serum"},
		TATHours:           ptr(24),
		Parameters: []ParameterConfig{
			{Name: "Thyroid Stimulating Hormone", Code: "TSH", Type: "numeric", Unit: "uIU/mL",
				ReferenceRange: map[string]interface{}{"min": 0.4, "max": 4.0}},
			{Name: "Free Thyroxine", Code: "FT4", Type: "numeric", Unit: "ng/dL",
				ReferenceRange: map[string]interface{}{"min": 0.8, "max": 1.8}},
			{Name: "Free Triiodothyronine", Code: "FT3", Type: "numeric", Unit: "pg/mL",
				ReferenceRange: map[string]interface{}{"min": 2.3, "max": 4.2}},
		},
	},
	{
		Name:               "Urinalysis",
		Code:               "UA",
		Description:        "Analyzes physical, chemical, and microscopic properties of urine.",
		Category:           "Urinalysis",
		SampleRequirements: []string{"Urine"},
		TATHours:           ptr(4),
		Parameters: []ParameterConfig{
			{Name: "Color", Code: "COLOR", Type: "text",
				ReferenceRange: map[string]interface{}{"value": "Yellow"}},
			{Name: "Specific Gravity", Code: "SPGR", Type: "numeric",
				ReferenceRange: map[string]interface{}{"min": 1.005, "max": 1.030}},
			{Name: "pH", Code: "PH", Type: "numeric",
				ReferenceRange: map[string]interface{}{"min": 4.5, "max": 8.0}},
			{Name: "Protein", Code: "PRO", Type: "select",
				Options:        []string{"Negative", "Trace", "1+", "2+", "3+", "4+"},
				ReferenceRange: map[string]interface{}{"value": "Negative"}},
			{Name: "Glucose", Code: "GLU", Type: "select",
				Options:        []string{"Negative", "Trace", "1+", "2+", "3+", "4+"},
				ReferenceRange: map[string]interface{}{"value": "Negative"}},
		},
	},
	{
		Name:               "Cardiac Enzymes",
		Code:               "CARDIAC",
		Description:        "Measures enzymes released during heart muscle damage.",
		Category:           "Cardiology",
		SampleRequirements: []string{"Serum"},
		TATHours:           ptr(2),
		Parameters: []ParameterConfig{
			{Name: "Troponin I", Code: "TROP", Type: "numeric", Unit: "ng/mL",
				ReferenceRange: map[string]interface{}{"min": 0, "max": 0.04}},
			{Name: "CK-MB", Code: "CKMB", Type: "numeric", Unit: "ng/mL",
				ReferenceRange: map[string]interface{}{"min": 0, "max": 5.0}},
		},
	},
	{
		Name:               "Lipid Panel",
		Code:               "LIPID",
		Description:        "Measures cholesterol and triglycerides to assess cardiovascular risk.",
		Category:           "Chemistry",
		SampleRequirements: []string{"Serum"},
		TATHours:           ptr(24),
		Parameters: []ParameterConfig{
			{Name: "Total Cholesterol", Code: "CHOL", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{"min": 125, "max": 200}},
			{Name: "HDL Cholesterol", Code: "HDL", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{"min": 40, "max": 60}},
			{Name: "LDL Cholesterol", Code: "LDL", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{"min": 0, "max": 100}},
			{Name: "Triglycerides", Code: "TRIG", Type: "numeric", Unit: "mg/dL",
				ReferenceRange: map[string]interface{}{"min": 0, "max": 149}},
		},
	},
}

// Seed loads the default catalog, skipping codes that already exist. It
// returns the number of entries added.
func (s *Service) Seed(ctx context.Context) (int, error) {
	added := 0
	for i := range DefaultTestTypes {
		t := DefaultTestTypes[i]
		err := s.CreateTestType(ctx, &t)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return added, fmt.Errorf("seed %s: %w", t.Code, err)
		}
		added++
	}
	return added, nil
}
