package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/doc-extract/backend/internal/models"
)

func TestValidate(t *testing.T) {
	meta := func(typ models.FieldType) models.FieldMeta {
		return models.FieldMeta{Name: "f", Label: "Field", Type: typ}
	}

	tests := []struct {
		name     string
		meta     models.FieldMeta
		value    models.Value
		expected models.ValidationStatus
	}{
		{"number value", meta(models.FieldNumber), models.Number(3), models.ValidationValid},
		{"numeric string", meta(models.FieldNumber), models.String(" 1,250.75 "), models.ValidationValid},
		{"non numeric string", meta(models.FieldNumber), models.String("n/a"), models.ValidationInvalid},
		{"bool value", meta(models.FieldBoolean), models.Bool(true), models.ValidationValid},
		{"yes string", meta(models.FieldBoolean), models.String("Yes"), models.ValidationValid},
		{"maybe string", meta(models.FieldBoolean), models.String("maybe"), models.ValidationInvalid},
		{"iso date", meta(models.FieldDate), models.String("2024-02-29"), models.ValidationValid},
		{"us date", meta(models.FieldDate), models.String("02/29/2024"), models.ValidationValid},
		{"long date", meta(models.FieldDate), models.String("February 29, 2024"), models.ValidationValid},
		{"bad date", meta(models.FieldDate), models.String("2024-02-30"), models.ValidationInvalid},
		{"numeric date", meta(models.FieldDate), models.Number(20240101), models.ValidationInvalid},
		{"nested array", meta(models.FieldNested), models.Array(), models.ValidationValid},
		{"nested scalar", meta(models.FieldNested), models.String("x"), models.ValidationInvalid},
		{"long short text warns", meta(models.FieldShort), models.String(strings.Repeat("a", 201)), models.ValidationWarning},
		{"long text ok", meta(models.FieldLong), models.String(strings.Repeat("a", 5000)), models.ValidationValid},
		{"optional empty", meta(models.FieldNumber), models.String(""), models.ValidationValid},
		{"required empty", models.FieldMeta{Label: "Total", Type: models.FieldNumber, Required: true}, models.Null(), models.ValidationInvalid},
		{"enum member", models.FieldMeta{Type: models.FieldEnum, Enum: []string{"paid", "open"}}, models.String("paid"), models.ValidationValid},
		{"enum non member", models.FieldMeta{Type: models.FieldEnum, Enum: []string{"paid", "open"}}, models.String("late"), models.ValidationInvalid},
		{"pattern match", models.FieldMeta{Type: models.FieldShort, Pattern: `^[A-Z]-\d+$`}, models.String("A-12"), models.ValidationValid},
		{"pattern mismatch", models.FieldMeta{Type: models.FieldShort, Pattern: `^[A-Z]-\d+$`}, models.String("a12"), models.ValidationInvalid},
		{"unusable pattern warns", models.FieldMeta{Type: models.FieldShort, Pattern: `([`}, models.String("x"), models.ValidationWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg := Validate(tt.meta, tt.value)
			assert.Equal(t, tt.expected, status)
			if tt.expected == models.ValidationValid {
				assert.Empty(t, msg)
			} else {
				assert.NotEmpty(t, msg)
			}
		})
	}
}
