// Package schema infers presentation metadata from extracted records and
// scores their complexity to recommend a view.
package schema

import (
	"regexp"
	"unicode/utf8"

	"github.com/doc-extract/backend/internal/models"
)

const (
	longTextLength   = 200
	mediumTextLength = 50

	pointsPerField   = 1
	pointsLongField  = 3
	pointsNested     = 4
	largeSamplePts   = 2
	largeSampleLimit = 10

	simpleMaxScore   = 8
	moderateMaxScore = 20
)

var (
	datePattern     = regexp.MustCompile(`(?i)(date|time|timestamp|created|updated|modified|_at$)`)
	longTextPattern = regexp.MustCompile(`(?i)(description|summary|details|notes|comment|content|statement|text|body)`)
)

// Analyze infers field metadata from the first record of sample and scores
// it. The result depends only on its arguments.
func Analyze(sample []*models.Record, hints *Hints) models.SchemaComplexity {
	if len(sample) == 0 || sample[0].Len() == 0 {
		return models.SchemaComplexity{
			Level:  models.ComplexitySimple,
			Fields: []models.FieldMeta{},
			View:   models.ViewTable,
		}
	}

	fields, score := analyzeRecord(sample[0], hints)
	if len(sample) > largeSampleLimit {
		score += largeSamplePts
	}

	out := models.SchemaComplexity{
		Level:  levelFor(score),
		Score:  score,
		Fields: fields,
	}
	for _, f := range fields {
		if f.Type == models.FieldNested {
			out.HasNested = true
			break
		}
	}
	out.View = viewFor(out.Level, out.HasNested)
	return out
}

// AnalyzeValue analyzes structured data as returned for one file: an object
// or an array of objects.
func AnalyzeValue(data models.Value, hints *Hints) models.SchemaComplexity {
	switch data.Kind() {
	case models.KindObject:
		return Analyze([]*models.Record{data.Record()}, hints)
	case models.KindArray:
		var sample []*models.Record
		for _, item := range data.Items() {
			if item.Kind() == models.KindObject {
				sample = append(sample, item.Record())
			}
		}
		return Analyze(sample, hints)
	}
	return Analyze(nil, hints)
}

func analyzeRecord(rec *models.Record, hints *Hints) ([]models.FieldMeta, int) {
	fields := make([]models.FieldMeta, 0, rec.Len())
	score := 0
	for _, name := range rec.Keys() {
		value, _ := rec.Get(name)
		meta, points := analyzeField(name, value, hints)
		fields = append(fields, meta)
		score += points
	}
	return fields, score
}

func analyzeField(name string, value models.Value, hints *Hints) (models.FieldMeta, int) {
	hint := hints.Field(name)
	meta := models.FieldMeta{
		Name:     name,
		Label:    hint.Label,
		Type:     InferType(name, value, hint),
		Required: hint.Required,
		IsArray:  value.Kind() == models.KindArray,
		Enum:     hint.Enum,
		Pattern:  hint.Pattern,
	}
	if meta.Label == "" {
		meta.Label = Label(name)
	}

	points := pointsPerField
	switch meta.Type {
	case models.FieldLong:
		points += pointsLongField
	case models.FieldNested:
		points += pointsNested
		if inner := representative(value); inner != nil {
			children, innerScore := analyzeRecord(inner, hints.child(name))
			meta.Children = children
			points += innerScore
		}
	}
	return meta, points
}

// representative returns the record that stands for a nested value's inner
// schema: the object itself, or an array's first element when it is an object.
func representative(value models.Value) *models.Record {
	switch value.Kind() {
	case models.KindObject:
		return value.Record()
	case models.KindArray:
		items := value.Items()
		if len(items) > 0 && items[0].Kind() == models.KindObject {
			return items[0].Record()
		}
	}
	return nil
}

// InferType applies the type precedence: structure, boolean, number, date-like
// name, enum hint, then text length.
func InferType(name string, value models.Value, hint FieldHint) models.FieldType {
	switch {
	case value.IsNested() || hint.Type == models.FieldNested:
		return models.FieldNested
	case value.Kind() == models.KindBool || hint.Type == models.FieldBoolean:
		return models.FieldBoolean
	case value.Kind() == models.KindNumber || hint.Type == models.FieldNumber:
		return models.FieldNumber
	case datePattern.MatchString(name) || hint.Type == models.FieldDate:
		return models.FieldDate
	case len(hint.Enum) > 0 || hint.Type == models.FieldEnum:
		return models.FieldEnum
	}

	switch hint.Type {
	case models.FieldLong, models.FieldMedium, models.FieldShort:
		return hint.Type
	}

	length := utf8.RuneCountInString(value.Display())
	switch {
	case length > longTextLength || longTextPattern.MatchString(name):
		return models.FieldLong
	case length > mediumTextLength:
		return models.FieldMedium
	default:
		return models.FieldShort
	}
}

func levelFor(score int) models.ComplexityLevel {
	switch {
	case score <= simpleMaxScore:
		return models.ComplexitySimple
	case score <= moderateMaxScore:
		return models.ComplexityModerate
	default:
		return models.ComplexityComplex
	}
}

func viewFor(level models.ComplexityLevel, hasNested bool) models.ViewMode {
	switch {
	case level == models.ComplexityComplex || hasNested:
		return models.ViewMasterDetail
	case level == models.ComplexityModerate:
		return models.ViewTableDrawer
	default:
		return models.ViewTable
	}
}
