package models

// FieldType is the presentation type inferred for a field.
type FieldType string

const (
	FieldShort   FieldType = "short"
	FieldMedium  FieldType = "medium"
	FieldLong    FieldType = "long"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldDate    FieldType = "date"
	FieldEnum    FieldType = "enum"
	FieldNested  FieldType = "nested"
)

// ComplexityLevel buckets the complexity score.
type ComplexityLevel string

const (
	ComplexitySimple   ComplexityLevel = "simple"
	ComplexityModerate ComplexityLevel = "moderate"
	ComplexityComplex  ComplexityLevel = "complex"
)

// ViewMode is the recommended presentation for a result set.
type ViewMode string

const (
	ViewTable        ViewMode = "table"
	ViewTableDrawer  ViewMode = "table_drawer"
	ViewMasterDetail ViewMode = "master_detail"
)

// FieldMeta describes how one field should be presented and validated.
type FieldMeta struct {
	Name     string      `json:"name"`
	Label    string      `json:"label"`
	Type     FieldType   `json:"type"`
	Required bool        `json:"required"`
	IsArray  bool        `json:"is_array"`
	Enum     []string    `json:"enum,omitempty"`
	Pattern  string      `json:"pattern,omitempty"`
	Children []FieldMeta `json:"children,omitempty"`
}

// SchemaComplexity is derived from a data sample and never persisted.
type SchemaComplexity struct {
	Level     ComplexityLevel `json:"level"`
	Score     int             `json:"score"`
	Fields    []FieldMeta     `json:"fields"`
	HasNested bool            `json:"has_nested"`
	View      ViewMode        `json:"view"`
}

// Field looks up top-level field metadata by name.
func (s SchemaComplexity) Field(name string) (FieldMeta, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMeta{}, false
}
