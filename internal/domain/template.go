package domain

// Transform is a closed-set named operation applied to a field's value
// during template projection.
type Transform string

const (
	TransformDigitsOnly      Transform = "digitsOnly"
	TransformBooleanYesNo    Transform = "booleanYesNo"
	TransformUpperCase       Transform = "upperCase"
	TransformLowerCase       Transform = "lowerCase"
	TransformTitleCase       Transform = "titleCase"
	TransformTrim            Transform = "trim"
	// TransformTruncate and TransformDefaultIfEmpty are parameterized; the
	// parameter is carried in FieldMapping.TruncateLen / DefaultValue rather
	// than encoded into the Transform string, since Go transforms are a
	// closed switch, not a parsed DSL.
	TransformTruncate       Transform = "truncate"
	TransformDefaultIfEmpty Transform = "defaultIfEmpty"
)

// FieldMapping projects one lead/form field into one buyer wire field.
type FieldMapping struct {
	SourceField  string            `json:"source_field"`
	TargetField  string            `json:"target_field"`
	ValueMap     map[string]string `json:"value_map,omitempty"`
	Transforms   []Transform       `json:"transforms,omitempty"`
	TruncateLen  int               `json:"truncate_len,omitempty"`
	DefaultValue string            `json:"default_value,omitempty"`
}

// Template is a named, ordered set of field mappings used to build a PING
// or POST payload for a buyer.
type Template struct {
	Name          string         `json:"name"`
	FieldMappings []FieldMapping `json:"field_mappings"`
}
