package model

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StageKey identifies a pipeline position.
type StageKey string

// Pipeline stages, in visiting order.
const (
	StageSource      StageKey = "source"
	StageTransform   StageKey = "transform"
	StageDestination StageKey = "destination"
)

// StageOrder is the fixed order in which stages are configured.
var StageOrder = []StageKey{StageSource, StageTransform, StageDestination}

// Index returns the pipeline position of k, or -1 if k is not a stage.
func (k StageKey) Index() int {
	for i, s := range StageOrder {
		if s == k {
			return i
		}
	}
	return -1
}

// Next returns the stage that follows k. The second return value is false
// when k is the destination stage or not a stage at all.
func (k StageKey) Next() (StageKey, bool) {
	i := k.Index()
	if i < 0 || i+1 >= len(StageOrder) {
		return "", false
	}
	return StageOrder[i+1], true
}

// FieldKind is the input modality of a configuration field.
type FieldKind string

// Supported field kinds.
const (
	FieldText        FieldKind = "text"
	FieldPassword    FieldKind = "password"
	FieldSelect      FieldKind = "select"
	FieldMultiSelect FieldKind = "multiselect"
	FieldBoolean     FieldKind = "boolean"
	FieldOAuth       FieldKind = "oauth"
	FieldFile        FieldKind = "file"
)

var validFieldKinds = map[FieldKind]bool{
	FieldText: true, FieldPassword: true, FieldSelect: true, FieldMultiSelect: true,
	FieldBoolean: true, FieldOAuth: true, FieldFile: true,
}

// Valid reports whether k is a known field kind.
func (k FieldKind) Valid() bool {
	return validFieldKinds[k]
}

// HasChoices reports whether fields of this kind declare an options list.
func (k FieldKind) HasChoices() bool {
	return k == FieldSelect || k == FieldMultiSelect
}

// FieldSchema describes one configuration field of a stage.
type FieldSchema struct {
	// Key is taken from the mapping key in YAML.
	Key         string    `yaml:"-"                     json:"key"`
	Label       string    `yaml:"label"                 json:"label"`
	Kind        FieldKind `yaml:"type"                  json:"type"`
	Placeholder string    `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
	Required    bool      `yaml:"required"              json:"required"`
	Description string    `yaml:"description"           json:"description"`
	Options     []string  `yaml:"options,omitempty"     json:"options,omitempty"`
}

// Fields is an ordered mapping of field key to schema. Decoding from a YAML
// mapping keeps the declared key order.
type Fields []FieldSchema

// Get returns the schema for key.
func (f Fields) Get(key string) (FieldSchema, bool) {
	for _, field := range f {
		if field.Key == key {
			return field, true
		}
	}
	return FieldSchema{}, false
}

// Keys returns the field keys in declared order.
func (f Fields) Keys() []string {
	keys := make([]string, len(f))
	for i, field := range f {
		keys[i] = field.Key
	}
	return keys
}

// UnmarshalYAML decodes a mapping node, preserving key order.
func (f *Fields) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fields must be a mapping", node.Line)
	}
	out := make(Fields, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var field FieldSchema
		if err := node.Content[i+1].Decode(&field); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		field.Key = key
		out = append(out, field)
	}
	*f = out
	return nil
}

// Stage is one pipeline position of a template.
type Stage struct {
	Type   string `yaml:"type"   json:"type"`
	Name   string `yaml:"name"   json:"name"`
	Icon   string `yaml:"icon"   json:"icon"`
	Fields Fields `yaml:"fields" json:"fields"`
}

// RequiredKeys returns the keys of required fields in declared order.
func (s Stage) RequiredKeys() []string {
	var keys []string
	for _, field := range s.Fields {
		if field.Required {
			keys = append(keys, field.Key)
		}
	}
	return keys
}

// Summary returns the stage without its field schemas.
func (s Stage) Summary() StageSummary {
	return StageSummary{Type: s.Type, Name: s.Name, Icon: s.Icon}
}

// Template is a predefined source, transform, and destination combination.
type Template struct {
	ID          string `yaml:"id"          json:"id"`
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description"`
	Source      Stage  `yaml:"source"      json:"source"`
	Transform   Stage  `yaml:"transform"   json:"transform"`
	Destination Stage  `yaml:"destination" json:"destination"`
}

// Stage returns the stage at position k.
func (t Template) Stage(k StageKey) (Stage, bool) {
	switch k {
	case StageSource:
		return t.Source, true
	case StageTransform:
		return t.Transform, true
	case StageDestination:
		return t.Destination, true
	default:
		return Stage{}, false
	}
}

// Summary returns the template identity without stages.
func (t Template) Summary() TemplateSummary {
	return TemplateSummary{ID: t.ID, Name: t.Name, Description: t.Description}
}

// Listing returns the catalog-browsing view of the template.
func (t Template) Listing() TemplateListing {
	return TemplateListing{
		TemplateSummary: t.Summary(),
		Source:          t.Source.Summary(),
		Transform:       t.Transform.Summary(),
		Destination:     t.Destination.Summary(),
	}
}

// TemplateSummary identifies a template.
type TemplateSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// StageSummary describes a stage without its fields.
type StageSummary struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// TemplateListing is a template with field schemas omitted.
type TemplateListing struct {
	TemplateSummary
	Source      StageSummary `json:"source"`
	Transform   StageSummary `json:"transform"`
	Destination StageSummary `json:"destination"`
}
