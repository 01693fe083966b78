package validate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Schema holds the validation rules of a schema file.
type Schema struct {
	ObjectRules       []ObjectRule       `json:"object_parameter_value" yaml:"object_parameter_value" validate:"dive"`
	RelationshipRules []RelationshipRule `json:"relationship_parameter_value" yaml:"relationship_parameter_value" validate:"dive"`
}

// ObjectRule applies Rule to object parameter values whose names match the
// patterns. Empty patterns match everything.
type ObjectRule struct {
	Class       string `json:"class" yaml:"class"`
	Parameter   string `json:"parameter" yaml:"parameter"`
	Object      string `json:"object" yaml:"object"`
	Alternative string `json:"alternative" yaml:"alternative"`
	Rule        *Rule  `json:"rule" yaml:"rule" validate:"required"`
}

// RelationshipRule applies Rule to relationship parameter values. Objects
// holds one pattern per relationship dimension.
type RelationshipRule struct {
	Class       string   `json:"class" yaml:"class"`
	Parameter   string   `json:"parameter" yaml:"parameter"`
	Objects     []string `json:"objects" yaml:"objects" validate:"required,min=1"`
	Alternative string   `json:"alternative" yaml:"alternative"`
	Rule        *Rule    `json:"rule" yaml:"rule" validate:"required"`
}

// Rule lists the checks for one value.
type Rule struct {
	Type            TypeList `json:"type" yaml:"type" validate:"omitempty,dive,valuetype"`
	Min             *float64 `json:"min" yaml:"min"`
	Max             *float64 `json:"max" yaml:"max"`
	Allowed         []any    `json:"allowed" yaml:"allowed"`
	Regex           string   `json:"regex" yaml:"regex"`
	MinLength       *int     `json:"minlength" yaml:"minlength" validate:"omitempty,min=0"`
	MaxLength       *int     `json:"maxlength" yaml:"maxlength" validate:"omitempty,min=0"`
	MinIndexes      *int     `json:"min_indexes" yaml:"min_indexes" validate:"omitempty,min=0"`
	MaxIndexes      *int     `json:"max_indexes" yaml:"max_indexes" validate:"omitempty,min=0"`
	NumberOfIndexes *int     `json:"number_of_indexes" yaml:"number_of_indexes" validate:"omitempty,min=0"`
}

var ruleKeys = map[string]bool{
	"type": true, "min": true, "max": true, "allowed": true, "regex": true,
	"minlength": true, "maxlength": true,
	"min_indexes": true, "max_indexes": true, "number_of_indexes": true,
}

// ruleKey normalizes "number of indexes" to "number_of_indexes".
func ruleKey(key string) string {
	return strings.ReplaceAll(strings.TrimSpace(key), " ", "_")
}

// UnmarshalJSON normalizes rule names and rejects unknown ones.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rule must be an object: %w", err)
	}
	norm := make(map[string]json.RawMessage, len(raw))
	for key, v := range raw {
		k := ruleKey(key)
		if !ruleKeys[k] {
			return fmt.Errorf("unknown rule %q", key)
		}
		norm[k] = v
	}
	data, err := json.Marshal(norm)
	if err != nil {
		return err
	}
	type plain Rule
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// UnmarshalYAML normalizes rule names and rejects unknown ones.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rule must be a mapping", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		k := ruleKey(key.Value)
		if !ruleKeys[k] {
			return fmt.Errorf("line %d: unknown rule %q", key.Line, key.Value)
		}
		key.Value = k
	}
	type plain Rule
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// TypeList is a type name or a list of alternatives.
type TypeList []string

// UnmarshalJSON accepts "float" as well as ["float", "string"].
func (t *TypeList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*t = TypeList{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("type must be a string or a list of strings")
	}
	*t = list
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (t *TypeList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = TypeList{node.Value}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("type must be a string or a list of strings")
	}
	*t = list
	return nil
}

var schemaValidator = newSchemaValidator()

func newSchemaValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("valuetype", func(fl validator.FieldLevel) bool {
		_, ok := typeCheckers[fl.Field().String()]
		return ok
	}); err != nil {
		panic(err)
	}
	return v
}

// LoadSchema reads a JSON schema file, or YAML for .yaml and .yml files.
func LoadSchema(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("failed to read schema: %w", err)
	}
	var schema Schema
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&schema); err != nil {
			return Schema{}, fmt.Errorf("failed to decode schema %s: %w", path, err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&schema); err != nil {
			return Schema{}, fmt.Errorf("failed to decode schema %s: %w", path, err)
		}
	}
	if err := schema.Validate(); err != nil {
		return Schema{}, fmt.Errorf("invalid schema %s: %w", path, err)
	}
	return schema, nil
}

// Validate checks the schema structure.
func (s Schema) Validate() error {
	if err := schemaValidator.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if !asValidationErrors(err, &verrs) {
			return err
		}
		msgs := make([]string, len(verrs))
		for i, fe := range verrs {
			msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = verrs
	}
	return ok
}
