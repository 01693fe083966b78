package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verte-zerg/tsbatch/internal/metrics"
	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/value"
)

func openStore(t *testing.T) (*store.Store, string) {
	t.Helper()
	url := filepath.Join(t.TempDir(), "db.sqlite")
	st, err := store.Open(url)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, url
}

func addObjectValue(t *testing.T, st *store.Store, v value.Value) {
	t.Helper()
	ctx := context.Background()
	data, typ, err := value.Serialize(v)
	require.NoError(t, err)
	err = st.Commit(ctx, "object", func(tx *store.Tx) error {
		if _, err := tx.AddEntityClass(ctx, "o_class", nil); err != nil {
			return err
		}
		if _, err := tx.AddParameterDefinition(ctx, "o_class", "param"); err != nil {
			return err
		}
		if _, err := tx.AddEntity(ctx, "o_class", "obj", nil); err != nil {
			return err
		}
		if _, err := tx.AddAlternative(ctx, "Base"); err != nil {
			return err
		}
		_, err := tx.SetParameterValue(ctx, model.ParameterValue{
			ClassName: "o_class", EntityName: "obj", ParameterName: "param", AlternativeName: "Base",
			Type: string(typ), Value: data,
		})
		return err
	})
	require.NoError(t, err)
}

func addRelationshipValue(t *testing.T, st *store.Store, v value.Value) {
	t.Helper()
	ctx := context.Background()
	data, typ, err := value.Serialize(v)
	require.NoError(t, err)
	err = st.Commit(ctx, "relationship", func(tx *store.Tx) error {
		steps := []func() (bool, error){
			func() (bool, error) { return tx.AddEntityClass(ctx, "o_class", nil) },
			func() (bool, error) { return tx.AddEntityClass(ctx, "p_class", nil) },
			func() (bool, error) { return tx.AddEntity(ctx, "o_class", "o_obj", nil) },
			func() (bool, error) { return tx.AddEntity(ctx, "p_class", "p_obj", nil) },
			func() (bool, error) { return tx.AddEntityClass(ctx, "r_ship", []string{"o_class", "p_class"}) },
			func() (bool, error) { return tx.AddEntity(ctx, "r_ship", "o_obj__p_obj", []string{"o_obj", "p_obj"}) },
			func() (bool, error) { return tx.AddParameterDefinition(ctx, "r_ship", "param") },
			func() (bool, error) { return tx.AddAlternative(ctx, "Base") },
		}
		for _, step := range steps {
			if _, err := step(); err != nil {
				return err
			}
		}
		_, err := tx.SetParameterValue(ctx, model.ParameterValue{
			ClassName: "r_ship", EntityName: "o_obj__p_obj", ParameterName: "param", AlternativeName: "Base",
			Type: string(typ), Value: data,
		})
		return err
	})
	require.NoError(t, err)
}

func floatPtr(f float64) *float64 { return &f }

func intPtr(n int) *int { return &n }

func validateDB(t *testing.T, st *store.Store, schema Schema) []string {
	t.Helper()
	v, err := New(schema, nil)
	require.NoError(t, err)
	msgs, err := v.Database(context.Background(), st)
	require.NoError(t, err)
	return msgs
}

func TestEmptyDatabaseAndEmptySchema(t *testing.T) {
	st, _ := openStore(t)
	assert.Empty(t, validateDB(t, st, Schema{}))
}

func TestObjectValuePasses(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(23))
	schema := Schema{ObjectRules: []ObjectRule{{
		Class: "o_class", Parameter: "param", Object: "obj", Alternative: "Base",
		Rule: &Rule{Type: TypeList{"number"}, Min: floatPtr(0), Max: floatPtr(50)},
	}}}
	assert.Empty(t, validateDB(t, st, schema))
}

func TestObjectValueFailsMax(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(23))
	schema := Schema{ObjectRules: []ObjectRule{{
		Class: "o_class", Parameter: "param", Object: "obj", Alternative: "Base",
		Rule: &Rule{Max: floatPtr(0)},
	}}}
	assert.Equal(t, []string{"o_class - param - obj - Base: max value is 0.0"}, validateDB(t, st, schema))
}

func TestRelationshipValuePasses(t *testing.T) {
	st, _ := openStore(t)
	addRelationshipValue(t, st, value.Float(23))
	schema := Schema{RelationshipRules: []RelationshipRule{{
		Class: "r_ship", Parameter: "param", Objects: []string{"o_obj", "p_obj"}, Alternative: "Base",
		Rule: &Rule{Type: TypeList{"number"}, Min: floatPtr(0), Max: floatPtr(50)},
	}}}
	assert.Empty(t, validateDB(t, st, schema))
}

func TestRelationshipValueFailsTypeCheck(t *testing.T) {
	st, _ := openStore(t)
	addRelationshipValue(t, st, value.Float(23.5))
	schema := Schema{RelationshipRules: []RelationshipRule{{
		Class: "r_ship", Parameter: "param", Objects: []string{"o_obj", "p_obj"}, Alternative: "Base",
		Rule: &Rule{Type: TypeList{"integer"}, Max: floatPtr(0)},
	}}}
	assert.Equal(t, []string{"r_ship - param - o_obj,p_obj - Base: must be of integer type"}, validateDB(t, st, schema))
}

func TestIntegerTypeAcceptsWholeNumbers(t *testing.T) {
	st, _ := openStore(t)
	addRelationshipValue(t, st, value.Float(23))
	schema := Schema{RelationshipRules: []RelationshipRule{{
		Class: "r_ship", Parameter: "param", Objects: []string{"o_obj", "p_obj"}, Alternative: "Base",
		Rule: &Rule{Type: TypeList{"integer"}, Min: floatPtr(0)},
	}}}
	assert.Empty(t, validateDB(t, st, schema))

	c, err := newChecker(Rule{Type: TypeList{"integer"}})
	require.NoError(t, err)
	assert.Empty(t, c.Check(value.Float(-4)))
	assert.Equal(t, []string{"must be of integer type"}, c.Check(value.Float(0.5)))
	assert.Equal(t, []string{"must be of integer type"}, c.Check(value.String("5")))
}

func TestRelationshipPatternNeedsMatchingDimensions(t *testing.T) {
	st, _ := openStore(t)
	addRelationshipValue(t, st, value.Float(23))
	var out bytes.Buffer
	v, err := New(Schema{RelationshipRules: []RelationshipRule{{
		Objects: []string{"o_obj"},
		Rule:    &Rule{Max: floatPtr(0)},
	}}}, &out)
	require.NoError(t, err)
	msgs, err := v.Database(context.Background(), st)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Contains(t, out.String(), "Rule 1/1: no values found to process")
}

func TestAdditionalTypesFail(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(23))
	for _, typ := range []string{"array", "datetime", "duration", "map", "time pattern", "time series"} {
		t.Run(typ, func(t *testing.T) {
			schema := Schema{ObjectRules: []ObjectRule{{Rule: &Rule{Type: TypeList{typ}}}}}
			assert.Equal(t, []string{"o_class - param - obj - Base: must be of " + typ + " type"}, validateDB(t, st, schema))
		})
	}
}

func TestNumberOfIndexes(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(23))
	schema := Schema{ObjectRules: []ObjectRule{{Rule: &Rule{NumberOfIndexes: intPtr(2)}}}}
	assert.Equal(t, []string{"o_class - param - obj - Base: must have index count of 2"}, validateDB(t, st, schema))
}

func TestPatternsMatchPrefixes(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(23))
	var out bytes.Buffer
	v, err := New(Schema{ObjectRules: []ObjectRule{
		{Class: "o_", Object: "ob", Rule: &Rule{Max: floatPtr(0)}},
		{Class: "class", Rule: &Rule{Max: floatPtr(0)}},
	}}, &out)
	require.NoError(t, err)
	msgs, err := v.Database(context.Background(), st)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Contains(t, out.String(), "Rule 1/2: 1 value processed")
	assert.Contains(t, out.String(), "Rule 2/2: no values found to process")
}

func TestCheckIndexedValues(t *testing.T) {
	base := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	series := value.TimeSeriesFixed{Start: base, Resolution: time.Hour, Values: []float64{1, 5, 9}}
	nested := value.Map{IndexType: "str", Indexes: []string{"a"}, Values: []value.Value{
		value.Map{IndexType: "str", Indexes: []string{"x", "y"}, Values: []value.Value{value.Float(1), value.Float(2)}},
	}}

	c, err := newChecker(Rule{Min: floatPtr(2), Max: floatPtr(8), MaxLength: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, []string{"min value is 2.0", "max value is 8.0", "max length is 2"}, c.Check(series))

	c, err = newChecker(Rule{Type: TypeList{"map"}, MinIndexes: intPtr(3), MaxIndexes: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, []string{"must have index count > 3", "must have index count < 1"}, c.Check(nested))

	c, err = newChecker(Rule{Type: TypeList{"time series", "array"}})
	require.NoError(t, err)
	assert.Empty(t, c.Check(series))
	assert.Equal(t, []string{"must be of time series or array type"}, c.Check(nested))
}

func TestCheckScalars(t *testing.T) {
	c, err := newChecker(Rule{Regex: "[a-z]+", MinLength: intPtr(4), Allowed: []any{"abc", "wxyz"}})
	require.NoError(t, err)
	assert.Empty(t, c.Check(value.String("wxyz")))
	assert.Equal(t, []string{"unallowed value ab1", "value does not match regex '[a-z]+'", "min length is 4"}, c.Check(value.String("ab1")))

	c, err = newChecker(Rule{Allowed: []any{1, 2.5}})
	require.NoError(t, err)
	assert.Empty(t, c.Check(value.Float(1)))
	assert.Equal(t, []string{"unallowed value 3.5"}, c.Check(value.Float(3.5)))

	c, err = newChecker(Rule{Allowed: []any{"1h"}, Type: TypeList{"duration"}})
	require.NoError(t, err)
	assert.Empty(t, c.Check(value.Duration(time.Hour)))
	assert.Equal(t, []string{"unallowed value 30m"}, c.Check(value.Duration(30*time.Minute)))

	_, err = newChecker(Rule{Regex: "("})
	assert.Error(t, err)
}

func TestUndecodableValueIsReported(t *testing.T) {
	st, _ := openStore(t)
	addObjectValue(t, st, value.Float(1))
	ctx := context.Background()
	require.NoError(t, st.Commit(ctx, "broken", func(tx *store.Tx) error {
		if _, err := tx.AddEntity(ctx, "o_class", "broken", nil); err != nil {
			return err
		}
		_, err := tx.SetParameterValue(ctx, model.ParameterValue{
			ClassName: "o_class", EntityName: "broken", ParameterName: "param", AlternativeName: "Base",
			Type: "map", Value: []byte("{"),
		})
		return err
	}))
	msgs := validateDB(t, st, Schema{ObjectRules: []ObjectRule{{Rule: &Rule{}}}})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "o_class - param - broken - Base: failed to decode value")
}

func TestURLsReportsProgress(t *testing.T) {
	st, url := openStore(t)
	addObjectValue(t, st, value.Float(23))
	require.NoError(t, st.Close())

	var out bytes.Buffer
	m := metrics.New()
	v, err := New(Schema{ObjectRules: []ObjectRule{{Rule: &Rule{Max: floatPtr(10)}}}}, &out)
	require.NoError(t, err)
	v.Metrics = m
	msgs, err := v.URLs(context.Background(), []string{url})
	require.NoError(t, err)
	assert.Equal(t, []string{"o_class - param - obj - Base: max value is 10.0"}, msgs)
	assert.Equal(t, "Validating a single rule for object parameter values.\n"+
		"No validation rules found for relationship parameter values.\n"+
		"Processing database at "+url+"\n"+
		"Rule 1/1: 1 value processed\n", out.String())
	assert.Equal(t, 1.0, m.Count("validate", metrics.OutcomeViolation))
}

func TestLoadSchemaJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.json")
	doc := map[string]any{
		"object_parameter_value": []any{
			map[string]any{"class": "unit", "rule": map[string]any{"type": "number", "min": 0, "number of indexes": 0}},
		},
		"relationship_parameter_value": []any{
			map[string]any{"objects": []string{"u", "n"}, "rule": map[string]any{"type": []string{"float", "time series"}}},
		},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	schema, err := LoadSchema(path)
	require.NoError(t, err)
	require.Len(t, schema.ObjectRules, 1)
	rule := schema.ObjectRules[0].Rule
	assert.Equal(t, TypeList{"number"}, rule.Type)
	require.NotNil(t, rule.NumberOfIndexes)
	assert.Equal(t, 0, *rule.NumberOfIndexes)
	assert.Equal(t, TypeList{"float", "time series"}, schema.RelationshipRules[0].Rule.Type)
}

func TestLoadSchemaYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.yaml")
	content := `
object_parameter_value:
  - class: unit
    parameter: capacity
    rule:
      type: [float]
      max: 100
      max indexes: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	schema, err := LoadSchema(path)
	require.NoError(t, err)
	rule := schema.ObjectRules[0].Rule
	require.NotNil(t, rule.Max)
	assert.Equal(t, 100.0, *rule.Max)
	require.NotNil(t, rule.MaxIndexes)
	assert.Equal(t, 1, *rule.MaxIndexes)
}

func TestLoadSchemaRejectsBadSchemas(t *testing.T) {
	cases := map[string]string{
		"unknown type":     `{"object_parameter_value": [{"rule": {"type": "decimal"}}]}`,
		"unknown rule":     `{"object_parameter_value": [{"rule": {"nullable": true}}]}`,
		"missing rule":     `{"object_parameter_value": [{"class": "unit"}]}`,
		"missing objects":  `{"relationship_parameter_value": [{"rule": {}}]}`,
		"negative indexes": `{"object_parameter_value": [{"rule": {"min_indexes": -1}}]}`,
		"unknown section":  `{"entity_value": []}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "schema.json")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
			_, err := LoadSchema(path)
			assert.Error(t, err)
		})
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	_, err := New(Schema{ObjectRules: []ObjectRule{{Class: "(", Rule: &Rule{}}}}, nil)
	assert.Error(t, err)
}
