package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

type envelope struct {
	Type      Type            `json:"type"`
	ValueType string          `json:"value_type,omitempty"`
	IndexType string          `json:"index_type,omitempty"`
	IndexName string          `json:"index_name,omitempty"`
	Index     *seriesIndex    `json:"index,omitempty"`
	Data      json.RawMessage `json:"data"`
}

type seriesIndex struct {
	Start      string `json:"start,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	IgnoreYear bool   `json:"ignore_year"`
	Repeat     bool   `json:"repeat"`
}

// Parse decodes a stored value blob of the given type.
func Parse(data []byte, typ Type) (Value, error) {
	switch typ {
	case TypeFloat:
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to decode float: %w", err)
		}
		return Float(f), nil
	case TypeString:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode string: %w", err)
		}
		return String(s), nil
	case TypeBool:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("failed to decode bool: %w", err)
		}
		return Bool(b), nil
	case TypeDuration, TypeDateTime, TypeArray, TypeTimeSeries, TypeTimePattern, TypeMap:
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", typ, err)
		}
		if env.Type != "" && env.Type != typ {
			return nil, fmt.Errorf("value declares type %q, expected %q", env.Type, typ)
		}
		return decodeEnvelope(typ, env)
	default:
		return nil, fmt.Errorf("%q: %w", typ, ErrUnknownType)
	}
}

func decodeEnvelope(typ Type, env envelope) (Value, error) {
	switch typ {
	case TypeDuration:
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode duration: %w", err)
		}
		d, err := ParseDuration(s)
		if err != nil {
			return nil, err
		}
		return Duration(d), nil
	case TypeDateTime:
		var s string
		if err := json.Unmarshal(env.Data, &s); err != nil {
			return nil, fmt.Errorf("failed to decode date_time: %w", err)
		}
		t, err := ParseStamp(s)
		if err != nil {
			return nil, err
		}
		return DateTime(t), nil
	case TypeArray:
		var values []float64
		if err := json.Unmarshal(env.Data, &values); err != nil {
			return nil, fmt.Errorf("failed to decode array: %w", err)
		}
		return Array{Values: values, IndexName: env.IndexName}, nil
	case TypeTimeSeries:
		return decodeTimeSeries(env)
	case TypeTimePattern:
		keys, raws, err := decodePairs(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode time_pattern: %w", err)
		}
		values, err := decodeFloats(raws)
		if err != nil {
			return nil, fmt.Errorf("failed to decode time_pattern: %w", err)
		}
		return TimePattern{Patterns: keys, Values: values, IndexName: env.IndexName}, nil
	case TypeMap:
		keys, raws, err := decodePairs(env.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode map: %w", err)
		}
		values := make([]Value, len(raws))
		for i, raw := range raws {
			v, err := decodeNested(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode map value %q: %w", keys[i], err)
			}
			values[i] = v
		}
		indexType := env.IndexType
		if indexType == "" {
			indexType = "str"
		}
		return Map{IndexType: indexType, Indexes: keys, Values: values, IndexName: env.IndexName}, nil
	}
	return nil, fmt.Errorf("%q: %w", typ, ErrUnknownType)
}

func decodeTimeSeries(env envelope) (Value, error) {
	index := seriesIndex{}
	if env.Index != nil {
		index = *env.Index
	}
	if index.Start != "" || index.Resolution != "" {
		if index.Start == "" || index.Resolution == "" {
			return nil, fmt.Errorf("fixed resolution time series needs both start and resolution")
		}
		start, err := ParseStamp(index.Start)
		if err != nil {
			return nil, err
		}
		resolution, err := ParseDuration(index.Resolution)
		if err != nil {
			return nil, err
		}
		var values []float64
		if err := json.Unmarshal(env.Data, &values); err != nil {
			return nil, fmt.Errorf("failed to decode time_series: %w", err)
		}
		return TimeSeriesFixed{
			Start:      start,
			Resolution: resolution,
			Values:     values,
			IgnoreYear: index.IgnoreYear,
			Repeat:     index.Repeat,
			IndexName:  env.IndexName,
		}, nil
	}

	keys, raws, err := decodePairs(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode time_series: %w", err)
	}
	values, err := decodeFloats(raws)
	if err != nil {
		return nil, fmt.Errorf("failed to decode time_series: %w", err)
	}
	stamps := make([]time.Time, len(keys))
	for i, key := range keys {
		t, err := ParseStamp(key)
		if err != nil {
			return nil, err
		}
		stamps[i] = t
	}
	if isObject(env.Data) {
		sortByStamp(stamps, values)
	}
	return TimeSeriesVariable{
		Stamps:     stamps,
		Values:     values,
		IgnoreYear: index.IgnoreYear,
		Repeat:     index.Repeat,
		IndexName:  env.IndexName,
	}, nil
}

// decodePairs accepts [[key, value], ...] or {"key": value, ...}.
func decodePairs(data json.RawMessage) ([]string, []json.RawMessage, error) {
	if isObject(data) {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, nil, err
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		raws := make([]json.RawMessage, len(keys))
		for i, k := range keys {
			raws[i] = obj[k]
		}
		return keys, raws, nil
	}
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, nil, err
	}
	keys := make([]string, len(pairs))
	raws := make([]json.RawMessage, len(pairs))
	for i, pair := range pairs {
		var key any
		if err := json.Unmarshal(pair[0], &key); err != nil {
			return nil, nil, err
		}
		keys[i] = fmt.Sprint(key)
		raws[i] = pair[1]
	}
	return keys, raws, nil
}

func decodeFloats(raws []json.RawMessage) ([]float64, error) {
	values := make([]float64, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &values[i]); err != nil {
			return nil, err
		}
	}
	return values, nil
}

func decodeNested(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty value")
	}
	switch trimmed[0] {
	case '{':
		var head struct {
			Type Type `json:"type"`
		}
		if err := json.Unmarshal(trimmed, &head); err != nil {
			return nil, err
		}
		return Parse(trimmed, head.Type)
	case '"':
		return Parse(trimmed, TypeString)
	case 't', 'f':
		return Parse(trimmed, TypeBool)
	default:
		return Parse(trimmed, TypeFloat)
	}
}

func isObject(data json.RawMessage) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func sortByStamp(stamps []time.Time, values []float64) {
	idx := make([]int, len(stamps))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return stamps[idx[a]].Before(stamps[idx[b]]) })
	s := make([]time.Time, len(stamps))
	v := make([]float64, len(values))
	for i, j := range idx {
		s[i] = stamps[j]
		v[i] = values[j]
	}
	copy(stamps, s)
	copy(values, v)
}

// Serialize encodes v into a stored blob and its type name.
func Serialize(v Value) ([]byte, Type, error) {
	data, err := encode(v)
	if err != nil {
		return nil, "", err
	}
	return data, v.Type(), nil
}

func encode(v Value) (json.RawMessage, error) {
	switch x := v.(type) {
	case Float:
		return json.Marshal(float64(x))
	case String:
		return json.Marshal(string(x))
	case Bool:
		return json.Marshal(bool(x))
	case Duration:
		return encodeEnvelope(envelope{Type: TypeDuration}, FormatDuration(time.Duration(x)))
	case DateTime:
		return encodeEnvelope(envelope{Type: TypeDateTime}, FormatStamp(time.Time(x)))
	case Array:
		return encodeEnvelope(envelope{Type: TypeArray, ValueType: "float", IndexName: x.IndexName}, nonNil(x.Values))
	case TimeSeriesFixed:
		index := &seriesIndex{
			Start:      FormatStamp(x.Start),
			Resolution: FormatDuration(x.Resolution),
			IgnoreYear: x.IgnoreYear,
			Repeat:     x.Repeat,
		}
		return encodeEnvelope(envelope{Type: TypeTimeSeries, Index: index, IndexName: x.IndexName}, nonNil(x.Values))
	case TimeSeriesVariable:
		if len(x.Stamps) != len(x.Values) {
			return nil, fmt.Errorf("time series has %d stamps but %d values", len(x.Stamps), len(x.Values))
		}
		pairs := make([][2]any, len(x.Values))
		for i := range x.Values {
			pairs[i] = [2]any{FormatStamp(x.Stamps[i]), x.Values[i]}
		}
		index := &seriesIndex{IgnoreYear: x.IgnoreYear, Repeat: x.Repeat}
		return encodeEnvelope(envelope{Type: TypeTimeSeries, Index: index, IndexName: x.IndexName}, pairs)
	case TimePattern:
		if len(x.Patterns) != len(x.Values) {
			return nil, fmt.Errorf("time pattern has %d patterns but %d values", len(x.Patterns), len(x.Values))
		}
		pairs := make([][2]any, len(x.Values))
		for i := range x.Values {
			pairs[i] = [2]any{x.Patterns[i], x.Values[i]}
		}
		return encodeEnvelope(envelope{Type: TypeTimePattern, IndexName: x.IndexName}, pairs)
	case Map:
		if len(x.Indexes) != len(x.Values) {
			return nil, fmt.Errorf("map has %d indexes but %d values", len(x.Indexes), len(x.Values))
		}
		pairs := make([][2]any, len(x.Values))
		for i, inner := range x.Values {
			raw, err := encode(inner)
			if err != nil {
				return nil, err
			}
			pairs[i] = [2]any{x.Indexes[i], raw}
		}
		indexType := x.IndexType
		if indexType == "" {
			indexType = "str"
		}
		return encodeEnvelope(envelope{Type: TypeMap, IndexType: indexType, IndexName: x.IndexName}, pairs)
	}
	return nil, fmt.Errorf("%T: %w", v, ErrUnknownType)
}

func encodeEnvelope(env envelope, data any) (json.RawMessage, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	env.Data = raw
	return json.Marshal(env)
}

func nonNil(values []float64) []float64 {
	if values == nil {
		return []float64{}
	}
	return values
}
