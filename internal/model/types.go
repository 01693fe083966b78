// Package model defines shared data structures.
package model

import (
	"strings"
	"time"
)

// FillConfig defines gap filling settings.
type FillConfig struct {
	Interpolation string
	Workers       int
	MetricsFile   string
	DryRun        bool
}

// ImportConfig defines where imported series are stored.
type ImportConfig struct {
	Class       string
	Parameter   string
	Alternative string
}

// ParameterValueRow is one stored parameter value with its resolved names.
type ParameterValueRow struct {
	ID              int64
	ClassName       string
	EntityName      string
	ElementNames    []string
	ParameterName   string
	AlternativeName string
	Type            string
	Value           []byte
}

// IsRelationship reports whether the value belongs to a relationship entity.
func (r ParameterValueRow) IsRelationship() bool {
	return len(r.ElementNames) > 0
}

// Address names the value the way diagnostics print it.
func (r ParameterValueRow) Address() string {
	entity := r.EntityName
	if r.IsRelationship() {
		entity = strings.Join(r.ElementNames, ",")
	}
	return strings.Join([]string{r.ClassName, r.ParameterName, entity, r.AlternativeName}, " - ")
}

// ParameterValue addresses a value to insert by names.
type ParameterValue struct {
	ClassName       string
	EntityName      string
	ParameterName   string
	AlternativeName string
	Type            string
	Value           []byte
}

// ValueUpdate replaces the stored blob of an existing value.
type ValueUpdate struct {
	ID    int64
	Type  string
	Value []byte
}

// Commit is one recorded change set.
type Commit struct {
	ID      int64
	Comment string
	Date    time.Time
}
