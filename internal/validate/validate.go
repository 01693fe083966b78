// Package validate checks stored parameter values against schema rules.
package validate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/verte-zerg/tsbatch/internal/metrics"
	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/value"
)

const command = "validate"

// ErrValidationFailed is returned when at least one value breaks a rule.
var ErrValidationFailed = errors.New("validation unsuccessful")

// matcher selects the rows a rule applies to. Patterns match name prefixes.
type matcher struct {
	relationship bool
	class        *regexp.Regexp
	parameter    *regexp.Regexp
	entities     []*regexp.Regexp
	alternative  *regexp.Regexp
	check        *checker
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + expr + `)`)
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", expr, err)
	}
	return re, nil
}

func newMatcher(relationship bool, class, parameter string, entities []string, alternative string, rule Rule) (*matcher, error) {
	m := &matcher{relationship: relationship}
	var err error
	if m.class, err = compilePattern(class); err != nil {
		return nil, err
	}
	if m.parameter, err = compilePattern(parameter); err != nil {
		return nil, err
	}
	if m.alternative, err = compilePattern(alternative); err != nil {
		return nil, err
	}
	for _, e := range entities {
		re, err := compilePattern(e)
		if err != nil {
			return nil, err
		}
		m.entities = append(m.entities, re)
	}
	if m.check, err = newChecker(rule); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *matcher) matches(row model.ParameterValueRow) bool {
	if row.IsRelationship() != m.relationship {
		return false
	}
	if !m.class.MatchString(row.ClassName) || !m.parameter.MatchString(row.ParameterName) {
		return false
	}
	names := []string{row.EntityName}
	if m.relationship {
		names = row.ElementNames
	}
	if len(names) != len(m.entities) {
		return false
	}
	for i, re := range m.entities {
		if !re.MatchString(names[i]) {
			return false
		}
	}
	return m.alternative.MatchString(row.AlternativeName)
}

// Validator runs compiled schema rules over databases. Progress goes to Out.
type Validator struct {
	Out     io.Writer
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	objects       []*matcher
	relationships []*matcher
}

// New compiles the patterns and regexes of schema.
func New(schema Schema, out io.Writer) (*Validator, error) {
	if err := schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	v := &Validator{Out: out}
	for i, r := range schema.ObjectRules {
		m, err := newMatcher(false, r.Class, r.Parameter, []string{r.Object}, r.Alternative, *r.Rule)
		if err != nil {
			return nil, fmt.Errorf("object rule %d: %w", i+1, err)
		}
		v.objects = append(v.objects, m)
	}
	for i, r := range schema.RelationshipRules {
		m, err := newMatcher(true, r.Class, r.Parameter, r.Objects, r.Alternative, *r.Rule)
		if err != nil {
			return nil, fmt.Errorf("relationship rule %d: %w", i+1, err)
		}
		v.relationships = append(v.relationships, m)
	}
	return v, nil
}

// URLs validates every database in urls with schema and returns the
// violation messages.
func URLs(ctx context.Context, urls []string, schema Schema, out io.Writer) ([]string, error) {
	v, err := New(schema, out)
	if err != nil {
		return nil, err
	}
	return v.URLs(ctx, urls)
}

func (v *Validator) printf(format string, args ...any) {
	if v.Out == nil {
		return
	}
	_, _ = fmt.Fprintf(v.Out, format+"\n", args...)
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger == nil {
		return slog.Default()
	}
	return v.Logger
}

func (v *Validator) reportRuleCount(n int, kind string) {
	switch n {
	case 0:
		v.printf("No validation rules found for %s parameter values.", kind)
	case 1:
		v.printf("Validating a single rule for %s parameter values.", kind)
	default:
		v.printf("Validating %d rules for %s parameter values.", n, kind)
	}
}

// URLs validates each database in turn and collects the messages of all of them.
func (v *Validator) URLs(ctx context.Context, urls []string) ([]string, error) {
	v.reportRuleCount(len(v.objects), "object")
	v.reportRuleCount(len(v.relationships), "relationship")
	var all []string
	for _, url := range urls {
		v.printf("Processing database at %s", url)
		msgs, err := v.url(ctx, url)
		if err != nil {
			return all, fmt.Errorf("failed to validate %s: %w", url, err)
		}
		all = append(all, msgs...)
	}
	return all, nil
}

func (v *Validator) url(ctx context.Context, url string) ([]string, error) {
	started := time.Now()
	st, err := store.Open(url)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			v.logger().Error("failed to close db", "url", url, "error", cerr)
		}
	}()
	msgs, err := v.Database(ctx, st)
	if err != nil {
		return nil, err
	}
	v.Metrics.ObserveDatabase(command, time.Since(started))
	v.logger().Info("database validated", "url", url, "violations", len(msgs))
	return msgs, nil
}

// Database applies every rule to the matching values of st.
func (v *Validator) Database(ctx context.Context, st *store.Store) ([]string, error) {
	rows, err := st.ParameterValues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter values: %w", err)
	}
	decoded := make([]value.Value, len(rows))
	decodeErrs := make([]error, len(rows))
	decode := func(i int) (value.Value, error) {
		if decoded[i] == nil && decodeErrs[i] == nil {
			decoded[i], decodeErrs[i] = value.Parse(rows[i].Value, value.Type(rows[i].Type))
		}
		return decoded[i], decodeErrs[i]
	}

	var msgs []string
	apply := func(rules []*matcher) error {
		for i, m := range rules {
			if err := ctx.Err(); err != nil {
				return err
			}
			touched := 0
			for j, row := range rows {
				if !m.matches(row) {
					continue
				}
				touched++
				val, err := decode(j)
				var errs []string
				if err != nil {
					errs = []string{fmt.Sprintf("failed to decode value: %v", err)}
				} else {
					errs = m.check.Check(val)
				}
				if len(errs) == 0 {
					v.Metrics.Series(command, metrics.OutcomeValid)
					continue
				}
				v.Metrics.Series(command, metrics.OutcomeViolation)
				msgs = append(msgs, fmt.Sprintf("%s: %s", row.Address(), strings.Join(errs, "; ")))
			}
			v.reportTouched(touched, i, len(rules))
		}
		return nil
	}
	if err := apply(v.objects); err != nil {
		return nil, err
	}
	if err := apply(v.relationships); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (v *Validator) reportTouched(count, index, total int) {
	switch count {
	case 0:
		v.printf("Rule %d/%d: no values found to process", index+1, total)
	case 1:
		v.printf("Rule %d/%d: 1 value processed", index+1, total)
	default:
		v.printf("Rule %d/%d: %d values processed", index+1, total, count)
	}
}
