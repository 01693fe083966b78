// Package gapfill runs the resampler over every eligible time series stored
// in one or more databases and writes the results back.
package gapfill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/verte-zerg/tsbatch/internal/metrics"
	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/resample"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/value"
)

const (
	// CommitMessage is recorded with every fill commit.
	CommitMessage = "Interpolated missing points in time series."
	// MinPoints is the shortest series worth resampling.
	MinPoints = 3

	command = "fill"
)

// Summary counts what happened to the values of one database.
type Summary struct {
	URL       string
	Filled    int
	Skipped   int
	Irregular int
	Malformed int
}

// Processor fills gaps using one interpolation policy.
type Processor struct {
	Policy  resample.Interpolation
	Workers int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

type outcome struct {
	kind   string
	update model.ValueUpdate
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

func (p *Processor) workers() int {
	if p.Workers <= 0 {
		return 1
	}
	return p.Workers
}

// ProcessDatabase resamples every variable resolution series with at least
// MinPoints points and returns the updates in value order. Series that
// cannot be filled are logged and skipped.
func (p *Processor) ProcessDatabase(ctx context.Context, st *store.Store) ([]model.ValueUpdate, Summary, error) {
	rows, err := st.ParameterValues(ctx)
	if err != nil {
		return nil, Summary{}, fmt.Errorf("failed to list parameter values: %w", err)
	}

	outcomes := make([]outcome, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())
	for i, row := range rows {
		if row.Type != string(value.TypeTimeSeries) {
			outcomes[i] = outcome{kind: metrics.OutcomeSkipped}
			continue
		}
		if gctx.Err() != nil {
			break
		}
		i, row := i, row
		g.Go(func() error {
			outcomes[i] = p.fillRow(row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Summary{}, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Summary{}, err
	}

	var summary Summary
	var updates []model.ValueUpdate
	for _, o := range outcomes {
		p.Metrics.Series(command, o.kind)
		switch o.kind {
		case metrics.OutcomeFilled:
			summary.Filled++
			updates = append(updates, o.update)
		case metrics.OutcomeIrregular:
			summary.Irregular++
		case metrics.OutcomeMalformed:
			summary.Malformed++
		default:
			summary.Skipped++
		}
	}
	return updates, summary, nil
}

func (p *Processor) fillRow(row model.ParameterValueRow) outcome {
	log := p.logger().With("value_id", row.ID, "address", row.Address())

	v, err := value.Parse(row.Value, value.TypeTimeSeries)
	if err != nil {
		log.Error("failed to decode time series", "error", err)
		return outcome{kind: metrics.OutcomeMalformed}
	}
	series, ok := v.(value.TimeSeriesVariable)
	if !ok || series.Len() < MinPoints {
		return outcome{kind: metrics.OutcomeSkipped}
	}

	filled, err := resample.Fill(series, p.Policy)
	switch {
	case errors.Is(err, resample.ErrNonUniformGrid):
		log.Warn("couldn't fill a time series", "error", err)
		return outcome{kind: metrics.OutcomeIrregular}
	case err != nil:
		log.Error("couldn't fill a time series", "error", err)
		return outcome{kind: metrics.OutcomeMalformed}
	}

	data, typ, err := value.Serialize(filled)
	if err != nil {
		log.Error("failed to encode filled time series", "error", err)
		return outcome{kind: metrics.OutcomeMalformed}
	}
	log.Debug("filled time series",
		"points_before", series.Len(),
		"points_after", filled.Len(),
		"resolution", value.FormatDuration(filled.Resolution))
	return outcome{
		kind:   metrics.OutcomeFilled,
		update: model.ValueUpdate{ID: row.ID, Type: string(typ), Value: data},
	}
}

// ProcessAll fills every database in urls and commits the updates, one
// commit per database. With dryRun nothing is written.
func (p *Processor) ProcessAll(ctx context.Context, urls []string, dryRun bool) ([]Summary, error) {
	summaries := make([]Summary, 0, len(urls))
	for _, url := range urls {
		summary, err := p.processURL(ctx, url, dryRun)
		if err != nil {
			return summaries, fmt.Errorf("failed to process %s: %w", url, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (p *Processor) processURL(ctx context.Context, url string, dryRun bool) (Summary, error) {
	started := time.Now()
	log := p.logger().With("url", url)
	log.Info("processing database", "interpolation", p.Policy.String())

	st, err := store.Open(url)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			log.Error("failed to close db", "error", cerr)
		}
	}()

	updates, summary, err := p.ProcessDatabase(ctx, st)
	if err != nil {
		return Summary{}, err
	}
	summary.URL = url

	switch {
	case dryRun:
		log.Info("dry run, nothing written", "updates", len(updates))
	case len(updates) == 0:
		log.Info("nothing to commit")
	default:
		err := st.Commit(ctx, CommitMessage, func(tx *store.Tx) error {
			for _, u := range updates {
				if err := tx.UpdateParameterValue(ctx, u); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return Summary{}, fmt.Errorf("failed to commit: %w", err)
		}
	}

	p.Metrics.ObserveDatabase(command, time.Since(started))
	log.Info("database done",
		"filled", summary.Filled,
		"skipped", summary.Skipped,
		"irregular", summary.Irregular,
		"malformed", summary.Malformed)
	return summary, nil
}
