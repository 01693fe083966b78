// Package importer loads wide time series tables from CSV and XLSX files
// into a parameter value store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/value"
)

// CommitMessage is recorded with every import commit.
const CommitMessage = "Imported time series."

// Result counts what an import created.
type Result struct {
	Tables  int
	Skipped int
	Objects int
	Values  int
}

// Importer writes every entity column as a value of Parameter under
// Alternative, creating the class, parameter, alternative and objects.
type Importer struct {
	model.ImportConfig
	Logger *slog.Logger
}

func (im *Importer) logger() *slog.Logger {
	if im.Logger == nil {
		return slog.Default()
	}
	return im.Logger
}

// ImportFiles reads every file and stores all valid tables in one commit.
// Invalid tables are logged and skipped. Unreadable files abort the import.
func (im *Importer) ImportFiles(ctx context.Context, st *store.Store, files []string) (Result, error) {
	if im.Class == "" || im.Parameter == "" || im.Alternative == "" {
		return Result{}, fmt.Errorf("class, parameter and alternative are required")
	}
	var result Result
	var all []Series
	for _, path := range files {
		tables, err := ReadFile(path)
		if err != nil {
			return Result{}, err
		}
		for _, table := range tables {
			series, err := table.Series()
			if errors.Is(err, ErrInvalidTable) {
				im.logger().Warn("skipping table", "table", table.Name, "error", err)
				result.Skipped++
				continue
			}
			if err != nil {
				return Result{}, err
			}
			result.Tables++
			all = append(all, series...)
		}
	}
	if len(all) == 0 {
		im.logger().Info("nothing to import", "files", len(files))
		return result, nil
	}

	err := st.Commit(ctx, CommitMessage, func(tx *store.Tx) error {
		if _, err := tx.AddEntityClass(ctx, im.Class, nil); err != nil {
			return fmt.Errorf("failed to add class: %w", err)
		}
		if _, err := tx.AddParameterDefinition(ctx, im.Class, im.Parameter); err != nil {
			return fmt.Errorf("failed to add parameter: %w", err)
		}
		if _, err := tx.AddAlternative(ctx, im.Alternative); err != nil {
			return fmt.Errorf("failed to add alternative: %w", err)
		}
		for _, s := range all {
			created, err := tx.AddEntity(ctx, im.Class, s.Entity, nil)
			if err != nil {
				return fmt.Errorf("failed to add object %q: %w", s.Entity, err)
			}
			if created {
				result.Objects++
			}
			data, typ, err := value.Serialize(s.Value)
			if err != nil {
				return fmt.Errorf("failed to encode %q: %w", s.Entity, err)
			}
			if _, err := tx.SetParameterValue(ctx, model.ParameterValue{
				ClassName:       im.Class,
				EntityName:      s.Entity,
				ParameterName:   im.Parameter,
				AlternativeName: im.Alternative,
				Type:            string(typ),
				Value:           data,
			}); err != nil {
				return fmt.Errorf("failed to store %q: %w", s.Entity, err)
			}
			result.Values++
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	im.logger().Info("imported time series",
		"tables", result.Tables,
		"skipped", result.Skipped,
		"objects", result.Objects,
		"values", result.Values)
	return result, nil
}
