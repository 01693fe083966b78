// Package main provides the CLI entrypoint for tsbatch.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/verte-zerg/tsbatch/internal/config"
	"github.com/verte-zerg/tsbatch/internal/gapfill"
	"github.com/verte-zerg/tsbatch/internal/importer"
	"github.com/verte-zerg/tsbatch/internal/logging"
	"github.com/verte-zerg/tsbatch/internal/metrics"
	"github.com/verte-zerg/tsbatch/internal/model"
	"github.com/verte-zerg/tsbatch/internal/report"
	"github.com/verte-zerg/tsbatch/internal/resample"
	"github.com/verte-zerg/tsbatch/internal/store"
	"github.com/verte-zerg/tsbatch/internal/validate"
	"github.com/verte-zerg/tsbatch/internal/value"
)

const (
	defaultLogLevel      = "info"
	defaultLogFormat     = logging.FormatAuto
	defaultInterpolation = "linear"
	defaultWorkers       = 4
	defaultAlternative   = "Base"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	fillInterpolation string
	fillWorkers       int
	fillMetricsFile   string
	fillDryRun        bool

	validateMetricsFile string

	importClass       string
	importParameter   string
	importAlternative string

	listWidth int

	plotClass         string
	plotEntity        string
	plotParameter     string
	plotAlternative   string
	plotInterpolation string
	plotWidth         int
	plotHeight        int

	fileCfg config.FileConfig
	logger  *slog.Logger
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F")).Bold(true)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "tsbatch",
		Short:             "Batch time series tools for parameter value databases",
		SilenceUsage:      true,
		SilenceErrors:     false,
		PersistentPreRunE: setup,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", defaultLogFormat, "log format (auto, text, json)")

	rootCmd.AddCommand(newFillCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newImportCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newPlotCmd())
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func setup(cmd *cobra.Command, _ []string) error {
	var err error
	fileCfg, err = config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)
	applyStringConfig(cmd, "log-format", &logFormat, fileCfg.Log.Format)

	base, err := logging.New(cmd.ErrOrStderr(), logLevel, logFormat)
	if err != nil {
		return err
	}
	logger = base.With("run_id", uuid.NewString(), "command", cmd.Name())
	return nil
}

func newFillCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fill URL...",
		Short: "Resample gappy time series to a fixed resolution",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFillCmd,
	}
	cmd.Flags().StringVar(&fillInterpolation, "interpolation", defaultInterpolation,
		"gap interpolation ("+strings.Join(resample.Interpolations(), ", ")+")")
	cmd.Flags().IntVar(&fillWorkers, "workers", defaultWorkers, "series resampled in parallel")
	cmd.Flags().StringVar(&fillMetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	cmd.Flags().BoolVar(&fillDryRun, "dry-run", false, "resample without writing to the databases")
	return cmd
}

func runFillCmd(cmd *cobra.Command, urls []string) error {
	applyStringConfig(cmd, "interpolation", &fillInterpolation, fileCfg.Fill.Interpolation)
	applyIntConfig(cmd, "workers", &fillWorkers, fileCfg.Fill.Workers)
	applyStringConfig(cmd, "metrics-file", &fillMetricsFile, fileCfg.Fill.MetricsFile)

	cfg := model.FillConfig{
		Interpolation: fillInterpolation,
		Workers:       fillWorkers,
		MetricsFile:   fillMetricsFile,
		DryRun:        fillDryRun,
	}
	policy, err := validateFillConfig(cfg)
	if err != nil {
		return err
	}

	m := metrics.New()
	defer writeMetrics(m, cfg.MetricsFile)

	p := &gapfill.Processor{
		Policy:  policy,
		Workers: cfg.Workers,
		Logger:  logger,
		Metrics: m,
	}
	summaries, err := p.ProcessAll(cmd.Context(), urls, cfg.DryRun)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(summaries))
	for _, s := range summaries {
		rows = append(rows, []string{s.URL, fmt.Sprint(s.Filled), fmt.Sprint(s.Irregular), fmt.Sprint(s.Malformed), fmt.Sprint(s.Skipped)})
	}
	lines := report.FormatTable([]string{"Database", "Filled", "Irregular", "Malformed", "Skipped"}, rows,
		map[int]bool{1: true, 2: true, 3: true, 4: true})
	for _, line := range lines {
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate SCHEMA URL...",
		Short: "Check parameter values against a validation schema",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runValidateCmd,
	}
	cmd.Flags().StringVar(&validateMetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

func runValidateCmd(cmd *cobra.Command, args []string) error {
	schema, err := validate.LoadSchema(args[0])
	if err != nil {
		return err
	}
	v, err := validate.New(schema, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	m := metrics.New()
	defer writeMetrics(m, validateMetricsFile)
	v.Logger = logger
	v.Metrics = m

	msgs, err := v.URLs(cmd.Context(), args[1:])
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if _, err := fmt.Fprintf(cmd.ErrOrStderr(), "    %s\n", msg); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
	}
	if len(msgs) > 0 {
		printStatus(cmd.OutOrStdout(), false, "Validation unsuccessful.")
		return validate.ErrValidationFailed
	}
	printStatus(cmd.OutOrStdout(), true, "Validation successful.")
	return nil
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import URL FILE...",
		Short: "Import time series tables from CSV or XLSX files",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runImportCmd,
	}
	cmd.Flags().StringVar(&importClass, "class", "", "object class of the imported columns")
	cmd.Flags().StringVar(&importParameter, "parameter", "", "parameter the series are stored under")
	cmd.Flags().StringVar(&importAlternative, "alternative", defaultAlternative, "alternative the series are stored under")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("parameter")
	return cmd
}

func runImportCmd(cmd *cobra.Command, args []string) error {
	applyStringConfig(cmd, "alternative", &importAlternative, fileCfg.Import.Alternative)

	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()

	im := &importer.Importer{
		ImportConfig: model.ImportConfig{
			Class:       importClass,
			Parameter:   importParameter,
			Alternative: importAlternative,
		},
		Logger: logger,
	}
	result, err := im.ImportFiles(cmd.Context(), st, args[1:])
	if err != nil {
		return fmt.Errorf("failed to import: %w", err)
	}
	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "Imported %d values (%d new objects) from %d tables.\n",
		result.Values, result.Objects, result.Tables); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list URL",
		Short: "List stored parameter values",
		Args:  cobra.ExactArgs(1),
		RunE:  runListCmd,
	}
	cmd.Flags().IntVar(&listWidth, "width", 0, "cut lines at this width (default: terminal width)")
	return cmd
}

func runListCmd(cmd *cobra.Command, args []string) error {
	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	rows, err := st.ParameterValues(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list parameter values: %w", err)
	}
	width := listWidth
	if width == 0 && isTerminal(cmd.OutOrStdout()) {
		width = report.TerminalWidth()
	}
	return report.Render(cmd.OutOrStdout(), rows, width)
}

func newPlotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plot URL",
		Short: "Plot a stored time series next to its gap-filled version",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlotCmd,
	}
	cmd.Flags().StringVar(&plotClass, "class", "", "class of the value")
	cmd.Flags().StringVar(&plotEntity, "entity", "", "object name, or comma separated relationship elements")
	cmd.Flags().StringVar(&plotParameter, "parameter", "", "parameter of the value")
	cmd.Flags().StringVar(&plotAlternative, "alternative", defaultAlternative, "alternative of the value")
	cmd.Flags().StringVar(&plotInterpolation, "interpolation", defaultInterpolation,
		"gap interpolation ("+strings.Join(resample.Interpolations(), ", ")+")")
	cmd.Flags().IntVar(&plotWidth, "width", 0, "plot width in columns (default: fit terminal)")
	cmd.Flags().IntVar(&plotHeight, "height", 10, "plot height in rows")
	_ = cmd.MarkFlagRequired("class")
	_ = cmd.MarkFlagRequired("entity")
	_ = cmd.MarkFlagRequired("parameter")
	return cmd
}

func runPlotCmd(cmd *cobra.Command, args []string) error {
	applyStringConfig(cmd, "interpolation", &plotInterpolation, fileCfg.Fill.Interpolation)
	applyStringConfig(cmd, "alternative", &plotAlternative, fileCfg.Import.Alternative)
	policy, err := resample.ParseInterpolation(plotInterpolation)
	if err != nil {
		return fmt.Errorf("--interpolation: %w", err)
	}

	st, err := store.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close db: %v\n", cerr)
		}
	}()
	rows, err := st.ParameterValues(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list parameter values: %w", err)
	}
	row, ok := report.FindRow(rows, plotClass, plotEntity, plotParameter, plotAlternative)
	if !ok {
		return fmt.Errorf("no value for %s - %s - %s - %s", plotClass, plotParameter, plotEntity, plotAlternative)
	}
	v, err := value.Parse(row.Value, value.Type(row.Type))
	if err != nil {
		return fmt.Errorf("failed to decode %s: %w", row.Address(), err)
	}

	var lines []report.Line
	switch series := v.(type) {
	case value.TimeSeriesVariable:
		filled, err := resample.Fill(series, policy)
		if err != nil {
			logger.Warn("couldn't fill a time series", "address", row.Address(), "error", err)
			lines = []report.Line{{Name: "stored", Values: series.Values}}
			break
		}
		lines = report.GridLines(series, filled)
	case value.TimeSeriesFixed:
		lines = []report.Line{{Name: "stored", Values: series.Values}}
	default:
		return fmt.Errorf("%s is a %s, not a time series", row.Address(), row.Type)
	}
	return report.Plot(cmd.OutOrStdout(), row.Address(), lines, plotWidth, plotHeight, false)
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		// The config file may be broken; do not load it before editing.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE:              runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := configPath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func validateFillConfig(cfg model.FillConfig) (resample.Interpolation, error) {
	policy, err := resample.ParseInterpolation(cfg.Interpolation)
	if err != nil {
		return 0, fmt.Errorf("--interpolation: %w", err)
	}
	if cfg.Workers <= 0 {
		return 0, fmt.Errorf("--workers must be > 0")
	}
	return policy, nil
}

func writeMetrics(m *metrics.Metrics, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		logger.Error("failed to write metrics", "path", path, "error", err)
	}
}

func printStatus(w io.Writer, ok bool, text string) {
	if isTerminal(w) && os.Getenv("NO_COLOR") == "" {
		style := successStyle
		if !ok {
			style = failureStyle
		}
		text = style.Render(text)
	}
	if _, err := fmt.Fprintln(w, text); err != nil {
		logErrf("failed to write output: %v\n", err)
	}
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(file.Fd()))
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# tsbatch configuration
# Uncomment a value to enable it. CLI flags and TSBATCH_* environment
# variables override config values.

[log]
# level = %q              # debug, info, warn or error
# format = %q             # auto, text or json

[fill]
# interpolation = %q    # %s
# workers = %d              # Series resampled in parallel
# metrics-file = ""         # Prometheus textfile written after each run

[import]
# alternative = %q        # Alternative for imported series
`,
		defaultLogLevel,
		defaultLogFormat,
		defaultInterpolation,
		strings.Join(resample.Interpolations(), ", "),
		defaultWorkers,
		defaultAlternative,
	)
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, validate.ErrValidationFailed):
		return 2
	default:
		return 1
	}
}
