package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"omr-grader/internal/answerkey"
	"omr-grader/internal/batch"
	"omr-grader/internal/config"
	sheetimage "omr-grader/internal/image"
	"omr-grader/internal/report"
	"omr-grader/internal/scoring"
	"omr-grader/internal/sheet"
	"omr-grader/internal/store"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var gradeFlags struct {
	key        string
	layout     string
	layoutFile string
	out        string
	workers    int
	timeout    time.Duration
	debugDir   string
	title      string
	upload     bool
	history    bool
	quiet      bool
}

var gradeCmd = &cobra.Command{
	Use:   "grade [flags] <image|pdf|dir>...",
	Short: "Grade a batch of scanned sheets",
	Long: "Grade every image and PDF page given (directories are scanned for images) against an answer key.\n" +
		"Sheets that cannot be read are reported and skipped; the report is written only if at least one sheet was graded.",
	Args: cobra.MinimumNArgs(1),
	RunE: runGrade,
}

func init() {
	rootCmd.AddCommand(gradeCmd)
	f := gradeCmd.Flags()
	f.StringVarP(&gradeFlags.key, "key", "k", "", "Answer key file (required)")
	f.StringVarP(&gradeFlags.layout, "layout", "l", "", "Registered layout name (default from OMR_LAYOUT)")
	f.StringVar(&gradeFlags.layoutFile, "layout-file", "", "Layout definition file (YAML or JSON); overrides --layout")
	f.StringVarP(&gradeFlags.out, "out", "o", "results.xlsx", "Report file (.xlsx or .csv)")
	f.IntVarP(&gradeFlags.workers, "workers", "w", 0, "Parallel workers (default min(GOMAXPROCS, 4))")
	f.DurationVar(&gradeFlags.timeout, "timeout", 0, "Per-sheet timeout, 0 disables")
	f.StringVar(&gradeFlags.debugDir, "debug-dir", "", "Write an annotated rectified image per sheet here")
	f.StringVar(&gradeFlags.title, "title", "", "Report title stored with the batch history")
	f.BoolVar(&gradeFlags.upload, "upload", false, "Also upload the report to the configured object store")
	f.BoolVar(&gradeFlags.history, "history", false, "Record the batch in the history database")
	f.BoolVarP(&gradeFlags.quiet, "quiet", "q", false, "Hide the progress bar")
	_ = gradeCmd.MarkFlagRequired("key")
}

func runGrade(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	applyGradeFlags(cmd, cfg)

	key, err := answerkey.Load(gradeFlags.key)
	if err != nil {
		return err
	}

	l, err := cfg.ResolveLayout()
	if err != nil {
		return err
	}

	paths, err := collectImages(args)
	if err != nil {
		return err
	}
	sources := sheetimage.ExpandSources(paths)

	opts := batch.Options{Workers: cfg.Workers, Timeout: cfg.Timeout}
	if !gradeFlags.quiet {
		bar := progressbar.NewOptions(len(sources),
			progressbar.OptionSetDescription("grading"),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		)
		opts.Progress = func(done, total int) { _ = bar.Set(done) }
	}

	coordinator := batch.NewCoordinator(sheet.NewProcessor(l, cfg.DebugDir), opts)
	outcome, err := coordinator.Run(cmd.Context(), sources)
	if outcome != nil {
		for _, f := range outcome.Failures {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped %s: %s\n", f.SourceID, f.Message)
		}
	}
	if err != nil {
		return err
	}

	rows := scoring.Score(outcome.Results, key)
	title := gradeFlags.title
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(gradeFlags.out), filepath.Ext(gradeFlags.out))
	}
	rep := report.Build(title, key, rows)

	sinks := report.MultiSink{report.NewFileSink(gradeFlags.out)}
	if gradeFlags.upload {
		objectStore, err := cfg.ObjectStore()
		if err != nil {
			return err
		}
		if err := objectStore.CreateBucket(cmd.Context(), cfg.ReportBucket); err != nil {
			return err
		}
		encoder := report.EncoderFor(gradeFlags.out)
		sinks = append(sinks, &report.ObjectSink{
			Store:   objectStore,
			Bucket:  cfg.ReportBucket,
			Key:     outcome.ID.String() + "/report/" + filepath.Base(gradeFlags.out),
			Encoder: encoder,
		})
	}
	if err := sinks.Write(cmd.Context(), rep); err != nil {
		return err
	}

	if gradeFlags.history {
		if err := ensureDBDir(cfg.DatabaseURL); err != nil {
			return err
		}
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if _, err := store.SaveBatch(cmd.Context(), db, title, l.Name(), outcome, rows); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "graded %d of %d sheets, report written to %s (batch %s)\n",
		len(outcome.Results), outcome.Total(), gradeFlags.out, outcome.ID)
	return nil
}

// applyGradeFlags lets explicitly set flags override the environment.
func applyGradeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("layout") {
		cfg.Layout = gradeFlags.layout
	}
	if flags.Changed("layout-file") {
		cfg.LayoutFile = gradeFlags.layoutFile
	}
	if flags.Changed("workers") {
		cfg.Workers = gradeFlags.workers
	}
	if flags.Changed("timeout") {
		cfg.Timeout = gradeFlags.timeout
	}
	if flags.Changed("debug-dir") {
		cfg.DebugDir = gradeFlags.debugDir
	}
}

// collectImages expands directories into the image files they contain,
// sorted by name. Files named explicitly are kept whatever their extension.
func collectImages(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		var found []string
		for _, e := range entries {
			if e.IsDir() || !sheetimage.IsSupportedFormat(e.Name()) {
				continue
			}
			found = append(found, filepath.Join(arg, e.Name()))
		}
		sort.Strings(found)
		paths = append(paths, found...)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images found in %s", strings.Join(args, ", "))
	}
	return paths, nil
}

// ensureDBDir creates the parent directory of a SQLite database file.
func ensureDBDir(dsn string) error {
	if strings.Contains(dsn, "://") || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	return os.MkdirAll(filepath.Dir(dsn), os.ModePerm)
}
