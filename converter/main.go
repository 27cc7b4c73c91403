// Command hptdc converts HPTDC acquisition files.
//
// Exit codes:
//   - 0: every file was processed
//   - 1: invalid configuration or arguments
//   - 2: at least one file failed
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	sqlx "github.com/jmoiron/sqlx"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
	"github.com/metro-exp/hptdc_go/pkg/archive"
)

const (
	exitConfig     = 1
	exitFileFailed = 2
)

var (
	logger        = NewLogger(os.Stdout, os.Stderr)
	configuration hptdc.Configuration
)

func main() {
	app := &cli.App{
		Name:           "hptdc",
		Usage:          "Convert and sort HPTDC acquisition files",
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			convertCommand(),
			sortCommand(),
			inspectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler handles errors from the CLI, preserving exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		// cli.Exit("", N).Error() returns "exit status N"
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func processingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Usage: "Configuration file path (JSON or YAML)"},
		&cli.StringFlag{Name: "output-dir", Usage: "Output directory"},
		&cli.StringFlag{Name: "format", Usage: "Output format: hdf5 or frames"},
		&cli.IntFlag{Name: "chunk-size", Usage: "Records read at once"},
		&cli.IntFlag{Name: "workers", Usage: "Files processed in parallel"},
		&cli.StringFlag{Name: "detection-mode", Usage: "Particles of the second detector: EP or EI"},
		&cli.BoolFlag{Name: "ignore-tables", Usage: "Always rebuild the scan tables from markers"},
		&cli.BoolFlag{Name: "replace", Usage: "Replace already existing output files"},
		&cli.BoolFlag{Name: "no-db", Usage: "Do not use the run database"},
		&cli.StringFlag{Name: "log-file", Usage: "Also write the log to this rotating file"},
		&cli.IntFlag{Name: "verbosity", Aliases: []string{"v"}, Usage: "Verbosity level"},
	}
}

func convertCommand() *cli.Command {
	flags := append(processingFlags(),
		&cli.StringFlag{Name: "word-format", Usage: "Group word format: raw or decoded"},
		&cli.BoolFlag{Name: "classify", Usage: "Also write the classified events of group mode files"},
	)
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert tdc files to hdf5 or frame archives",
		ArgsUsage: "<file or pattern>...",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			return runCommand(c, func(r *runner) hptdc.FileFunc { return r.convertFile })
		},
	}
}

func sortCommand() *cli.Command {
	return &cli.Command{
		Name:      "sort",
		Usage:     "Sort the coincidence events of group mode tdc files",
		ArgsUsage: "<file or pattern>...",
		Flags:     processingFlags(),
		Action: func(c *cli.Context) error {
			return runCommand(c, func(r *runner) hptdc.FileFunc { return r.sortFile })
		},
	}
}

// applyFlags overrides configuration values with the flags that were set.
func applyFlags(c *cli.Context, config *hptdc.Configuration) {
	if c.IsSet("output-dir") {
		config.OutputDir = c.String("output-dir")
	}
	if c.IsSet("format") {
		config.OutputFormat = c.String("format")
	}
	if c.IsSet("chunk-size") {
		config.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("workers") {
		config.NumWorkers = c.Int("workers")
	}
	if c.IsSet("detection-mode") {
		config.DetectionMode = c.String("detection-mode")
	}
	if c.IsSet("word-format") {
		config.WordFormat = c.String("word-format")
	}
	if c.IsSet("ignore-tables") {
		config.IgnoreTables = c.Bool("ignore-tables")
	}
	if c.IsSet("classify") {
		config.Classify = c.Bool("classify")
	}
	if c.IsSet("replace") {
		config.Replace = c.Bool("replace")
	}
	if c.IsSet("no-db") {
		config.NoDB = c.Bool("no-db")
	}
	if c.IsSet("log-file") {
		config.LogFile = c.String("log-file")
	}
	if c.IsSet("verbosity") {
		config.Verbosity = c.Int("verbosity")
	}
	config.FilesIn = append(config.FilesIn, c.Args().Slice()...)
}

// expandFiles resolves glob patterns. Patterns without a match are kept so
// that the missing file is reported by its worker.
func expandFiles(patterns []string) []string {
	var files []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil || len(matches) == 0 {
			files = append(files, pattern)
			continue
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return slices.Compact(files)
}

func loadCommandConfiguration(c *cli.Context) (hptdc.Configuration, error) {
	config, err := LoadConfiguration(c.String("config"))
	if err != nil {
		return config, fmt.Errorf("error reading configuration file: %w", err)
	}
	applyFlags(c, &config)
	if err := config.Validate(); err != nil {
		return config, err
	}
	config.FilesIn = expandFiles(config.FilesIn)
	if len(config.FilesIn) == 0 {
		return config, errors.New("no input files")
	}
	return config, nil
}

func runCommand(c *cli.Context, fileFunc func(r *runner) hptdc.FileFunc) error {
	var err error
	configuration, err = loadCommandConfiguration(c)
	if err != nil {
		return cli.Exit(err.Error(), exitConfig)
	}

	var logCloser io.Closer
	logger, logCloser = setupLogging(configuration)
	if logCloser != nil {
		defer logCloser.Close()
	}
	hptdc.SetConfiguration(configuration)
	hptdc.SetLogger(logger)
	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Reading configuration file: %s", c.String("config"))
		logger.Info(message, "main")
		printConfiguration(configuration, logger)
	}

	if err := os.MkdirAll(configuration.OutputDir, 0o755); err != nil {
		return cli.Exit(fmt.Sprintf("error creating output directory: %v", err), exitConfig)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	r := &runner{config: configuration}
	if !configuration.NoDB {
		var dbConn *sqlx.DB
		dbConn, err = hptdc.ConnectToDatabase(configuration.User, configuration.Passwd, configuration.Host, configuration.DBName)
		if err != nil {
			message := fmt.Errorf("Error connection to database: %w", err)
			logger.Error(message.Error())
			return cli.Exit("", exitConfig)
		}
		defer dbConn.Close()
		r.db = dbConn
	}
	if configuration.S3.Bucket != "" {
		r.uploader, err = archive.NewUploader(ctx, configuration.S3)
		if err != nil {
			logger.Error(err.Error())
			return cli.Exit("", exitConfig)
		}
	}

	results := hptdc.ProcessFiles(ctx, configuration.FilesIn, configuration.NumWorkers, fileFunc(r))
	return summarize(results)
}

func summarize(results []hptdc.FileResult) error {
	failed := 0
	for _, result := range results {
		if result.Failed() {
			failed++
			logger.Error(fmt.Errorf("file %s failed: %w", result.File, result.Err).Error())
			continue
		}
		if configuration.Verbosity > 0 {
			logger.Info(result.String(), "main")
		}
	}
	logger.Info(fmt.Sprintf("Processed %d files, %d failed", len(results), failed), "main")
	if failed > 0 {
		return cli.Exit("", exitFileFailed)
	}
	return nil
}
