package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlx "github.com/jmoiron/sqlx"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
	"github.com/metro-exp/hptdc_go/pkg/archive"
	"github.com/metro-exp/hptdc_go/pkg/framesink"
	"github.com/metro-exp/hptdc_go/pkg/writer"
)

// Files above this size are not sorted.
const maxSortFileSize = 100 << 30

type outputSink interface {
	hptdc.Sink
	Close() error
}

func createSink(filename string, config hptdc.Configuration) (outputSink, error) {
	if config.OutputFormat == hptdc.OutputFrames {
		return framesink.Create(filename, config.CompressionLevel)
	}
	return writer.NewWriter(filename, config.CompressionLevel)
}

func outputExtension(format string) string {
	if format == hptdc.OutputFrames {
		return ".mpk"
	}
	return ".h5"
}

func fileStem(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// channelName is the last "_" separated part of the file name, e.g.
// "tdc#groups" for "0042_scan_tdc#groups.tdc".
func channelName(path string) string {
	stem := fileStem(path)
	if i := strings.LastIndex(stem, "_"); i >= 0 && i < len(stem)-1 {
		return stem[i+1:]
	}
	return stem
}

func convertOutput(path string, config hptdc.Configuration) string {
	return filepath.Join(config.OutputDir, fileStem(path)+outputExtension(config.OutputFormat))
}

// sortOutput keeps the run number as written in the file name, leading
// zeros included.
func sortOutput(path string, config hptdc.Configuration) string {
	prefix := fileStem(path)
	if _, err := hptdc.RunNumberFromFilename(path); err == nil {
		prefix, _, _ = strings.Cut(filepath.Base(path), "_")
	}
	return filepath.Join(config.OutputDir, prefix+"_ev"+outputExtension(config.OutputFormat))
}

// runner processes files for one command invocation.
type runner struct {
	config   hptdc.Configuration
	db       *sqlx.DB
	uploader *archive.Uploader
}

// options returns the processing options of a file, with the detection
// mode of its run when the database knows it.
func (r *runner) options(path string) hptdc.Options {
	opts := r.config.Options()
	if r.db == nil {
		return opts
	}
	run, err := hptdc.RunNumberFromFilename(path)
	if err != nil {
		return opts
	}
	mode, err := hptdc.GetDetectionMode(r.db, run)
	switch {
	case err == nil:
		opts.DetectionMode = mode
	case errors.Is(err, sql.ErrNoRows):
		if configuration.Verbosity > 1 {
			logger.Info(fmt.Sprintf("No run settings for run %d, using %s", run, opts.DetectionMode), "workers")
		}
	default:
		logger.Error(fmt.Errorf("error reading detection mode of run %d: %w", run, err).Error())
	}
	return opts
}

func (r *runner) convertFile(ctx context.Context, job hptdc.Job) hptdc.FileResult {
	output := convertOutput(job.Path, r.config)
	sink, err := createSink(output, r.config)
	if err != nil {
		return hptdc.FileResult{File: job.Path, Output: output, Err: err}
	}

	result := hptdc.ProcessFile(ctx, job.Path, sink, channelName(job.Path), r.options(job.Path))
	result.Output = output
	r.finish(ctx, &result, sink)
	return result
}

func (r *runner) sortFile(ctx context.Context, job hptdc.Job) hptdc.FileResult {
	output := sortOutput(job.Path, r.config)
	if _, err := os.Stat(output); err == nil && !r.config.Replace {
		logger.Info(fmt.Sprintf("Skipping already processed %s", job.Path), "workers")
		return hptdc.FileResult{File: job.Path, Output: output}
	}
	if stat, err := os.Stat(job.Path); err == nil && stat.Size() > maxSortFileSize {
		logger.Warn(fmt.Sprintf("Skipping too large %s (%d bytes)", job.Path, stat.Size()), "workers")
		return hptdc.FileResult{File: job.Path}
	}

	sink, err := createSink(output, r.config)
	if err != nil {
		return hptdc.FileResult{File: job.Path, Output: output, Err: err}
	}
	result := hptdc.SortFile(ctx, job.Path, sink, r.options(job.Path))
	result.Output = output
	r.finish(ctx, &result, sink)
	return result
}

// finish closes the output, removes it if the file failed, and otherwise
// uploads it. Every result is recorded when the database is enabled.
func (r *runner) finish(ctx context.Context, result *hptdc.FileResult, sink outputSink) {
	if err := sink.Close(); err != nil {
		result.Err = errors.Join(result.Err, err)
	}

	if result.Err != nil {
		if err := os.Remove(result.Output); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Error(fmt.Errorf("error removing %s: %w", result.Output, err).Error())
		}
	} else if r.uploader != nil {
		location, err := r.uploader.Upload(ctx, result.Output)
		if err != nil {
			result.Err = err
		} else if configuration.Verbosity > 0 {
			logger.Info(fmt.Sprintf("Uploaded %s to %s", result.Output, location), "workers")
		}
	}

	if r.db != nil {
		run, err := hptdc.RunNumberFromFilename(result.File)
		if err != nil {
			logger.Warn(fmt.Sprintf("Not recording %s: %v", result.File, err), "workers")
			return
		}
		if err := hptdc.RecordConversion(r.db, hptdc.NewConvertedFile(run, *result)); err != nil {
			logger.Error(err.Error())
		}
	}
}
