package hptdc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// FileResult summarizes the processing of one file. Err is set when the
// file was abandoned; recoverable anomalies are listed in Warnings.
type FileResult struct {
	File      string
	Output    string
	Header    HeaderInfo
	Scans     int
	Steps     int
	Records   int64
	Events    int
	Recovered bool
	Warnings  []Warning
	Err       error
	Duration  time.Duration
}

func (r FileResult) Failed() bool {
	return r.Err != nil
}

func (r FileResult) String() string {
	status := "ok"
	if r.Err != nil {
		status = "failed: " + r.Err.Error()
	}
	return fmt.Sprintf("%s: %d scans, %d steps, %d records, recovered %t, %d warnings, %s",
		r.File, r.Scans, r.Steps, r.Records, r.Recovered, len(r.Warnings), status)
}

// EventsGroup is the group holding the classified events of a channel.
func EventsGroup(channel string) string {
	return channel + "#events"
}

func childPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return GroupPath(parent, name)
}

// fileDecoder holds the per file state shared by conversion and sorting.
type fileDecoder struct {
	ctx      context.Context
	path     string
	sink     Sink
	opts     Options
	file     *os.File
	size     int64
	info     HeaderInfo
	tables   Tables
	streamer *Streamer
	result   *FileResult
}

func (d *fileDecoder) warn(err *DecodeError) {
	err.File = d.path
	warning := warningFromError(err)
	d.result.Warnings = append(d.result.Warnings, warning)
	logger.Warn(warning.String(), "decoder")
}

// fail records err as the reason the file was abandoned.
func (d *fileDecoder) fail(err error) {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		decodeErr.File = d.path
	}
	d.result.Err = err
}

func openDecoder(ctx context.Context, path string, sink Sink, opts Options, result *FileResult) (*fileDecoder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, &ErrOpenFile{Filename: path, Err: err}
	}
	d := &fileDecoder{
		ctx:    ctx,
		path:   path,
		sink:   sink,
		opts:   opts.normalized(),
		file:   file,
		size:   stat.Size(),
		result: result,
	}

	d.info, err = ReadHeader(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	result.Header = d.info

	tables, warnings, err := LoadTables(file, d.size, d.info, d.opts)
	for _, warning := range warnings {
		warning.File = path
		result.Warnings = append(result.Warnings, warning)
	}
	if err != nil {
		file.Close()
		return nil, err
	}
	d.tables = tables
	result.Recovered = tables.Recovered
	result.Scans = len(tables.Scans)
	d.streamer = NewStreamer(file, d.info.Layout(), d.opts.ChunkSize)
	return d, nil
}

func (d *fileDecoder) Close() error {
	return d.file.Close()
}

// plan validates a step. A corrupt entry is reported as a warning and
// returned as the error abandoning the file.
func (d *fileDecoder) plan(scanIdx int, entry StepEntry) (StepPlan, error) {
	plan, err := d.streamer.Plan(entry)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			d.warn(decodeErr)
		}
		return StepPlan{}, err
	}
	if plan.Trailing > 0 {
		msg := fmt.Sprintf("dropping %d trailing bytes of step %q in scan %d", plan.Trailing, entry.Value, scanIdx)
		d.warn(newDecodeError(CorruptTable, entry.DataOffset+entry.DataSize-plan.Trailing, msg, nil))
	}
	if plan.Records == 0 {
		msg := fmt.Sprintf("step %q in scan %d is empty", entry.Value, scanIdx)
		d.warn(newDecodeError(EmptyStep, entry.DataOffset, msg, nil))
	}
	return plan, nil
}

func (d *fileDecoder) outputKind() DatasetKind {
	if d.info.Mode == ModeHits {
		return HitData
	}
	if d.opts.WordFormat == FormatDecoded {
		return DecodedWordData
	}
	return RawWordData
}

// ProcessFile converts the tdc file at path into sink below the group
// channel: one subgroup per scan and one dataset per step. With
// opts.Classify the events of group mode files are written to the
// EventsGroup of the channel as well.
func ProcessFile(ctx context.Context, path string, sink Sink, channel string, opts Options) (result FileResult) {
	started := time.Now()
	result.File = path
	defer func() {
		result.Duration = time.Since(started)
	}()

	d, err := openDecoder(ctx, path, sink, opts, &result)
	if err != nil {
		if d == nil {
			d = &fileDecoder{path: path, result: &result}
		}
		d.fail(err)
		return result
	}
	defer d.Close()

	if err := d.convert(channel); err != nil {
		d.fail(err)
		return result
	}
	if configuration.Verbosity > 0 {
		logger.Info(result.String(), "decoder")
	}
	return result
}

func (d *fileDecoder) convert(channel string) error {
	if err := d.sink.CreateGroup(channel); err != nil {
		return err
	}
	attrs := [][2]string{
		{"Type", "hptdc"},
		{"Mode", d.info.Mode.String()},
		{"Recovered", strconv.FormatBool(d.tables.Recovered)},
	}
	for _, attr := range attrs {
		if err := d.sink.WriteAttribute(channel, attr[0], attr[1]); err != nil {
			return err
		}
	}

	classify := d.opts.Classify && d.info.Mode == ModeGroups
	if d.opts.Classify && !classify {
		logger.Warn(fmt.Sprintf("Cannot classify events of %s, not a group mode file", d.path), "decoder")
	}
	eventsRoot := EventsGroup(channel)
	if classify {
		if err := d.sink.CreateGroup(eventsRoot); err != nil {
			return err
		}
	}

	kind := d.outputKind()
	var words []DecodedWord
	var classifier StepClassifier

	for scanIdx, scan := range d.tables.Scans {
		scanGroup := GroupPath(channel, strconv.Itoa(scanIdx))
		if err := d.sink.CreateGroup(scanGroup); err != nil {
			return err
		}
		if classify {
			if err := d.sink.CreateGroup(GroupPath(eventsRoot, strconv.Itoa(scanIdx))); err != nil {
				return err
			}
		}

		for _, entry := range scan {
			if err := d.ctx.Err(); err != nil {
				return err
			}
			plan, err := d.plan(scanIdx, entry)
			if err != nil {
				return err
			}

			spec := DatasetSpec{Kind: kind, Shape: []int{plan.Records}}
			if plan.Records == 0 {
				spec.Shape = []int{0, kind.Columns()}
			} else {
				dataLen := int64(plan.Records) * int64(d.info.Layout().RecordSize)
				spec.Compress = d.opts.CompressThreshold >= 0 && dataLen >= int64(d.opts.CompressThreshold)
			}
			dataset, err := d.sink.CreateDataset(scanGroup, entry.Value, spec)
			if err != nil {
				return err
			}

			err = d.streamer.Stream(plan, func(start int, chunk Chunk) error {
				if chunk.Raw != nil && (kind == DecodedWordData || classify) {
					words = DecodeWords(words, chunk.Raw)
				}
				if classify {
					classifier.Feed(words)
				}
				if kind == DecodedWordData {
					chunk = Chunk{Words: words}
				}
				return dataset.Write(start, chunk)
			})
			if err != nil {
				dataset.Close()
				return err
			}
			if err := dataset.Close(); err != nil {
				return err
			}
			d.result.Steps++
			d.result.Records += int64(plan.Records)

			if classify {
				if err := d.writeEvents(GroupPath(eventsRoot, strconv.Itoa(scanIdx)), entry.Value, classifier.Finish()); err != nil {
					return err
				}
			}
			if configuration.Verbosity > 1 {
				message := fmt.Sprintf("Scan %d step %s: %d records", scanIdx, entry.Value, plan.Records)
				logger.Info(message, "decoder")
			}
		}
	}

	d.writeParams(channel)
	return nil
}

func (d *fileDecoder) writeEvents(scanGroup, step string, set EventSet) error {
	stepGroup := childPath(scanGroup, step)
	if err := d.sink.CreateGroup(stepGroup); err != nil {
		return err
	}
	d.result.Events += set.Total()
	if configuration.Verbosity > 1 {
		message := fmt.Sprintf("Step %s: %d boundaries, %d events, %d other, %d unterminated",
			stepGroup, set.NEvents, set.Total(), set.Count(EventOther), set.Unterminated)
		logger.Info(message, "classifier")
	}
	return WriteEvents(d.sink, stepGroup, &set, d.opts.DetectionMode, d.opts.CompressThreshold)
}

// writeParams stores the parameter block as attributes of the channel.
// Problems with the block never abandon the file.
func (d *fileDecoder) writeParams(channel string) {
	params, err := ReadParams(d.file, d.size, d.info)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			d.warn(decodeErr)
		}
		return
	}
	if len(params) == 0 {
		logger.Warn(fmt.Sprintf("Empty parameters table in %s", d.path), "decoder")
		return
	}
	for _, param := range params {
		if err := d.sink.WriteAttribute(channel, param.Key, param.Value); err != nil {
			d.warn(newDecodeError(CorruptParamBlock, d.info.ParamTableOffset, "cannot store parameter "+param.Key, err))
			return
		}
	}
}

// SortFile classifies the events of a group mode tdc file and writes them
// to sink with one group per scan and one subgroup per step.
func SortFile(ctx context.Context, path string, sink Sink, opts Options) (result FileResult) {
	started := time.Now()
	result.File = path
	defer func() {
		result.Duration = time.Since(started)
	}()

	d, err := openDecoder(ctx, path, sink, opts, &result)
	if err != nil {
		if d == nil {
			d = &fileDecoder{path: path, result: &result}
		}
		d.fail(err)
		return result
	}
	defer d.Close()

	if err := d.sort(); err != nil {
		d.fail(err)
		return result
	}
	if configuration.Verbosity > 0 {
		logger.Info(result.String(), "sorter")
	}
	return result
}

func (d *fileDecoder) sort() error {
	if d.info.Mode != ModeGroups {
		return fmt.Errorf("cannot sort events of %s: mode %s has no group words", d.path, d.info.Mode)
	}

	var words []DecodedWord
	var classifier StepClassifier

	for scanIdx, scan := range d.tables.Scans {
		scanGroup := strconv.Itoa(scanIdx)
		if err := d.sink.CreateGroup(scanGroup); err != nil {
			return err
		}
		for _, entry := range scan {
			if err := d.ctx.Err(); err != nil {
				return err
			}
			plan, err := d.plan(scanIdx, entry)
			if err != nil {
				return err
			}
			// Steps without words get no event group.
			if plan.Records == 0 {
				continue
			}
			err = d.streamer.Stream(plan, func(start int, chunk Chunk) error {
				words = DecodeWords(words, chunk.Raw)
				classifier.Feed(words)
				return nil
			})
			if err != nil {
				return err
			}
			d.result.Steps++
			d.result.Records += int64(plan.Records)
			if err := d.writeEvents(scanGroup, entry.Value, classifier.Finish()); err != nil {
				return err
			}
		}
	}
	return nil
}

// Inspect resolves the header and the scan tables of a file without
// decoding any step data.
func Inspect(path string, opts Options) (HeaderInfo, Tables, []Warning, error) {
	var result FileResult
	d, err := openDecoder(context.Background(), path, nil, opts, &result)
	if err != nil {
		var decodeErr *DecodeError
		if errors.As(err, &decodeErr) {
			decodeErr.File = path
		}
		return result.Header, Tables{}, result.Warnings, err
	}
	defer d.Close()
	return d.info, d.tables, result.Warnings, nil
}
