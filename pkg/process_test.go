package hptdc

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func processBuilt(t *testing.T, built builtFile, opts Options) (*MemorySink, FileResult) {
	t.Helper()
	sink := NewMemorySink()
	result := ProcessFile(context.Background(), built.write(t), sink, "tdc", opts)
	return sink, result
}

func warningKinds(warnings []Warning) []ErrorKind {
	var kinds []ErrorKind
	for _, w := range warnings {
		kinds = append(kinds, w.Kind)
	}
	return kinds
}

func TestProcessFileGroups(t *testing.T) {
	for _, generation := range []Generation{GenerationModern, GenerationLegacy} {
		t.Run(generation.String(), func(t *testing.T) {
			sink, result := processBuilt(t, sampleGroupFile(generation).build(t), DefaultOptions())
			if result.Err != nil {
				t.Fatalf("ProcessFile() error = %v", result.Err)
			}
			if len(result.Warnings) != 0 {
				t.Errorf("warnings = %v, want none", result.Warnings)
			}
			if result.Scans != 2 || result.Steps != 3 || result.Records != 15 {
				t.Errorf("result = %d scans %d steps %d records, want 2, 3 and 15",
					result.Scans, result.Steps, result.Records)
			}

			wantGroups := []string{"tdc", "tdc/0", "tdc/1"}
			if got := sink.Groups(); !reflect.DeepEqual(got, wantGroups) {
				t.Errorf("groups = %v, want %v", got, wantGroups)
			}
			attrs := sink.Group("tdc").Attrs
			wantAttrs := map[string]string{
				"Type":      "hptdc",
				"Mode":      "GRPS",
				"Recovered": "false",
				"Operator":  "test",
				"Voltage":   "1200",
			}
			if !reflect.DeepEqual(attrs, wantAttrs) {
				t.Errorf("attrs = %v, want %v", attrs, wantAttrs)
			}

			step := sink.Dataset("tdc/0", "1.5")
			if step == nil {
				t.Fatalf("missing dataset tdc/0/1.5")
			}
			if step.Spec.Kind != RawWordData || step.Spec.Compress {
				t.Errorf("spec = %+v, want uncompressed raw words", step.Spec)
			}
			if !reflect.DeepEqual(step.Raw, groupStepWords) {
				t.Errorf("raw = %v, want %v", step.Raw, groupStepWords)
			}
			if got := sink.Group("tdc/0").DatasetNames(); !reflect.DeepEqual(got, []string{"1.5", "2.5"}) {
				t.Errorf("datasets = %v, want [1.5 2.5]", got)
			}
			if !step.Closed {
				t.Errorf("dataset left open")
			}
		})
	}
}

func TestProcessFileDecodedAndClassified(t *testing.T) {
	opts := DefaultOptions()
	opts.WordFormat = FormatDecoded
	opts.Classify = true
	sink, result := processBuilt(t, sampleGroupFile(GenerationModern).build(t), opts)
	if result.Err != nil {
		t.Fatalf("ProcessFile() error = %v", result.Err)
	}

	step := sink.Dataset("tdc/0", "1.5")
	if step == nil || step.Spec.Kind != DecodedWordData {
		t.Fatalf("dataset = %+v, want decoded words", step)
	}
	if want := decoded(groupStepWords...); !reflect.DeepEqual(step.Words, want) {
		t.Errorf("words = %v, want %v", step.Words, want)
	}

	events := GroupPath(EventsGroup("tdc"), "0", "1.5")
	if group := sink.Group(events); group == nil || group.Attrs["n_events"] != "3" {
		t.Fatalf("events group %s = %+v, want n_events 3", events, group)
	}
	if ee := sink.Dataset(events, "EE"); ee == nil || !reflect.DeepEqual(ee.Int32, []int32{10, 20}) {
		t.Errorf("EE = %+v, want [[10 20]]", ee)
	}
	if ep := sink.Dataset(events, "EP"); ep == nil || !reflect.DeepEqual(ep.Int32, []int32{5, 9}) {
		t.Errorf("EP = %+v, want [[5 9]]", ep)
	}
	second := GroupPath(EventsGroup("tdc"), "1", "1.5")
	if pp := sink.Dataset(second, "PP"); pp == nil || !reflect.DeepEqual(pp.Int32, []int32{3, 4}) {
		t.Errorf("PP = %+v, want [[3 4]]", pp)
	}
	if result.Events != 4 {
		t.Errorf("Events = %d, want 4", result.Events)
	}
}

func TestProcessFileChunkSizeInvariance(t *testing.T) {
	built := sampleGroupFile(GenerationModern).build(t)

	for _, format := range []WordFormat{FormatRaw, FormatDecoded} {
		t.Run(string(format), func(t *testing.T) {
			opts := DefaultOptions()
			opts.Classify = true
			opts.WordFormat = format
			opts.ChunkSize = DefaultChunkSize
			reference, _ := processBuilt(t, built, opts)

			for _, chunkSize := range []int{1, 7, 10000} {
				opts.ChunkSize = chunkSize
				sink, result := processBuilt(t, built, opts)
				if result.Err != nil {
					t.Fatalf("chunk %d: ProcessFile() error = %v", chunkSize, result.Err)
				}
				if got, want := sink.Groups(), reference.Groups(); !reflect.DeepEqual(got, want) {
					t.Errorf("chunk %d: groups = %v, want %v", chunkSize, got, want)
				}
				for _, group := range reference.Groups() {
					for _, name := range reference.Group(group).DatasetNames() {
						want := reference.Dataset(group, name)
						got := sink.Dataset(group, name)
						if !reflect.DeepEqual(got, want) {
							t.Errorf("chunk %d: %s/%s = %+v, want %+v", chunkSize, group, name, got, want)
						}
					}
				}
			}
		})
	}
}

func TestProcessFileHits(t *testing.T) {
	hits := []HitRecord{{Time: 10, Channel: 1}, {Time: 20, Channel: 2, Type: 1, Bin: 3}}
	file := testFile{
		generation: GenerationModern,
		mode:       ModeHits,
		scans:      [][]testStep{{{label: "0.25", records: hitRecords(hits...)}}},
		params:     "Run 7\n",
	}
	opts := DefaultOptions()
	opts.Classify = true
	opts.CompressThreshold = 16
	sink, result := processBuilt(t, file.build(t), opts)
	if result.Err != nil {
		t.Fatalf("ProcessFile() error = %v", result.Err)
	}
	dataset := sink.Dataset("tdc/0", "0.25")
	if dataset == nil || dataset.Spec.Kind != HitData {
		t.Fatalf("dataset = %+v, want hits", dataset)
	}
	if !dataset.Spec.Compress {
		t.Errorf("Compress = false, want true above the threshold")
	}
	if !reflect.DeepEqual(dataset.Hits, hits) {
		t.Errorf("hits = %v, want %v", dataset.Hits, hits)
	}
	if sink.Group(EventsGroup("tdc")) != nil {
		t.Errorf("events group written for a hit mode file")
	}
	if got := sink.Group("tdc").Attrs["Mode"]; got != "HITS" {
		t.Errorf("Mode = %q, want HITS", got)
	}
}

func TestProcessFileEmptyStep(t *testing.T) {
	file := testFile{
		generation: GenerationModern,
		mode:       ModeGroups,
		scans:      [][]testStep{{{label: "1"}, {label: "2", records: groupWords(rl(1))}}},
		params:     "Run 7\n",
	}
	opts := DefaultOptions()
	opts.WordFormat = FormatDecoded
	sink, result := processBuilt(t, file.build(t), opts)
	if result.Err != nil {
		t.Fatalf("ProcessFile() error = %v", result.Err)
	}
	if got := warningKinds(result.Warnings); !reflect.DeepEqual(got, []ErrorKind{EmptyStep}) {
		t.Errorf("warnings = %v, want [EmptyStep]", got)
	}
	empty := sink.Dataset("tdc/0", "1")
	if empty == nil || !reflect.DeepEqual(empty.Spec.Shape, []int{0, 4}) {
		t.Errorf("empty step = %+v, want shape (0, 4)", empty)
	}
	if result.Steps != 2 {
		t.Errorf("Steps = %d, want 2", result.Steps)
	}
}

func TestProcessFileRecoveredTables(t *testing.T) {
	file := sampleGroupFile(GenerationModern)
	file.noTables = true
	file.params = ""
	sink, result := processBuilt(t, file.build(t), DefaultOptions())
	if result.Err != nil {
		t.Fatalf("ProcessFile() error = %v", result.Err)
	}
	if !result.Recovered {
		t.Errorf("Recovered = false, want true")
	}
	want := []ErrorKind{CorruptTable, CorruptParamBlock}
	if got := warningKinds(result.Warnings); !reflect.DeepEqual(got, want) {
		t.Errorf("warnings = %v, want %v", got, want)
	}
	if got := sink.Group("tdc").Attrs["Recovered"]; got != "true" {
		t.Errorf("Recovered attribute = %q, want true", got)
	}
	if step := sink.Dataset("tdc/0", "0"); step == nil || !reflect.DeepEqual(step.Raw, groupStepWords) {
		t.Errorf("rebuilt step 0 = %+v, want %v", step, groupStepWords)
	}
	if sink.Dataset("tdc/0", "1") == nil || sink.Dataset("tdc/1", "0") == nil {
		t.Errorf("missing rebuilt steps")
	}
}

func TestProcessFileFatalErrors(t *testing.T) {
	unknownMode := sampleGroupFile(GenerationModern)
	unknownMode.modeTag = "ABCD"
	badLabel := sampleGroupFile(GenerationModern)
	badLabel.scans[1][0].label = "\xff"

	tests := []struct {
		name string
		data []byte
		kind ErrorKind
	}{
		{"bad magic", []byte("NOTATDCFILE"), BadMagic},
		{"unknown mode", unknownMode.build(t).data, UnknownMode},
		{"corrupt step label", badLabel.build(t).data, CorruptStepTable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "broken.tdc")
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			result := ProcessFile(context.Background(), path, NewMemorySink(), "tdc", DefaultOptions())
			if !IsKind(result.Err, tt.kind) {
				t.Fatalf("ProcessFile() error = %v, want %v", result.Err, tt.kind)
			}
			var decodeErr *DecodeError
			if errors.As(result.Err, &decodeErr) && decodeErr.File != path {
				t.Errorf("error file = %q, want %q", decodeErr.File, path)
			}
			if !result.Failed() {
				t.Errorf("Failed() = false, want true")
			}
		})
	}
}

func TestProcessFileMissing(t *testing.T) {
	result := ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.tdc"), NewMemorySink(), "tdc", DefaultOptions())
	var openErr *ErrOpenFile
	if !errors.As(result.Err, &openErr) {
		t.Errorf("ProcessFile() error = %v, want ErrOpenFile", result.Err)
	}
}

func TestProcessFileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := sampleGroupFile(GenerationModern).build(t).write(t)
	result := ProcessFile(ctx, path, NewMemorySink(), "tdc", DefaultOptions())
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("ProcessFile() error = %v, want context.Canceled", result.Err)
	}
}

func TestSortFile(t *testing.T) {
	path := sampleGroupFile(GenerationModern).build(t).write(t)
	sink := NewMemorySink()
	result := SortFile(context.Background(), path, sink, DefaultOptions())
	if result.Err != nil {
		t.Fatalf("SortFile() error = %v", result.Err)
	}

	wantGroups := []string{"0", "0/1.5", "0/2.5", "1", "1/1.5"}
	if got := sink.Groups(); !reflect.DeepEqual(got, wantGroups) {
		t.Errorf("groups = %v, want %v", got, wantGroups)
	}
	if ee := sink.Dataset("0/1.5", "EE"); ee == nil || !reflect.DeepEqual(ee.Int32, []int32{10, 20}) {
		t.Errorf("EE = %+v, want [[10 20]]", ee)
	}
	if e := sink.Dataset("0/2.5", "E"); e == nil || !reflect.DeepEqual(e.Int32, []int32{7}) {
		t.Errorf("E = %+v, want [7]", e)
	}
	if got := sink.Group("1/1.5").Attrs["n_events"]; got != "1" {
		t.Errorf("n_events = %q, want 1", got)
	}
}

func TestSortFileSkipsEmptySteps(t *testing.T) {
	file := testFile{
		generation: GenerationModern,
		mode:       ModeGroups,
		scans:      [][]testStep{{{label: "1"}, {label: "2", records: groupWords(fl(1, 4), rl(1))}}},
		params:     "Run 7\n",
	}
	sink := NewMemorySink()
	result := SortFile(context.Background(), file.build(t).write(t), sink, DefaultOptions())
	if result.Err != nil {
		t.Fatalf("SortFile() error = %v", result.Err)
	}
	if got, want := sink.Groups(), []string{"0", "0/2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("groups = %v, want %v", got, want)
	}
	if result.Steps != 1 {
		t.Errorf("Steps = %d, want 1", result.Steps)
	}
	if e := sink.Dataset("0/2", "E"); e == nil || !reflect.DeepEqual(e.Int32, []int32{4}) {
		t.Errorf("E = %+v, want [4]", e)
	}
}

func TestSortFileRejectsHits(t *testing.T) {
	file := testFile{
		generation: GenerationModern,
		mode:       ModeHits,
		scans:      [][]testStep{{{label: "1", records: ModeHits.sampleRecords()}}},
	}
	result := SortFile(context.Background(), file.build(t).write(t), NewMemorySink(), DefaultOptions())
	if result.Err == nil {
		t.Errorf("SortFile() error = nil, want error for a hit mode file")
	}
}

func TestInspect(t *testing.T) {
	built := sampleGroupFile(GenerationLegacy).build(t)
	info, tables, warnings, err := Inspect(built.write(t), DefaultOptions())
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Generation != GenerationLegacy || info.Mode != ModeGroups {
		t.Errorf("header = %v %v, want legacy GRPS", info.Generation, info.Mode)
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none", warnings)
	}
	if !equalTables(tables.Scans, built.tables) {
		t.Errorf("tables = %v, want %v", tables.Scans, built.tables)
	}
}
