package hptdc

import (
	"testing"
)

func collectRaw(t *testing.T, built builtFile, entry StepEntry, chunkSize int) []uint32 {
	t.Helper()
	streamer := NewStreamer(built.reader(), ModeGroups.Layout(), chunkSize)
	plan, err := streamer.Plan(entry)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	var got []uint32
	next := 0
	err = streamer.Stream(plan, func(start int, chunk Chunk) error {
		if start != next {
			t.Errorf("chunk start = %d, want %d", start, next)
		}
		if len(chunk.Raw) > chunkSize {
			t.Errorf("chunk of %d records, want at most %d", len(chunk.Raw), chunkSize)
		}
		next += len(chunk.Raw)
		got = append(got, chunk.Raw...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	return got
}

func TestStreamChunkSizeInvariance(t *testing.T) {
	words := make([]uint32, 0, 25)
	for i := 0; i < 25; i++ {
		words = append(words, fl(int8(i%3), int32(i*10)))
	}
	file := testFile{
		generation: GenerationModern,
		mode:       ModeGroups,
		scans:      [][]testStep{{{label: "1", records: groupWords(words...)}}},
	}
	built := file.build(t)
	entry := built.tables[0][0]

	for _, chunkSize := range []int{1, 7, 10000} {
		got := collectRaw(t, built, entry, chunkSize)
		if len(got) != len(words) {
			t.Fatalf("chunk %d: streamed %d words, want %d", chunkSize, len(got), len(words))
		}
		for i := range words {
			if got[i] != words[i] {
				t.Errorf("chunk %d: word %d = 0x%08x, want 0x%08x", chunkSize, i, got[i], words[i])
			}
		}
	}
}

func TestStreamHits(t *testing.T) {
	hits := []HitRecord{{Time: 1, Channel: 1}, {Time: 2, Channel: 2, Bin: 7}, {Time: 3, Type: 1}}
	file := testFile{
		generation: GenerationModern,
		mode:       ModeHits,
		scans:      [][]testStep{{{label: "1", records: hitRecords(hits...)}}},
	}
	built := file.build(t)
	streamer := NewStreamer(built.reader(), ModeHits.Layout(), 2)
	plan, err := streamer.Plan(built.tables[0][0])
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Records != len(hits) {
		t.Fatalf("Records = %d, want %d", plan.Records, len(hits))
	}

	var got []HitRecord
	err = streamer.Stream(plan, func(start int, chunk Chunk) error {
		if chunk.Raw != nil {
			t.Errorf("hit chunk carries raw words")
		}
		got = append(got, chunk.Hits...)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	for i := range hits {
		if got[i] != hits[i] {
			t.Errorf("hit %d = %+v, want %+v", i, got[i], hits[i])
		}
	}
}

func TestPlan(t *testing.T) {
	layout := ModeGroups.Layout()
	streamer := NewStreamer(nil, layout, 10)
	marker := int64(len(layout.StepMarker))

	tests := []struct {
		name     string
		entry    StepEntry
		records  int
		trailing int64
		wantErr  bool
	}{
		{"records", StepEntry{Value: "1", DataSize: marker + 12}, 3, 0, false},
		{"empty", StepEntry{Value: "1", DataSize: marker}, 0, 0, false},
		{"trailing bytes", StepEntry{Value: "1", DataSize: marker + 6}, 1, 2, false},
		{"below marker", StepEntry{Value: "1", DataSize: marker - 1}, 0, 0, true},
		{"empty label", StepEntry{Value: "", DataSize: marker}, 0, 0, true},
		{"non ASCII label", StepEntry{Value: "caf\xe9", DataSize: marker}, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := streamer.Plan(tt.entry)
			if tt.wantErr {
				if !IsKind(err, CorruptStepTable) {
					t.Errorf("Plan() error = %v, want CorruptStepTable", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Plan() error = %v", err)
			}
			if plan.Records != tt.records || plan.Trailing != tt.trailing {
				t.Errorf("Plan() = %d records %d trailing, want %d and %d",
					plan.Records, plan.Trailing, tt.records, tt.trailing)
			}
		})
	}
}

func TestStreamEmptyStep(t *testing.T) {
	streamer := NewStreamer(nil, ModeGroups.Layout(), 10)
	plan, err := streamer.Plan(StepEntry{Value: "1", DataSize: int64(len(GroupStepMarker))})
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	calls := 0
	err = streamer.Stream(plan, func(int, Chunk) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if calls != 0 {
		t.Errorf("callback called %d times for an empty step", calls)
	}
}
