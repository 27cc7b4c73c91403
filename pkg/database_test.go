package hptdc

import (
	"errors"
	"testing"
)

func TestRunNumberFromFilename(t *testing.T) {
	tests := []struct {
		path    string
		want    int
		wantErr bool
	}{
		{"/data/0042_scan_tdc#groups.tdc", 42, false},
		{"7_ch1.tdc", 7, false},
		{"scan.tdc", 0, true},
		{"run_0042.tdc", 0, true},
		{"-3_ch1.tdc", 0, true},
	}
	for _, tt := range tests {
		got, err := RunNumberFromFilename(tt.path)
		if (err != nil) != tt.wantErr {
			t.Errorf("RunNumberFromFilename(%q) error = %v, wantErr %v", tt.path, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("RunNumberFromFilename(%q) = %d, want %d", tt.path, got, tt.want)
		}
	}
}

func TestNewConvertedFile(t *testing.T) {
	result := FileResult{
		File:     "/data/0042_scan_ch1.tdc",
		Output:   "/out/0042_scan_ch1.h5",
		Header:   HeaderInfo{Mode: ModeHits},
		Scans:    2,
		Steps:    5,
		Records:  1000,
		Warnings: []Warning{{Kind: EmptyStep}},
		Err:      errors.New("disk full"),
	}
	entry := NewConvertedFile(42, result)
	if entry.FileName != "0042_scan_ch1.tdc" || entry.Mode != "HITS" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.Warnings != 1 || entry.Error != "disk full" || entry.Records != 1000 {
		t.Errorf("entry = %+v", entry)
	}
	if entry.ConvertedAt.IsZero() {
		t.Errorf("ConvertedAt not set")
	}
}
