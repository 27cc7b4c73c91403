package hptdc

import (
	"reflect"
	"testing"
)

func readBuiltParams(t *testing.T, built builtFile) ([]ParamEntry, error) {
	t.Helper()
	r := built.reader()
	info, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	return ReadParams(r, int64(len(built.data)), info)
}

func TestReadParams(t *testing.T) {
	tests := []struct {
		name    string
		params  string
		want    []ParamEntry
		wantErr bool
	}{
		{
			name:   "key value lines",
			params: "Operator test\nVoltage 1200\n",
			want:   []ParamEntry{{Key: "Operator", Value: "test"}, {Key: "Voltage", Value: "1200"}},
		},
		{
			name:   "single line",
			params: "Run 42\n",
			want:   []ParamEntry{{Key: "Run", Value: "42"}},
		},
		{
			name:   "empty block",
			params: "\n",
			want:   nil,
		},
		{
			name:    "value with a space",
			params:  "Comment two words\n",
			wantErr: true,
		},
		{
			name:    "line without value",
			params:  "Operator\n",
			wantErr: true,
		},
		{
			name:    "blank line inside",
			params:  "Operator test\n\nVoltage 1200\n",
			wantErr: true,
		},
		{
			name:    "non ASCII",
			params:  "Operator J\xf6rg\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			file := sampleGroupFile(GenerationModern)
			file.params = tt.params
			got, err := readBuiltParams(t, file.build(t))
			if tt.wantErr {
				if !IsKind(err, CorruptParamBlock) {
					t.Errorf("ReadParams() error = %v, want CorruptParamBlock", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadParams() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadParams() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReadParamsAbsent(t *testing.T) {
	file := sampleGroupFile(GenerationLegacy)
	file.params = ""
	_, err := readBuiltParams(t, file.build(t))
	if !IsKind(err, CorruptParamBlock) {
		t.Errorf("ReadParams() error = %v, want CorruptParamBlock", err)
	}
}

func TestReadParamsOutOfRange(t *testing.T) {
	built := sampleGroupFile(GenerationModern).build(t)
	r := built.reader()
	info, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("ReadHeader() error = %v", err)
	}
	info.ParamTableSize += 100
	if _, err := ReadParams(r, int64(len(built.data)), info); !IsKind(err, CorruptParamBlock) {
		t.Errorf("ReadParams() error = %v, want CorruptParamBlock", err)
	}
}
