package archive

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

type fakeClient struct {
	bucket string
	key    string
	body   []byte
	length int64
	err    error
}

func (f *fakeClient) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.bucket = aws.ToString(params.Bucket)
	f.key = aws.ToString(params.Key)
	f.length = aws.ToInt64(params.ContentLength)
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func TestUpload(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "0042_tdc_ch1.h5")
	content := []byte("converted data")
	if err := os.WriteFile(filename, content, 0o644); err != nil {
		t.Fatal(err)
	}

	client := &fakeClient{}
	uploader := NewUploaderWithClient(client, "metro-runs", "/converted/")
	location, err := uploader.Upload(context.Background(), filename)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if want := "s3://metro-runs/converted/0042_tdc_ch1.h5"; location != want {
		t.Errorf("location = %q, want %q", location, want)
	}
	if client.bucket != "metro-runs" || client.key != "converted/0042_tdc_ch1.h5" {
		t.Errorf("uploaded to %s/%s", client.bucket, client.key)
	}
	if string(client.body) != string(content) || client.length != int64(len(content)) {
		t.Errorf("body = %q (%d bytes), want %q", client.body, client.length, content)
	}
}

func TestKey(t *testing.T) {
	tests := []struct {
		prefix   string
		filename string
		want     string
	}{
		{"", "/data/out/run.h5", "run.h5"},
		{"runs", "run.h5", "runs/run.h5"},
		{"runs/2024/", "/tmp/run.mpk", "runs/2024/run.mpk"},
	}
	for _, tt := range tests {
		uploader := NewUploaderWithClient(&fakeClient{}, "bucket", tt.prefix)
		if got := uploader.Key(tt.filename); got != tt.want {
			t.Errorf("Key(%q) with prefix %q = %q, want %q", tt.filename, tt.prefix, got, tt.want)
		}
	}
}

func TestUploadErrors(t *testing.T) {
	uploader := NewUploaderWithClient(&fakeClient{}, "bucket", "")
	_, err := uploader.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.h5"))
	var openErr *hptdc.ErrOpenFile
	if !errors.As(err, &openErr) {
		t.Errorf("Upload(missing) error = %v, want ErrOpenFile", err)
	}

	filename := filepath.Join(t.TempDir(), "run.h5")
	if err := os.WriteFile(filename, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	errDenied := errors.New("access denied")
	uploader = NewUploaderWithClient(&fakeClient{err: errDenied}, "bucket", "")
	if _, err := uploader.Upload(context.Background(), filename); !errors.Is(err, errDenied) {
		t.Errorf("Upload() error = %v, want %v", err, errDenied)
	}
}

func TestNewUploaderRequiresBucket(t *testing.T) {
	if _, err := NewUploader(context.Background(), hptdc.S3Config{}); err == nil {
		t.Errorf("NewUploader() error = nil, want error for an empty bucket")
	}
}
