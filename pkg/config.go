package hptdc

import (
	"errors"
	"fmt"
	"strings"
)

type Configuration struct {
	FilesIn           []string `json:"files_in" yaml:"files_in"`
	OutputDir         string   `json:"output_dir" yaml:"output_dir"`
	OutputFormat      string   `json:"output_format" yaml:"output_format"`
	ChunkSize         int      `json:"chunk_size" yaml:"chunk_size"`
	WordFormat        string   `json:"word_format" yaml:"word_format"`
	IgnoreTables      bool     `json:"ignore_tables" yaml:"ignore_tables"`
	CompressionLevel  int      `json:"compression_level" yaml:"compression_level"`
	CompressThreshold int      `json:"compress_threshold" yaml:"compress_threshold"`
	Classify          bool     `json:"classify" yaml:"classify"`
	DetectionMode     string   `json:"detection_mode" yaml:"detection_mode"`
	NumWorkers        int      `json:"num_workers" yaml:"num_workers"`
	Replace           bool     `json:"replace" yaml:"replace"`
	Verbosity         int      `json:"verbosity" yaml:"verbosity"`
	NoDB              bool     `json:"no_db" yaml:"no_db"`
	Host              string   `json:"host" yaml:"host"`
	User              string   `json:"user" yaml:"user"`
	Passwd            string   `json:"pass" yaml:"pass"`
	DBName            string   `json:"dbname" yaml:"dbname"`
	LogFile           string   `json:"log_file" yaml:"log_file"`
	LogMaxSizeMB      int      `json:"log_max_size_mb" yaml:"log_max_size_mb"`
	LogMaxBackups     int      `json:"log_max_backups" yaml:"log_max_backups"`
	LogMaxAgeDays     int      `json:"log_max_age_days" yaml:"log_max_age_days"`
	LogCompress       bool     `json:"log_compress" yaml:"log_compress"`
	S3                S3Config `json:"s3" yaml:"s3"`
}

// S3Config selects the bucket finished output files are uploaded to.
// An empty bucket disables the upload.
type S3Config struct {
	Bucket       string `json:"bucket" yaml:"bucket"`
	Prefix       string `json:"prefix" yaml:"prefix"`
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// Validate checks that required S3 configuration is present.
func (c *S3Config) Validate() error {
	if c.Bucket == "" {
		return errors.New("S3 bucket is required")
	}
	return nil
}

const (
	OutputHDF5   = "hdf5"
	OutputFrames = "frames"
)

// DefaultConfiguration mirrors the defaults of the command line tool.
func DefaultConfiguration() Configuration {
	return Configuration{
		OutputDir:         ".",
		OutputFormat:      OutputHDF5,
		ChunkSize:         10000,
		WordFormat:        string(FormatRaw),
		CompressionLevel:  4,
		CompressThreshold: 1024,
		DetectionMode:     string(DetectEP),
		NumWorkers:        1,
		NoDB:              true,
		Host:              "localhost",
		User:              "metroreader",
		Passwd:            "readonly",
		DBName:            "METRO",
		LogMaxSizeMB:      25,
		LogMaxBackups:     5,
		LogMaxAgeDays:     7,
	}
}

var configuration = DefaultConfiguration()

func GetConfiguration() Configuration {
	return configuration
}

func SetConfiguration(config Configuration) {
	configuration = config
}

// Options returns the per-file processing options described by the
// configuration.
func (c Configuration) Options() Options {
	return Options{
		ChunkSize:         c.ChunkSize,
		WordFormat:        WordFormat(strings.ToLower(c.WordFormat)),
		IgnoreTables:      c.IgnoreTables,
		CompressThreshold: c.CompressThreshold,
		Classify:          c.Classify,
		DetectionMode:     DetectionMode(strings.ToUpper(c.DetectionMode)),
	}
}

// Validate checks the values that would otherwise only fail deep inside
// the processing of a file.
func (c Configuration) Validate() error {
	if c.OutputFormat != OutputHDF5 && c.OutputFormat != OutputFrames {
		return fmt.Errorf("unknown output format %q, expected %s or %s", c.OutputFormat, OutputHDF5, OutputFrames)
	}
	if _, err := ParseWordFormat(c.WordFormat); err != nil {
		return err
	}
	if _, err := ParseDetectionMode(c.DetectionMode); err != nil {
		return err
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("number of workers must be positive, got %d", c.NumWorkers)
	}
	if c.CompressionLevel < 0 || c.CompressionLevel > 9 {
		return fmt.Errorf("compression level must be between 0 and 9, got %d", c.CompressionLevel)
	}
	return nil
}
