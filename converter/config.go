package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	hptdc "github.com/metro-exp/hptdc_go/pkg"
)

// LoadConfiguration reads a JSON or YAML file on top of the defaults. An
// empty filename returns the defaults.
func LoadConfiguration(filename string) (hptdc.Configuration, error) {
	config := hptdc.DefaultConfiguration()
	if filename == "" {
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		err = json.Unmarshal(data, &config)
	}
	if err != nil {
		return config, fmt.Errorf("error parsing %s: %w", filename, err)
	}
	return config, nil
}

func printConfiguration(config hptdc.Configuration, logger Logger) {
	logger.Info(fmt.Sprintf("Files in: %s", strings.Join(config.FilesIn, ", ")), "config")
	logger.Info(fmt.Sprintf("Output dir: %s", config.OutputDir), "config")
	logger.Info(fmt.Sprintf("Output format: %s", config.OutputFormat), "config")
	logger.Info(fmt.Sprintf("Chunk size: %d", config.ChunkSize), "config")
	logger.Info(fmt.Sprintf("Word format: %s", config.WordFormat), "config")
	logger.Info(fmt.Sprintf("Ignore tables: %t", config.IgnoreTables), "config")
	logger.Info(fmt.Sprintf("Compression level: %d", config.CompressionLevel), "config")
	logger.Info(fmt.Sprintf("Compress threshold: %d", config.CompressThreshold), "config")
	logger.Info(fmt.Sprintf("Classify: %t", config.Classify), "config")
	logger.Info(fmt.Sprintf("Detection mode: %s", config.DetectionMode), "config")
	logger.Info(fmt.Sprintf("Workers: %d", config.NumWorkers), "config")
	logger.Info(fmt.Sprintf("Replace: %t", config.Replace), "config")
	logger.Info(fmt.Sprintf("No DB: %t", config.NoDB), "config")
	logger.Info(fmt.Sprintf("Host: %s", config.Host), "config")
	logger.Info(fmt.Sprintf("DB name: %s", config.DBName), "config")
	if config.LogFile != "" {
		logger.Info(fmt.Sprintf("Log file: %s", config.LogFile), "config")
	}
	if config.S3.Bucket != "" {
		logger.Info(fmt.Sprintf("S3 bucket: %s/%s", config.S3.Bucket, config.S3.Prefix), "config")
	}
	logger.Info(fmt.Sprintf("Verbosity: %d", config.Verbosity), "config")
}
