package hptdc

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	sqlx "github.com/jmoiron/sqlx" //make alias name the package to sqlx
)

func ConnectToDatabase(user string, pass string, host string, dbname string) (*sqlx.DB, error) {
	port := "3306"
	dbURI := fmt.Sprintf("%s:%s@(%s:%s)/%s?parseTime=true", user, pass, host, port, dbname)
	db, err := sqlx.Connect("mysql", dbURI)
	return db, err
}

// RunNumberFromFilename returns the leading run number of names like
// "0042_scan_tdc.tdc".
func RunNumberFromFilename(path string) (int, error) {
	name := filepath.Base(path)
	prefix, _, found := strings.Cut(name, "_")
	if !found {
		return 0, fmt.Errorf("no run number in file name %q", name)
	}
	run, err := strconv.Atoi(prefix)
	if err != nil || run < 0 {
		return 0, fmt.Errorf("invalid run number %q in file name %q", prefix, name)
	}
	return run, nil
}

type RunSettingsEntry struct {
	MinRun        int    `db:"MinRun"`
	MaxRun        int    `db:"MaxRun"`
	DetectionMode string `db:"DetectionMode"`
}

// GetDetectionMode looks up the detection mode configured for a run. It
// returns sql.ErrNoRows when no settings cover the run.
func GetDetectionMode(db *sqlx.DB, runNumber int) (DetectionMode, error) {
	query := "SELECT MinRun, MaxRun, DetectionMode FROM RunSettings WHERE MinRun <= ? and MaxRun >= ? ORDER BY MinRun DESC LIMIT 1"

	if configuration.Verbosity > 0 {
		message := fmt.Sprintf("Reading detection mode of run %d from database", runNumber)
		logger.Info(message, "database")
	}
	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Query: %s", query)
		logger.Info(message, "database")
	}

	var entry RunSettingsEntry
	if err := db.Get(&entry, query, runNumber, runNumber); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("error querying database: %w", err)
	}
	return ParseDetectionMode(entry.DetectionMode)
}

// ConvertedFile is the bookkeeping row of one processed file.
type ConvertedFile struct {
	RunNumber   int       `db:"RunNumber"`
	FileName    string    `db:"FileName"`
	Output      string    `db:"Output"`
	Mode        string    `db:"Mode"`
	Scans       int       `db:"Scans"`
	Steps       int       `db:"Steps"`
	Records     int64     `db:"Records"`
	Events      int       `db:"Events"`
	Recovered   bool      `db:"Recovered"`
	Warnings    int       `db:"Warnings"`
	Error       string    `db:"Error"`
	ConvertedAt time.Time `db:"ConvertedAt"`
}

func NewConvertedFile(runNumber int, result FileResult) ConvertedFile {
	entry := ConvertedFile{
		RunNumber:   runNumber,
		FileName:    filepath.Base(result.File),
		Output:      result.Output,
		Mode:        result.Header.Mode.String(),
		Scans:       result.Scans,
		Steps:       result.Steps,
		Records:     result.Records,
		Events:      result.Events,
		Recovered:   result.Recovered,
		Warnings:    len(result.Warnings),
		ConvertedAt: time.Now().UTC(),
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	return entry
}

// RecordConversion stores the summary of a processed file.
func RecordConversion(db *sqlx.DB, entry ConvertedFile) error {
	query := `INSERT INTO ConvertedFiles
		(RunNumber, FileName, Output, Mode, Scans, Steps, Records, Events, Recovered, Warnings, Error, ConvertedAt)
		VALUES (:RunNumber, :FileName, :Output, :Mode, :Scans, :Steps, :Records, :Events, :Recovered, :Warnings, :Error, :ConvertedAt)`

	if configuration.Verbosity > 2 {
		message := fmt.Sprintf("Recording conversion of %s", entry.FileName)
		logger.Info(message, "database")
	}
	if _, err := db.NamedExec(query, entry); err != nil {
		return fmt.Errorf("error inserting converted file: %w", err)
	}
	return nil
}
