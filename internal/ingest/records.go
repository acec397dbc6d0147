package ingest

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// Record is one text of a batch input file.
type Record struct {
	ID   string `parquet:"id,optional" json:"id"`
	Text string `parquet:"text" json:"text"`
}

// RecordFormat is a batch input file kind.
type RecordFormat string

const (
	RecordsCSV     RecordFormat = "csv"
	RecordsJSONL   RecordFormat = "jsonl"
	RecordsParquet RecordFormat = "parquet"
)

// DetectRecordFormat detects the batch file format from its extension.
func DetectRecordFormat(filename string) (RecordFormat, error) {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return RecordsCSV, nil
	case strings.HasSuffix(lower, ".parquet"):
		return RecordsParquet, nil
	case strings.HasSuffix(lower, ".jsonl"), strings.HasSuffix(lower, ".ndjson"), strings.HasSuffix(lower, ".json"):
		return RecordsJSONL, nil
	default:
		return "", fmt.Errorf("%w: %s (expected .csv, .jsonl or .parquet)", ErrUnsupportedFormat, filename)
	}
}

var errShortRow = errors.New("row is missing the text column")

// RecordReader streams records from a batch input file.
type RecordReader struct {
	format  RecordFormat
	file    *os.File
	next    func() (Record, error)
	closeFn func() error
	logger  *zap.Logger
	row     int
	skipped int
}

// OpenRecords opens a CSV (with a "text" column and optional "id"), JSON
// lines or Parquet file.
func OpenRecords(path string, logger *zap.Logger) (*RecordReader, error) {
	format, err := DetectRecordFormat(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file: %w", format, err)
	}

	r := &RecordReader{format: format, file: file, logger: logger}
	switch format {
	case RecordsCSV:
		err = r.openCSV()
	case RecordsJSONL:
		r.openJSONL()
	case RecordsParquet:
		r.openParquet()
	}
	if err != nil {
		file.Close()
		return nil, err
	}

	logger.Info("Opened batch input", zap.String("file", path), zap.String("format", string(format)))
	return r, nil
}

func (r *RecordReader) openCSV() error {
	reader := csv.NewReader(r.file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	textCol, idCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "text":
			textCol = i
		case "id":
			idCol = i
		}
	}
	if textCol < 0 {
		return fmt.Errorf("CSV header %v has no text column", header)
	}

	r.logger.Info("CSV header detected", zap.Strings("columns", header))

	r.next = func() (Record, error) {
		row, err := reader.Read()
		if err != nil {
			return Record{}, err
		}
		if textCol >= len(row) {
			return Record{}, fmt.Errorf("%w: %d fields, text column is %d", errShortRow, len(row), textCol+1)
		}
		rec := Record{Text: row[textCol]}
		if idCol >= 0 && idCol < len(row) {
			rec.ID = strings.TrimSpace(row[idCol])
		}
		return rec, nil
	}
	return nil
}

func (r *RecordReader) openJSONL() {
	decoder := json.NewDecoder(r.file)
	r.next = func() (Record, error) {
		var rec Record
		err := decoder.Decode(&rec)
		return rec, err
	}
}

func (r *RecordReader) openParquet() {
	reader := parquet.NewReader(r.file)
	r.closeFn = reader.Close
	r.next = func() (Record, error) {
		var rec Record
		err := reader.Read(&rec)
		return rec, err
	}
}

// ReadBatch returns up to n records. It returns io.EOF, with no records, once
// the input is exhausted. Malformed rows are logged and skipped.
func (r *RecordReader) ReadBatch(n int) ([]Record, error) {
	batch := make([]Record, 0, n)

	for len(batch) < n {
		rec, err := r.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if !recoverable(err) {
				return batch, fmt.Errorf("failed to read %s record %d: %w", r.format, r.row+1, err)
			}
			r.row++
			r.skipped++
			r.logger.Warn("Skipping malformed record",
				zap.String("format", string(r.format)),
				zap.Int("row", r.row),
				zap.Error(err))
			continue
		}

		r.row++
		if rec.ID == "" {
			rec.ID = strconv.Itoa(r.row)
		}
		batch = append(batch, rec)
	}

	if len(batch) == 0 {
		return nil, io.EOF
	}
	return batch, nil
}

// recoverable reports whether the reader can continue past err.
func recoverable(err error) bool {
	var parseErr *csv.ParseError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &parseErr) || errors.As(err, &typeErr) || errors.Is(err, errShortRow)
}

// Skipped reports how many malformed rows were dropped so far.
func (r *RecordReader) Skipped() int {
	return r.skipped
}

// Close releases the underlying file.
func (r *RecordReader) Close() error {
	if r.closeFn != nil {
		if err := r.closeFn(); err != nil {
			r.file.Close()
			return err
		}
	}
	return r.file.Close()
}
