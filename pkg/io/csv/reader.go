// Package csv reads and writes consumption readings as CSV files.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/dace/pkg/consumption"
)

// Column names shared by the reader and the writers.
const (
	ColTimestamp     = "timestamp"
	ColConsumptionKW = "consumption_kw"
	ColIsAnomaly     = "is_anomaly"
	ColAnomalyKind   = "anomaly_kind"
	ColKMeansScore   = "kmeans_anomaly_score"
	ColIsolation     = "isolation_forest_anomaly"
	ColFinal         = "final_anomaly"
)

var (
	// ErrMissingColumn is returned when a required header is absent.
	ErrMissingColumn = errors.New("missing column")
	// ErrMalformedRow is returned for a row that cannot be parsed.
	ErrMalformedRow = errors.New("malformed row")
)

// timestamps are accepted in RFC 3339 or the space-separated form most
// dataframe exports use.
var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

// Reader reads readings from CSV files.
type Reader struct {
	closer    io.Closer
	reader    *csv.Reader
	hasHeader bool
	headers   []string

	tsCol, kwCol, labelCol int
	line                   int
}

// Option configures a CSV reader.
type Option func(*Reader)

// WithHeader indicates the CSV has a header row. Without one, columns are
// positional: timestamp, consumption_kw and an optional is_anomaly.
func WithHeader(has bool) Option {
	return func(r *Reader) {
		r.hasHeader = has
	}
}

// NewReader opens filename for reading.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFrom(file, opts...)
	if err != nil {
		file.Close()
		return nil, err
	}
	r.closer = file
	return r, nil
}

// NewReaderFrom reads from src. Close does not close src.
func NewReaderFrom(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:    csv.NewReader(src),
		hasHeader: true,
		tsCol:     0,
		kwCol:     1,
		labelCol:  2,
	}
	r.reader.FieldsPerRecord = -1

	for _, opt := range opts {
		opt(r)
	}

	if r.hasHeader {
		headers, err := r.reader.Read()
		if err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
		r.line++
		if err := r.locate(headers); err != nil {
			return nil, err
		}
		r.headers = headers
	}

	return r, nil
}

func (r *Reader) locate(headers []string) error {
	r.tsCol, r.kwCol, r.labelCol = -1, -1, -1
	for i, h := range headers {
		switch strings.TrimSpace(strings.ToLower(h)) {
		case ColTimestamp:
			r.tsCol = i
		case ColConsumptionKW:
			r.kwCol = i
		case ColIsAnomaly:
			r.labelCol = i
		}
	}
	if r.tsCol < 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, ColTimestamp)
	}
	if r.kwCol < 0 {
		return fmt.Errorf("%w: %s", ErrMissingColumn, ColConsumptionKW)
	}
	return nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// Read returns every remaining reading. A malformed row aborts the read.
func (r *Reader) Read() ([]consumption.Reading, error) {
	var readings []consumption.Reading

	for {
		record, err := r.reader.Read()
		if err == io.EOF {
			break
		}
		r.line++
		if err != nil {
			return nil, err
		}

		reading, err := r.parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("%w at line %d: %v", ErrMalformedRow, r.line, err)
		}
		readings = append(readings, reading)
	}

	return readings, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) parseRow(record []string) (consumption.Reading, error) {
	if len(record) <= r.tsCol || len(record) <= r.kwCol {
		return consumption.Reading{}, fmt.Errorf("%d fields", len(record))
	}

	ts, err := parseTime(record[r.tsCol])
	if err != nil {
		return consumption.Reading{}, err
	}
	kw, err := strconv.ParseFloat(strings.TrimSpace(record[r.kwCol]), 64)
	if err != nil {
		return consumption.Reading{}, err
	}

	reading := consumption.Reading{Timestamp: ts, ConsumptionKW: kw}
	if r.labelCol >= 0 && r.labelCol < len(record) {
		if v := strings.TrimSpace(record[r.labelCol]); v != "" {
			label, err := strconv.ParseBool(v)
			if err != nil {
				return consumption.Reading{}, err
			}
			reading = reading.WithLabel(label)
		}
	}
	return reading, nil
}

func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	var firstErr error
	for _, layout := range timeLayouts {
		ts, err := time.Parse(layout, v)
		if err == nil {
			return ts, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}
