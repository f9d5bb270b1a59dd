package csv

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/hed1ad/dace/pkg/consumption"
)

// ScoredHeader is the column order of scored output.
var ScoredHeader = []string{
	ColTimestamp, ColConsumptionKW, ColIsAnomaly, ColAnomalyKind,
	ColKMeansScore, ColIsolation, ColFinal,
}

// Writer writes scored readings as CSV. The header is written before the
// first row.
type Writer struct {
	closer      io.Closer
	writer      *csv.Writer
	wroteHeader bool
}

// NewWriter creates filename, truncating it if it exists.
func NewWriter(filename string) (*Writer, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	w := NewWriterTo(file)
	w.closer = file
	return w, nil
}

// NewWriterTo writes to dst. Close flushes but does not close dst.
func NewWriterTo(dst io.Writer) *Writer {
	return &Writer{writer: csv.NewWriter(dst)}
}

// Write outputs a single row.
func (w *Writer) Write(row consumption.ScoredReading) error {
	if err := w.header(); err != nil {
		return err
	}
	return w.writer.Write([]string{
		formatTime(row.Timestamp),
		formatFloat(row.ConsumptionKW),
		formatLabel(row.Reading),
		string(row.Kind),
		formatFloat(row.KMeansScore),
		strconv.FormatBool(row.IsolationAnomaly),
		strconv.FormatBool(row.FinalAnomaly),
	})
}

// WriteAll outputs rows and flushes.
func (w *Writer) WriteAll(rows []consumption.ScoredReading) error {
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}
	if err := w.header(); err != nil {
		return err
	}
	w.writer.Flush()
	return w.writer.Error()
}

// Close flushes and releases resources.
func (w *Writer) Close() error {
	w.writer.Flush()
	err := w.writer.Error()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *Writer) header() error {
	if w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return w.writer.Write(ScoredHeader)
}

// WriteLabeled writes a generated series with its ground truth and
// injected anomaly kind.
func WriteLabeled(dst io.Writer, series []consumption.LabeledReading) error {
	cw := csv.NewWriter(dst)
	if err := cw.Write([]string{ColTimestamp, ColConsumptionKW, ColIsAnomaly, ColAnomalyKind}); err != nil {
		return err
	}
	for _, lr := range series {
		err := cw.Write([]string{
			formatTime(lr.Timestamp),
			formatFloat(lr.ConsumptionKW),
			formatLabel(lr.Reading),
			string(lr.Kind),
		})
		if err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatLabel(r consumption.Reading) string {
	if !r.Labeled() {
		return ""
	}
	return strconv.FormatBool(r.Label())
}
