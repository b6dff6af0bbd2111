package writer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rxtech-lab/oanda-candles/internal/types"
)

// CSVWriter writes candles as CSV. Rows go to a temporary file next to the output
// which is renamed into place by Finalize.
type CSVWriter struct {
	outputPath string
	price      types.PriceClasses
	timeFormat types.TimeFormat

	file *os.File
	csv  *csv.Writer
}

// NewCSVWriter creates a new CSVWriter.
func NewCSVWriter(outputPath string, price types.PriceClasses, timeFormat types.TimeFormat) CandleWriter {
	return &CSVWriter{
		outputPath: outputPath,
		price:      price,
		timeFormat: timeFormat,
		file:       nil,
		csv:        nil,
	}
}

const defaultFileMode os.FileMode = 0o644

// Initialize creates the temporary file and writes the header row.
func (w *CSVWriter) Initialize() error {
	dir := filepath.Dir(w.outputPath)

	file, err := os.CreateTemp(dir, "."+filepath.Base(w.outputPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", dir, err)
	}

	w.file = file
	w.csv = csv.NewWriter(file)

	if err := w.csv.Write(w.price.Fields()); err != nil {
		w.discard()

		return fmt.Errorf("failed to write header: %w", err)
	}

	return nil
}

// Write appends one row.
func (w *CSVWriter) Write(candle types.Candle) error {
	if w.csv == nil {
		return fmt.Errorf("writer not initialized")
	}

	if err := w.csv.Write(w.price.Record(candle, w.timeFormat)); err != nil {
		return fmt.Errorf("failed to write candle %d: %w", candle.Time, err)
	}

	return nil
}

// Finalize flushes the rows and moves the temporary file to the output path.
func (w *CSVWriter) Finalize() (string, error) {
	if w.csv == nil {
		return "", fmt.Errorf("writer not initialized")
	}

	w.csv.Flush()

	if err := w.csv.Error(); err != nil {
		w.discard()

		return "", fmt.Errorf("failed to flush rows: %w", err)
	}

	if err := w.file.Close(); err != nil {
		w.discard()

		return "", fmt.Errorf("failed to close temporary file: %w", err)
	}

	if err := os.Chmod(w.file.Name(), outputMode(w.outputPath)); err != nil {
		w.discard()

		return "", fmt.Errorf("failed to set permissions of %s: %w", w.outputPath, err)
	}

	if err := os.Rename(w.file.Name(), w.outputPath); err != nil {
		w.discard()

		return "", fmt.Errorf("failed to move output to %s: %w", w.outputPath, err)
	}

	w.file = nil
	w.csv = nil

	return w.outputPath, nil
}

// Close removes the temporary file if Finalize was not called. It is safe to call twice.
func (w *CSVWriter) Close() error {
	if w.file == nil {
		return nil
	}

	return w.discard()
}

// GetOutputPath returns the final output path.
func (w *CSVWriter) GetOutputPath() string {
	return w.outputPath
}

func (w *CSVWriter) discard() error {
	if w.file == nil {
		return nil
	}

	name := w.file.Name()
	// the file may already be closed by Finalize
	_ = w.file.Close()

	w.file = nil
	w.csv = nil

	if err := os.Remove(name); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove temporary file %s: %w", name, err)
	}

	return nil
}

// outputMode keeps the permissions of an existing output file and uses 0644 otherwise.
func outputMode(path string) os.FileMode {
	if info, err := os.Stat(path); err == nil {
		return info.Mode().Perm()
	}

	return defaultFileMode
}
