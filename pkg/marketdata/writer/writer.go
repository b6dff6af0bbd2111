// Package writer persists a downloaded candle series to a flat file.
package writer

import (
	"github.com/rxtech-lab/oanda-candles/internal/types"
)

// Format is the output file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// CandleWriter defines the interface for writing candles to a destination.
// Nothing is visible at the output path until Finalize succeeds.
type CandleWriter interface {
	// Initialize sets up the writer, potentially creating tables or files.
	Initialize() error
	// Write persists a single candle. Candles must be written in ascending time order.
	Write(candle types.Candle) error
	// Finalize completes the writing process and publishes the output file.
	Finalize() (outputPath string, err error)
	// Close releases any resources held by the writer and discards unfinished output.
	Close() error
	// GetOutputPath returns the configured output file path.
	GetOutputPath() string
}

// NewCandleWriter creates a writer for the given format. The column set is fixed by price.
func NewCandleWriter(format Format, outputPath string, price types.PriceClasses, timeFormat types.TimeFormat) (CandleWriter, error) {
	switch format {
	case FormatCSV:
		return NewCSVWriter(outputPath, price, timeFormat), nil
	case FormatParquet:
		return NewDuckDBWriter(outputPath, price, timeFormat), nil
	default:
		return nil, &UnsupportedFormatError{Format: format}
	}
}

// UnsupportedFormatError is returned by NewCandleWriter for an unknown format.
type UnsupportedFormatError struct {
	Format Format
}

func (e *UnsupportedFormatError) Error() string {
	return "unsupported output format: " + string(e.Format)
}
