package writer

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/rxtech-lab/oanda-candles/internal/types"
)

const candlesTable = "candles"

// DuckDBWriter stages candles in an in-memory DuckDB table and exports them as Parquet.
type DuckDBWriter struct {
	db         *sql.DB
	tx         *sql.Tx
	stmt       *sql.Stmt
	sq         squirrel.StatementBuilderType
	outputPath string
	price      types.PriceClasses
	timeFormat types.TimeFormat
}

// NewDuckDBWriter creates a new DuckDBWriter.
// outputPath is the Parquet file written by Finalize.
func NewDuckDBWriter(outputPath string, price types.PriceClasses, timeFormat types.TimeFormat) CandleWriter {
	return &DuckDBWriter{
		db:         nil,
		tx:         nil,
		stmt:       nil,
		sq:         squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		outputPath: outputPath,
		price:      price,
		timeFormat: timeFormat,
	}
}

// Initialize opens the database, creates the candles table with one column per field,
// begins a transaction and prepares the insert statement.
func (w *DuckDBWriter) Initialize() (err error) {
	w.db, err = sql.Open("duckdb", ":memory:")
	if err != nil {
		return fmt.Errorf("failed to open DuckDB connection: %w", err)
	}

	fields := w.price.Fields()

	_, err = w.db.Exec(w.createTableSQL(fields))
	if err != nil {
		w.db.Close()
		w.db = nil

		return fmt.Errorf("failed to create table: %w", err)
	}

	w.tx, err = w.db.Begin()
	if err != nil {
		w.db.Close()
		w.db = nil

		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	columns := make([]string, len(fields))
	placeholders := make([]any, len(fields))

	for i, field := range fields {
		columns[i] = quote(field)
	}

	insertSQL, _, err := w.sq.Insert(candlesTable).Columns(columns...).Values(placeholders...).ToSql()
	if err != nil {
		w.rollback()

		return fmt.Errorf("failed to build insert statement: %w", err)
	}

	w.stmt, err = w.tx.Prepare(insertSQL)
	if err != nil {
		w.rollback()

		return fmt.Errorf("failed to prepare statement: %w", err)
	}

	return nil
}

// Write inserts a single candle within the open transaction.
func (w *DuckDBWriter) Write(candle types.Candle) error {
	if w.stmt == nil {
		return fmt.Errorf("writer not initialized or statement is nil")
	}

	if _, err := w.stmt.Exec(w.row(candle)...); err != nil {
		return fmt.Errorf("failed to insert candle %d: %w", candle.Time, err)
	}

	return nil
}

// Finalize commits the transaction and exports the table to a Parquet file.
// The export goes to a temporary file that is renamed to the output path.
func (w *DuckDBWriter) Finalize() (outputPath string, err error) {
	if w.tx == nil {
		return "", fmt.Errorf("writer not initialized or transaction is nil")
	}

	if w.stmt != nil {
		w.stmt.Close()
		w.stmt = nil
	}

	if err = w.tx.Commit(); err != nil {
		w.tx.Rollback()
		w.tx = nil

		return "", fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.tx = nil

	tmpPath := filepath.Join(filepath.Dir(w.outputPath), "."+filepath.Base(w.outputPath)+".tmp")

	_, err = w.db.Exec(fmt.Sprintf(`COPY %s TO '%s' (FORMAT PARQUET)`, candlesTable, strings.ReplaceAll(tmpPath, "'", "''")))
	if err != nil {
		os.Remove(tmpPath)

		return "", fmt.Errorf("failed to export to Parquet: %w", err)
	}

	if err = os.Chmod(tmpPath, outputMode(w.outputPath)); err != nil {
		os.Remove(tmpPath)

		return "", fmt.Errorf("failed to set permissions of %s: %w", w.outputPath, err)
	}

	if err = os.Rename(tmpPath, w.outputPath); err != nil {
		os.Remove(tmpPath)

		return "", fmt.Errorf("failed to move output to %s: %w", w.outputPath, err)
	}

	return w.outputPath, nil
}

// Close cleans up resources used by the writer. It is safe to call more than once.
func (w *DuckDBWriter) Close() error {
	var closeErrors []string

	if w.stmt != nil {
		if err := w.stmt.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Sprintf("failed to close statement: %v", err))
		}

		w.stmt = nil
	}

	// Finalize was not called or failed before the commit
	if w.tx != nil {
		if err := w.tx.Rollback(); err != nil {
			closeErrors = append(closeErrors, fmt.Sprintf("failed to rollback transaction: %v", err))
		}

		w.tx = nil
	}

	if w.db != nil {
		if err := w.db.Close(); err != nil {
			closeErrors = append(closeErrors, fmt.Sprintf("failed to close db connection: %v", err))
		}

		w.db = nil
	}

	if len(closeErrors) > 0 {
		return fmt.Errorf("errors occurred during close:\n- %s", strings.Join(closeErrors, "\n- "))
	}

	return nil
}

// GetOutputPath returns the Parquet file path.
func (w *DuckDBWriter) GetOutputPath() string {
	return w.outputPath
}

func (w *DuckDBWriter) createTableSQL(fields []string) string {
	columns := make([]string, len(fields))

	for i, field := range fields {
		switch field {
		case "time":
			columns[i] = quote(field) + " " + w.timeColumnType()
		case "volume":
			columns[i] = quote(field) + " BIGINT"
		default:
			columns[i] = quote(field) + " DOUBLE"
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", candlesTable, strings.Join(columns, ", "))
}

func (w *DuckDBWriter) timeColumnType() string {
	if w.timeFormat == types.TimeFormatRFC3339 {
		return "TIMESTAMP"
	}

	return "BIGINT"
}

// row returns the insert arguments in the order of price.Fields().
func (w *DuckDBWriter) row(candle types.Candle) []any {
	values := make([]any, 0, 14)

	if w.timeFormat == types.TimeFormatRFC3339 {
		values = append(values, time.Unix(candle.Time, 0).UTC())
	} else {
		values = append(values, candle.Time)
	}

	if w.price.Ask {
		values = appendPrices(values, candle.Ask)
	}

	if w.price.Bid {
		values = appendPrices(values, candle.Bid)
	}

	if w.price.Mid {
		values = appendPrices(values, candle.Mid)
	}

	return append(values, candle.Volume)
}

func appendPrices(values []any, ohlc *types.OHLC) []any {
	if ohlc == nil {
		return append(values, nil, nil, nil, nil)
	}

	return append(values,
		ohlc.Open.InexactFloat64(),
		ohlc.High.InexactFloat64(),
		ohlc.Low.InexactFloat64(),
		ohlc.Close.InexactFloat64(),
	)
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}

func (w *DuckDBWriter) rollback() {
	w.tx.Rollback()
	w.tx = nil
	w.db.Close()
	w.db = nil
}
