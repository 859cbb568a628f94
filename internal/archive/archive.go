// Package archive exports vault entries to Parquet files for cold storage.
// Archives hold original values and need the same protection as the vault.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/raaihank/moltkeeper/internal/vault"
)

// Row is one archived vault entry.
type Row struct {
	SessionID     string `parquet:"session_id" json:"session_id"`
	Placeholder   string `parquet:"placeholder" json:"placeholder"`
	OriginalValue string `parquet:"original_value" json:"original_value"`
	CreatedAt     string `parquet:"created_at" json:"created_at"`
}

// Exporter writes vault entries as Parquet.
type Exporter struct {
	logger *zap.Logger
}

// NewExporter creates an exporter.
func NewExporter(logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{logger: logger}
}

// Export writes entries to w, tagged with sessionID, and returns the number
// of rows written.
func (e *Exporter) Export(w io.Writer, sessionID string, entries []vault.Entry) (int, error) {
	writer := parquet.NewGenericWriter[Row](w)

	rows := make([]Row, 0, len(entries))
	for _, entry := range entries {
		row := Row{
			SessionID:     sessionID,
			Placeholder:   entry.Placeholder,
			OriginalValue: entry.OriginalValue,
		}
		if !entry.CreatedAt.IsZero() {
			row.CreatedAt = entry.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
		rows = append(rows, row)
	}

	n, err := writer.Write(rows)
	if err != nil {
		writer.Close()
		return n, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("failed to finish parquet file: %w", err)
	}
	return n, nil
}

// ExportFile writes every entry of v to path.
func (e *Exporter) ExportFile(path, sessionID string, v *vault.Vault) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create archive directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive: %w", err)
	}

	n, err := e.Export(file, sessionID, v.Entries())
	if cerr := file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close archive: %w", cerr)
	}
	if err != nil {
		return n, err
	}

	e.logger.Info("Vault archived",
		zap.String("path", path),
		zap.String("session_id", sessionID),
		zap.Int("rows", n))

	return n, nil
}

// ReadFile reads an archive back.
func ReadFile(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var rows []Row
	for {
		var row Row
		err := reader.Read(&row)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read archive row: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}
