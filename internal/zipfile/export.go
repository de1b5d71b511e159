package zipfile

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/JakeFAU/zipcrawler/internal/reconcile"
)

// Output formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{
	"index",
	"input_zip",
	"url",
	"zip_code",
	"classification",
	"city_type",
	"time_zone",
	"city",
	"state",
	"status",
	"class_code",
	"time_zone_name",
	"gmt_offset",
	"zip_mismatch",
	"missing_labels",
}

// WriteCSV writes rows with a header line.
func WriteCSV(w io.Writer, rows []reconcile.Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(r.Index),
			r.InputZip,
			r.URL,
			r.ZipCode,
			r.Classification,
			r.CityType,
			r.TimeZone,
			r.City,
			r.State,
			string(r.Status),
			r.ClassCode,
			r.TimeZoneName,
			r.GMTOffset,
			strconv.FormatBool(r.ZipMismatch),
			strings.Join(r.MissingLabels, ";"),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", r.Index, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteJSON writes rows as an indented JSON array.
func WriteJSON(w io.Writer, rows []reconcile.Row) error {
	if rows == nil {
		rows = []reconcile.Row{}
	}
	payload, err := sonic.ConfigStd.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rows: %w", err)
	}
	if _, err := w.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// Write dispatches on format.
func Write(w io.Writer, format string, rows []reconcile.Row) error {
	switch format {
	case FormatCSV, "":
		return WriteCSV(w, rows)
	case FormatJSON:
		return WriteJSON(w, rows)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteFile writes rows to path, creating parent directories.
func WriteFile(path, format string, rows []reconcile.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := Write(f, format, rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}
