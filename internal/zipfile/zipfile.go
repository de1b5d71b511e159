// Package zipfile reads the input zip list and writes reconciled output.
package zipfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

// DefaultURLTemplate is the reference page layout; {zip} is replaced by the
// normalized zip code.
const DefaultURLTemplate = "https://www.zip-codes.com/zip-code/{zip}/zip-code-{zip}.asp"

const zipWidth = 5

// LoadOptions controls how rows become tasks.
type LoadOptions struct {
	ZipColumn   string
	URLTemplate string
	// Limit caps the number of rows read; zero reads everything.
	Limit int
}

// NormalizeZip keeps the first five characters and left-pads with zeros.
func NormalizeZip(raw string) string {
	s := strings.TrimSpace(raw)
	if len(s) > zipWidth {
		s = s[:zipWidth]
	}
	if len(s) < zipWidth {
		s = strings.Repeat("0", zipWidth-len(s)) + s
	}
	return s
}

// BuildURL expands the template for zip.
func BuildURL(template, zip string) string {
	if template == "" {
		template = DefaultURLTemplate
	}
	return strings.ReplaceAll(template, "{zip}", zip)
}

// LoadFile opens path and reads tasks from it.
func LoadFile(path string, opts LoadOptions) ([]crawler.Task, error) {
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only
	return Load(f, opts)
}

// Load reads a CSV with a header row and returns one task per data row. Task
// indices follow row order starting at zero.
func Load(r io.Reader, opts LoadOptions) ([]crawler.Task, error) {
	column := opts.ZipColumn
	if column == "" {
		column = "zip"
	}
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("input is empty")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")), column) {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("column %q not found in header", column)
	}

	var tasks []crawler.Task
	for line := 2; ; line++ {
		if opts.Limit > 0 && len(tasks) >= opts.Limit {
			break
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}
		if col >= len(record) || strings.TrimSpace(record[col]) == "" {
			return nil, fmt.Errorf("line %d: empty zip", line)
		}
		zip := NormalizeZip(record[col])
		tasks = append(tasks, crawler.Task{
			Index: len(tasks),
			Zip:   zip,
			URL:   BuildURL(opts.URLTemplate, zip),
		})
	}
	return tasks, nil
}
