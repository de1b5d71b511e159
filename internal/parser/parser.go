// Package parser extracts the labeled zip-code attributes from a fetched page.
//
// Extraction is driven by the label text in each row's first span, never by
// row position, so reordered or extra rows do not shift values between fields.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/metrics"
)

// Row labels recognised in the stat table.
const (
	LabelZipCode        = "Zip Code:"
	LabelClassification = "Classification:"
	LabelCityType       = "City Type:"
	LabelTimeZone       = "Time Zone:"
	LabelCity           = "City:"
	LabelState          = "State:"
)

// Labels lists every recognised label in record field order.
var Labels = []string{
	LabelZipCode,
	LabelClassification,
	LabelCityType,
	LabelTimeZone,
	LabelCity,
	LabelState,
}

const tableSelector = "table.statTable"

// Parser turns raw results into records.
type Parser struct {
	logger *zap.Logger
}

// New constructs a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse extracts a record from one raw result. A failed fetch yields
// ErrEmptyContent and a page without the stat table yields ErrTableNotFound;
// in both cases the returned record carries the index and matching status.
// Labels absent from the table are listed on the record and are not errors.
func Parse(raw crawler.RawResult) (crawler.ParsedRecord, error) {
	if raw.Failed() {
		return crawler.ParsedRecord{Index: raw.Index, Status: crawler.RecordStatusFetchFailed}, crawler.ErrEmptyContent
	}
	rec, err := ParseHTML(raw.Content)
	rec.Index = raw.Index
	return rec, err
}

// ParseHTML extracts a record from page bytes. The returned record has no index.
func ParseHTML(body []byte) (crawler.ParsedRecord, error) {
	if len(body) == 0 {
		return crawler.ParsedRecord{Status: crawler.RecordStatusFetchFailed}, crawler.ErrEmptyContent
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawler.ParsedRecord{Status: crawler.RecordStatusTableNotFound}, fmt.Errorf("read html: %w", err)
	}
	table := doc.Find(tableSelector).First()
	if table.Length() == 0 {
		return crawler.ParsedRecord{Status: crawler.RecordStatusTableNotFound}, crawler.ErrTableNotFound
	}

	values := make(map[string]string, len(Labels))
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		span := row.Find("span").First()
		if span.Length() == 0 {
			return
		}
		label := strings.TrimSpace(span.Text())
		if !isLabel(label) {
			return
		}
		values[label] = stripLabel(row.Text(), label)
	})

	rec := crawler.ParsedRecord{
		ZipCode:        values[LabelZipCode],
		Classification: values[LabelClassification],
		CityType:       values[LabelCityType],
		TimeZone:       values[LabelTimeZone],
		City:           values[LabelCity],
		State:          values[LabelState],
		Status:         crawler.RecordStatusOK,
	}
	for _, label := range Labels {
		if _, ok := values[label]; !ok {
			rec.MissingLabels = append(rec.MissingLabels, label)
		}
	}
	return rec, nil
}

// stripLabel drops the label's length from the front of the row text. Rows
// whose text does not open with the label fall back to cutting at the label.
func stripLabel(rowText, label string) string {
	text := strings.TrimLeft(rowText, " \t\r\n")
	if strings.HasPrefix(text, label) {
		return strings.TrimSpace(text[len(label):])
	}
	if _, after, found := strings.Cut(text, label); found {
		return strings.TrimSpace(after)
	}
	return strings.TrimSpace(text)
}

func isLabel(s string) bool {
	for _, label := range Labels {
		if s == label {
			return true
		}
	}
	return false
}

// ParseAll parses every result, downgrading per-record failures to a record
// with empty fields and a non-ok status. The returned map holds exactly one
// record per input index.
func (p *Parser) ParseAll(results []crawler.RawResult) map[int]crawler.ParsedRecord {
	out := make(map[int]crawler.ParsedRecord, len(results))
	for _, raw := range results {
		rec, err := Parse(raw)
		switch {
		case err == nil:
			if len(rec.MissingLabels) > 0 {
				p.logger.Debug("labels missing from stat table",
					zap.Int("index", raw.Index),
					zap.Strings("missing", rec.MissingLabels),
				)
			}
		case errors.Is(err, crawler.ErrEmptyContent):
			rec = crawler.ParsedRecord{Index: raw.Index, Status: crawler.RecordStatusFetchFailed}
		default:
			p.logger.Warn("parse failed",
				zap.Int("index", raw.Index),
				zap.String("url", raw.URL),
				zap.Error(err),
			)
			rec = crawler.ParsedRecord{Index: raw.Index, Status: crawler.RecordStatusTableNotFound}
		}
		metrics.ObserveParse(string(rec.Status), len(rec.MissingLabels))
		out[raw.Index] = rec
	}
	return out
}
