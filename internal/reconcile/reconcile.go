// Package reconcile joins parsed records back onto the input zip list and
// derives the summary columns used downstream.
package reconcile

import (
	"strings"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

// Class codes for rows without a usable classification.
const (
	ClassCodeNone     = "N"
	ClassCodeNotFound = "NF"
)

// Row is one reconciled output line.
type Row struct {
	Index          int                  `json:"index"`
	InputZip       string               `json:"input_zip"`
	URL            string               `json:"url"`
	ZipCode        string               `json:"zip_code"`
	Classification string               `json:"classification"`
	CityType       string               `json:"city_type"`
	TimeZone       string               `json:"time_zone"`
	City           string               `json:"city"`
	State          string               `json:"state"`
	Status         crawler.RecordStatus `json:"status"`
	ClassCode      string               `json:"class_code"`
	TimeZoneName   string               `json:"time_zone_name"`
	GMTOffset      string               `json:"gmt_offset"`
	ZipMismatch    bool                 `json:"zip_mismatch"`
	MissingLabels  []string             `json:"missing_labels,omitempty"`
}

// Summary counts reconciled rows by outcome.
type Summary struct {
	Total         int `json:"total"`
	OK            int `json:"ok"`
	FetchFailed   int `json:"fetch_failed"`
	TableNotFound int `json:"table_not_found"`
	Mismatches    int `json:"mismatches"`
}

// Join pairs each task with the record stored under its index, in task
// order. A task with no record is treated as a failed fetch.
func Join(tasks []crawler.Task, records map[int]crawler.ParsedRecord) []Row {
	rows := make([]Row, 0, len(tasks))
	for _, task := range tasks {
		rec, ok := records[task.Index]
		if !ok {
			rec = crawler.ParsedRecord{Index: task.Index, Status: crawler.RecordStatusFetchFailed}
		}
		rows = append(rows, buildRow(task, rec))
	}
	return rows
}

func buildRow(task crawler.Task, rec crawler.ParsedRecord) Row {
	return Row{
		Index:          task.Index,
		InputZip:       task.Zip,
		URL:            task.URL,
		ZipCode:        rec.ZipCode,
		Classification: rec.Classification,
		CityType:       rec.CityType,
		TimeZone:       rec.TimeZone,
		City:           rec.City,
		State:          rec.State,
		Status:         rec.Status,
		ClassCode:      ClassCode(rec),
		TimeZoneName:   firstWord(rec.TimeZone),
		GMTOffset:      GMTOffset(rec.TimeZone),
		ZipMismatch:    rec.Status == crawler.RecordStatusOK && rec.ZipCode != task.Zip,
		MissingLabels:  rec.MissingLabels,
	}
}

// ClassCode is the first word of the classification, N when it is empty and
// NF when the page could not be fetched.
func ClassCode(rec crawler.ParsedRecord) string {
	if rec.Status == crawler.RecordStatusFetchFailed {
		return ClassCodeNotFound
	}
	if code := firstWord(rec.Classification); code != "" {
		return code
	}
	return ClassCodeNone
}

// GMTOffset returns the text inside the time zone's parentheses, e.g.
// "GMT -05:00" for "Eastern (GMT -05:00)".
func GMTOffset(timeZone string) string {
	_, after, found := strings.Cut(timeZone, "(")
	if !found {
		return ""
	}
	inner, _, _ := strings.Cut(after, ")")
	return strings.TrimSpace(inner)
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Summarize counts rows by status and mismatch.
func Summarize(rows []Row) Summary {
	s := Summary{Total: len(rows)}
	for _, r := range rows {
		switch r.Status {
		case crawler.RecordStatusOK:
			s.OK++
		case crawler.RecordStatusFetchFailed:
			s.FetchFailed++
		case crawler.RecordStatusTableNotFound:
			s.TableNotFound++
		}
		if r.ZipMismatch {
			s.Mismatches++
		}
	}
	return s
}

// Mismatches returns only the rows whose parsed zip differs from the input.
func Mismatches(rows []Row) []Row {
	var out []Row
	for _, r := range rows {
		if r.ZipMismatch {
			out = append(out, r)
		}
	}
	return out
}
