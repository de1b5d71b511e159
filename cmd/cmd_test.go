package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/reconcile"
)

const pageTemplate = `<html><body><table class="statTable">
<tr><td><span>Zip Code:</span></td><td>%s</td></tr>
<tr><td><span>Classification:</span></td><td>Standard Zip Code</td></tr>
<tr><td><span>City Type:</span></td><td>P - Post Office</td></tr>
<tr><td><span>Time Zone:</span></td><td>Eastern (GMT -05:00)</td></tr>
<tr><td><span>City:</span></td><td>Somewhere</td></tr>
<tr><td><span>State:</span></td><td>NY</td></tr>
</table></body></html>`

func newZipServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zip := strings.TrimPrefix(r.URL.Path, "/zip/")
		switch zip {
		case "00404":
			http.NotFound(w, r)
		case "00777":
			_, _ = fmt.Fprint(w, "<html><body>no table here</body></html>")
		case "00501":
			_, _ = fmt.Fprintf(w, pageTemplate, "00544")
		default:
			_, _ = fmt.Fprintf(w, pageTemplate, zip)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeFixtures(t *testing.T, serverURL string) (dir, cfgPath string) {
	t.Helper()
	dir = t.TempDir()
	input := filepath.Join(dir, "zips.csv")
	require.NoError(t, os.WriteFile(input, []byte("zip\n10001\n404\n777\n501\n02134\n"), 0o600))

	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := fmt.Sprintf(`pool:
  size: 3
fetch:
  timeout_connect_seconds: 2
  timeout_read_seconds: 2
  timeout_cooldown_seconds: 0
input:
  path: "%s"
  url_template: "%s/zip/{zip}"
logging:
  development: false
  level: error
`, input, serverURL)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return dir, cfgPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlWritesCSV(t *testing.T) {
	t.Parallel()

	srv := newZipServer(t)
	dir, cfgPath := writeFixtures(t, srv.URL)
	output := filepath.Join(dir, "out", "zips.csv")

	_, err := execute(t, "crawl", "--config", cfgPath, "--output", output)
	require.NoError(t, err)

	f, err := os.Open(output) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck // test
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 6)

	byZip := map[string][]string{}
	for _, rec := range records[1:] {
		byZip[rec[1]] = rec
	}
	require.Equal(t, "ok", byZip["10001"][9])
	require.Equal(t, "Standard", byZip["10001"][10])
	require.Equal(t, "GMT -05:00", byZip["10001"][12])
	require.Equal(t, "fetch_failed", byZip["00404"][9])
	require.Equal(t, reconcile.ClassCodeNotFound, byZip["00404"][10])
	require.Equal(t, "table_not_found", byZip["00777"][9])
	require.Equal(t, reconcile.ClassCodeNone, byZip["00777"][10])
	require.Equal(t, "true", byZip["00501"][13])
	require.Equal(t, "02134", byZip["02134"][3])
}

func TestCrawlStreamJSONToStdout(t *testing.T) {
	t.Parallel()

	srv := newZipServer(t)
	_, cfgPath := writeFixtures(t, srv.URL)

	out, err := execute(t, "crawl", "--config", cfgPath, "--stream", "--format", "json", "--limit", "2")
	require.NoError(t, err)

	var rows []reconcile.Row
	require.NoError(t, sonic.UnmarshalString(out, &rows))
	require.Len(t, rows, 2)
	require.Equal(t, "10001", rows[0].ZipCode)
	require.Equal(t, crawler.RecordStatusFetchFailed, rows[1].Status)
}

func TestCrawlErrors(t *testing.T) {
	t.Parallel()

	srv := newZipServer(t)
	dir, cfgPath := writeFixtures(t, srv.URL)

	_, err := execute(t, "crawl", "--config", cfgPath, "--format", "xml")
	require.ErrorContains(t, err, "output.format")

	_, err = execute(t, "crawl", "--config", cfgPath, "--input", filepath.Join(dir, "missing.csv"))
	require.ErrorContains(t, err, "load input")

	_, err = execute(t, "crawl", "--config", filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(fmt.Sprintf(pageTemplate, "10001")), 0o600))

	out, err := execute(t, "parse", page, "--index", "7")
	require.NoError(t, err)

	var rec crawler.ParsedRecord
	require.NoError(t, sonic.UnmarshalString(out, &rec))
	require.Equal(t, 7, rec.Index)
	require.Equal(t, "10001", rec.ZipCode)
	require.Equal(t, "Somewhere", rec.City)
	require.Equal(t, crawler.RecordStatusOK, rec.Status)

	_, err = execute(t, "parse", filepath.Join(dir, "missing.html"))
	require.ErrorContains(t, err, "read page")
}

func TestParseCommandFromArchive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	object := filepath.Join("pages", "run-1", "000003.html")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pages", "run-1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, object), []byte(fmt.Sprintf(pageTemplate, "02134")), 0o600))

	out, err := execute(t, "parse", object, "--archive-dir", dir, "--index", "3")
	require.NoError(t, err)

	var rec crawler.ParsedRecord
	require.NoError(t, sonic.UnmarshalString(out, &rec))
	require.Equal(t, 3, rec.Index)
	require.Equal(t, "02134", rec.ZipCode)

	_, err = execute(t, "parse", "../outside.html", "--archive-dir", dir)
	require.ErrorContains(t, err, "path traversal")
}

func TestResolveAppMissing(t *testing.T) {
	t.Parallel()
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
