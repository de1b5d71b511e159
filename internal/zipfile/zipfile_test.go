package zipfile

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	"github.com/JakeFAU/zipcrawler/internal/reconcile"
)

func TestNormalizeZip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"10001", "10001"},
		{"501", "00501"},
		{" 2134 ", "02134"},
		{"10001-1234", "10001"},
		{"123456789", "12345"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, NormalizeZip(tt.in))
		})
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	require.Equal(t,
		"https://www.zip-codes.com/zip-code/00501/zip-code-00501.asp",
		BuildURL("", "00501"),
	)
	require.Equal(t, "http://localhost/z/10001", BuildURL("http://localhost/z/{zip}", "10001"))
}

func TestLoad(t *testing.T) {
	t.Parallel()

	input := "state,zip\nNY,10001\nNY,501\nMA,02134-0001\n"
	tasks, err := Load(strings.NewReader(input), LoadOptions{ZipColumn: "zip"})
	require.NoError(t, err)
	require.Equal(t, []crawler.Task{
		{Index: 0, Zip: "10001", URL: BuildURL("", "10001")},
		{Index: 1, Zip: "00501", URL: BuildURL("", "00501")},
		{Index: 2, Zip: "02134", URL: BuildURL("", "02134")},
	}, tasks)
}

func TestLoadLimit(t *testing.T) {
	t.Parallel()

	tasks, err := Load(strings.NewReader("zip\n1\n2\n3\n"), LoadOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "input is empty"},
		{"missing column", "code\n1\n", `column "zip" not found`},
		{"blank zip", "zip,state\n,NY\n", "line 2: empty zip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(strings.NewReader(tt.input), LoadOptions{})
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "zips.csv")
	require.NoError(t, os.WriteFile(path, []byte("zipcde\n10001\n"), 0o600))
	tasks, err := LoadFile(path, LoadOptions{ZipColumn: "zipcde", URLTemplate: "http://x/{zip}"})
	require.NoError(t, err)
	require.Equal(t, "http://x/10001", tasks[0].URL)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), LoadOptions{})
	require.Error(t, err)
}

func sampleRows() []reconcile.Row {
	return []reconcile.Row{
		{
			Index:          0,
			InputZip:       "10001",
			ZipCode:        "10001",
			Classification: "Standard Zip Code",
			TimeZone:       "Eastern (GMT -05:00)",
			City:           "New York",
			State:          "NY",
			Status:         crawler.RecordStatusOK,
			ClassCode:      "Standard",
			TimeZoneName:   "Eastern",
			GMTOffset:      "GMT -05:00",
		},
		{
			Index:         1,
			InputZip:      "00501",
			Status:        crawler.RecordStatusOK,
			ClassCode:     "N",
			ZipMismatch:   true,
			MissingLabels: []string{"City:", "State:"},
		},
	}
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRows()))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])
	require.Equal(t, "New York", records[1][7])
	require.Equal(t, "true", records[2][13])
	require.Equal(t, "City:;State:", records[2][14])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, sampleRows()))

	var decoded []reconcile.Row
	require.NoError(t, sonic.Unmarshal(buf.Bytes(), &decoded))
	require.Equal(t, sampleRows(), decoded)
}

func TestWriteFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "zips.json")
	require.NoError(t, WriteFile(path, FormatJSON, sampleRows()))
	data, err := os.ReadFile(path) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	require.Contains(t, string(data), `"zip_mismatch": true`)

	require.Error(t, Write(&bytes.Buffer{}, "xml", nil))
}
