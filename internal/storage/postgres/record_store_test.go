package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
)

func TestSaveRecordsInsertsRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "zip_records")
	require.NoError(t, err)

	records := []crawler.ParsedRecord{
		{
			Index:          0,
			ZipCode:        "10001",
			Classification: "Standard",
			CityType:       "P",
			TimeZone:       "Eastern (GMT -05:00)",
			City:           "New York",
			State:          "NY",
			Status:         crawler.RecordStatusOK,
		},
		{
			Index:         1,
			Status:        crawler.RecordStatusFetchFailed,
			MissingLabels: []string{"City:"},
		},
	}

	mock.ExpectExec(`INSERT INTO zip_records`).
		WithArgs(
			"run-1", 0, "10001", "Standard", "P", "Eastern (GMT -05:00)", "New York", "NY", "ok", []string{},
			"run-1", 1, "", "", "", "", "", "", "fetch_failed", []string{"City:"},
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, store.SaveRecords(context.Background(), "run-1", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsBatches(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	records := make([]crawler.ParsedRecord, rowsPerInsert+1)
	for i := range records {
		records[i] = crawler.ParsedRecord{Index: i, Status: crawler.RecordStatusOK}
	}

	mock.ExpectExec(`INSERT INTO zip_records`).WillReturnResult(pgxmock.NewResult("INSERT", rowsPerInsert))
	mock.ExpectExec(`INSERT INTO zip_records`).
		WithArgs("run-2", rowsPerInsert, "", "", "", "", "", "", "ok", []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveRecords(context.Background(), "run-2", records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRecordsWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "zip_records")
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO zip_records`).WillReturnError(errors.New("boom"))

	err = store.SaveRecords(context.Background(), "run-3", []crawler.ParsedRecord{{Index: 0}})
	require.ErrorContains(t, err, "insert records 0-0: boom")
}

func TestSaveRecordsRequiresRunID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "zip_records")
	require.NoError(t, err)
	require.Error(t, store.SaveRecords(context.Background(), "", nil))
}

func TestEnsureTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "zip_records")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS zip_records`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureTable(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStoreWithPool(nil, "zip_records")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRecordStoreWithPool(mock, "bad-name;")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewRecordStore(context.Background(), RecordStoreConfig{})
	require.ErrorContains(t, err, "db.dsn is required")
}

func TestPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres: down")
	require.NoError(t, mock.ExpectationsWereMet())
}
