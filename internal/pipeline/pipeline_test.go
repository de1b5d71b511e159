package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/zipcrawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/zipcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/zipcrawler/internal/storage/memory"
	redisstore "github.com/JakeFAU/zipcrawler/internal/storage/redis"
	"github.com/JakeFAU/zipcrawler/internal/useragent"
)

func zipPage(zip, city string) string {
	return fmt.Sprintf(`<html><body><table class="statTable">
<tr><td><span>Zip Code:</span></td><td>%s</td></tr>
<tr><td><span>Classification:</span></td><td>Standard Zip Code</td></tr>
<tr><td><span>City Type:</span></td><td>P - Post Office</td></tr>
<tr><td><span>Time Zone:</span></td><td>Eastern (GMT -05:00)</td></tr>
<tr><td><span>City:</span></td><td>%s</td></tr>
<tr><td><span>State:</span></td><td>NY</td></tr>
</table></body></html>`, zip, city)
}

func memoryStores() StoreFactory {
	return func(string) (crawler.ResultStore, error) {
		return memory.NewResultStore(), nil
	}
}

type funcFetcher func(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error)

func (f funcFetcher) Fetch(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return f(ctx, req)
}

func pageFetcher() funcFetcher {
	return func(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
		if req.Index%3 == 0 {
			return crawler.FetchResponse{}, &crawler.FetchError{Kind: crawler.FailureConnection, URL: req.URL}
		}
		zip := req.URL[strings.LastIndex(req.URL, "/")+1:]
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(zipPage(zip, "Town"))}, nil
	}
}

func makeTasks(n int) []crawler.Task {
	tasks := make([]crawler.Task, n)
	for i := range tasks {
		zip := fmt.Sprintf("%05d", i)
		tasks[i] = crawler.Task{Index: i, Zip: zip, URL: "http://zips.test/" + zip}
	}
	return tasks
}

type mockRecordStore struct {
	mock.Mock
}

func (m *mockRecordStore) SaveRecords(ctx context.Context, runID string, records []crawler.ParsedRecord) error {
	args := m.Called(ctx, runID, records)
	return args.Error(0)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{"pool size", Config{}, Deps{Fetcher: pageFetcher(), NewStore: memoryStores()}},
		{"capacity", Config{PoolSize: 1, QueueCapacity: -1}, Deps{Fetcher: pageFetcher(), NewStore: memoryStores()}},
		{"fetcher", Config{PoolSize: 1}, Deps{NewStore: memoryStores()}},
		{"store", Config{PoolSize: 1}, Deps{Fetcher: pageFetcher()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg, tt.deps, nil)
			require.Error(t, err)
		})
	}
}

func TestRunWithCollyFetcher(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		agents = map[string]bool{}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents[r.Header.Get("User-Agent")] = true
		mu.Unlock()
		zip := strings.TrimPrefix(r.URL.Path, "/zip/")
		if zip == "00002" {
			http.NotFound(w, r)
			return
		}
		_, _ = fmt.Fprint(w, zipPage(zip, "City "+zip))
	}))
	defer srv.Close()

	tasks := make([]crawler.Task, 5)
	for i := range tasks {
		zip := fmt.Sprintf("%05d", i)
		tasks[i] = crawler.Task{Index: i, Zip: zip, URL: srv.URL + "/zip/" + zip}
	}

	archive := memory.NewBlobStore()
	p, err := New(Config{PoolSize: 3, ArchivePrefix: "raw"}, Deps{
		Fetcher:   collyfetcher.New(collyfetcher.Config{ConnectTimeout: time.Second, ReadTimeout: time.Second}),
		Decorator: useragent.New(useragent.WithSeed(1)),
		NewStore:  memoryStores(),
		Archive:   archive,
	}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Run(context.Background(), tasks)
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	require.Len(t, res.Raw, 5)
	require.Len(t, res.Records, 5)
	require.Equal(t, "City 00004", res.Records[4].City)
	require.Equal(t, crawler.RecordStatusFetchFailed, res.Records[2].Status)
	require.Equal(t, crawler.FailureNonOKStatus, res.Raw[2].Failure)
	require.Equal(t, http.StatusNotFound, res.Raw[2].StatusCode)

	require.Equal(t, 4, res.Archived)
	require.Equal(t, 4, archive.Len())
	page, ok := archive.Object(ArchivePath("raw", res.RunID, 1))
	require.True(t, ok)
	require.Contains(t, string(page), "City 00001")

	require.Equal(t, 5, res.Progress.Total)
	require.Equal(t, 4, res.Progress.Succeeded)
	require.True(t, res.Progress.Finished)

	mu.Lock()
	defer mu.Unlock()
	require.NotContains(t, agents, "")
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	records := &mockRecordStore{}
	records.On("SaveRecords", mock.Anything, mock.AnythingOfType("string"), mock.MatchedBy(func(recs []crawler.ParsedRecord) bool {
		if len(recs) != 60 {
			return false
		}
		for i, rec := range recs {
			if rec.Index != i {
				return false
			}
		}
		return true
	})).Return(nil).Once()

	p, err := New(Config{PoolSize: 6}, Deps{
		Fetcher:  pageFetcher(),
		NewStore: memoryStores(),
		Records:  records,
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), makeTasks(60))
	require.NoError(t, err)
	require.Len(t, res.Records, 60)
	for i, rec := range res.Records {
		if i%3 == 0 {
			require.Equal(t, crawler.RecordStatusFetchFailed, rec.Status, i)
			continue
		}
		require.Equal(t, crawler.RecordStatusOK, rec.Status, i)
		require.Equal(t, fmt.Sprintf("%05d", i), rec.ZipCode)
	}
	require.Equal(t, 20, res.Progress.Failures[crawler.FailureConnection])
	records.AssertExpectations(t)
}

func TestRunStream(t *testing.T) {
	t.Parallel()

	p, err := New(Config{PoolSize: 4, QueueCapacity: 2}, Deps{
		Fetcher:  pageFetcher(),
		NewStore: memoryStores(),
	}, nil)
	require.NoError(t, err)

	_, ok := p.Progress()
	require.False(t, ok)

	tasks := make(chan crawler.Task)
	go func() {
		defer close(tasks)
		for _, task := range makeTasks(40) {
			tasks <- task
		}
	}()

	res, err := p.RunStream(context.Background(), tasks)
	require.NoError(t, err)
	require.Len(t, res.Raw, 40)
	require.Equal(t, 40, res.Progress.Total)

	snap, ok := p.Progress()
	require.True(t, ok)
	require.Equal(t, res.RunID, snap.RunID)
	require.True(t, snap.Finished)
}

func TestRunStreamCanceled(t *testing.T) {
	t.Parallel()

	p, err := New(Config{PoolSize: 2}, Deps{
		Fetcher:  pageFetcher(),
		NewStore: memoryStores(),
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	tasks := make(chan crawler.Task)
	go func() {
		tasks <- crawler.Task{Index: 1, URL: "http://zips.test/00001"}
		cancel()
	}()

	_, err = p.RunStream(ctx, tasks)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunPropagatesStoreAndPersistErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p, err := New(Config{PoolSize: 1}, Deps{
		Fetcher: pageFetcher(),
		NewStore: func(string) (crawler.ResultStore, error) {
			return nil, boom
		},
	}, nil)
	require.NoError(t, err)
	_, err = p.Run(context.Background(), makeTasks(2))
	require.ErrorIs(t, err, boom)

	records := &mockRecordStore{}
	records.On("SaveRecords", mock.Anything, mock.Anything, mock.Anything).Return(boom)
	p, err = New(Config{PoolSize: 1}, Deps{
		Fetcher:  pageFetcher(),
		NewStore: memoryStores(),
		Records:  records,
	}, nil)
	require.NoError(t, err)
	res, err := p.Run(context.Background(), makeTasks(2))
	require.ErrorIs(t, err, boom)
	require.Len(t, res.Records, 2)
}

func TestRunIDError(t *testing.T) {
	t.Parallel()

	p, err := New(Config{PoolSize: 1}, Deps{Fetcher: pageFetcher(), NewStore: memoryStores()}, nil)
	require.NoError(t, err)
	p.newID = func() (string, error) { return "", errors.New("no entropy") }
	_, err = p.Run(context.Background(), makeTasks(1))
	require.ErrorContains(t, err, "no entropy")
}

func TestArchivePath(t *testing.T) {
	t.Parallel()
	require.Equal(t, "raw/run-1/000042.html", ArchivePath("raw", "run-1", 42))
	require.Equal(t, "run-1/000000.html", ArchivePath("", "run-1", 0))
}

func TestRunWithRedisStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var key string
	p, err := New(Config{PoolSize: 5}, Deps{
		Fetcher: pageFetcher(),
		NewStore: func(runID string) (crawler.ResultStore, error) {
			store := redisstore.NewResultStore(client, "zc", runID)
			key = store.Key()
			return store, nil
		},
	}, nil)
	require.NoError(t, err)

	res, err := p.Run(context.Background(), makeTasks(30))
	require.NoError(t, err)
	require.Len(t, res.Records, 30)
	require.Len(t, res.Raw, 30)
	require.Equal(t, "zc:"+res.RunID+":raw", key)
	require.Equal(t, "00001", res.Records[1].ZipCode)
	require.False(t, mr.Exists(key), "raw results are cleared once persisted")
}

func TestRunKeepsRedisResultsWhenPersistFails(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	records := &mockRecordStore{}
	records.On("SaveRecords", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("db down"))

	var key string
	p, err := New(Config{PoolSize: 2}, Deps{
		Fetcher: pageFetcher(),
		NewStore: func(runID string) (crawler.ResultStore, error) {
			store := redisstore.NewResultStore(client, "zc", runID)
			key = store.Key()
			return store, nil
		},
		Records: records,
	}, nil)
	require.NoError(t, err)

	_, err = p.Run(context.Background(), makeTasks(5))
	require.ErrorContains(t, err, "db down")

	fields, err := mr.HKeys(key)
	require.NoError(t, err)
	require.Len(t, fields, 5)
}

func TestRunRejectsDuplicateIndex(t *testing.T) {
	t.Parallel()

	var fetches int
	var mu sync.Mutex
	fetcher := funcFetcher(func(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		return pageFetcher()(ctx, req)
	})
	p, err := New(Config{PoolSize: 2}, Deps{Fetcher: fetcher, NewStore: memoryStores()}, nil)
	require.NoError(t, err)

	tasks := append(makeTasks(3), crawler.Task{Index: 1, URL: "http://zips.test/00001"})
	_, err = p.Run(context.Background(), tasks)
	require.ErrorIs(t, err, crawler.ErrDuplicateTask)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, fetches)
}

func TestRunStreamRejectsIndexAlreadyAcked(t *testing.T) {
	t.Parallel()

	fetched := make(chan int, 4)
	fetcher := funcFetcher(func(ctx context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
		fetched <- req.Index
		return pageFetcher()(ctx, req)
	})
	p, err := New(Config{PoolSize: 1, QueueCapacity: 1}, Deps{Fetcher: fetcher, NewStore: memoryStores()}, nil)
	require.NoError(t, err)

	tasks := make(chan crawler.Task)
	go func() {
		defer close(tasks)
		tasks <- crawler.Task{Index: 1, URL: "http://zips.test/00001"}
		// The first copy is fetched, so the queue no longer tracks it.
		<-fetched
		time.Sleep(20 * time.Millisecond)
		tasks <- crawler.Task{Index: 1, URL: "http://zips.test/00001"}
	}()

	_, err = p.RunStream(context.Background(), tasks)
	require.ErrorIs(t, err, crawler.ErrDuplicateTask)
	require.Len(t, fetched, 0, "the repeated index is never fetched")
}
