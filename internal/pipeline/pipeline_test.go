package pipeline_test

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/docuvault/ingest/config"
	"github.com/docuvault/ingest/internal/alerts"
	"github.com/docuvault/ingest/internal/mft"
	"github.com/docuvault/ingest/internal/models"
	"github.com/docuvault/ingest/internal/pipeline"
	"github.com/docuvault/ingest/internal/store"
	"github.com/docuvault/ingest/pkg/logger"
	"github.com/docuvault/ingest/pkg/resilience"
	"github.com/docuvault/ingest/pkg/storage"
)

// memObject adapts a byte slice to the storage.Object contract.
type memObject struct {
	*bytes.Reader
}

func (memObject) Close() error { return nil }

// memStore is an in-memory storage.Store for pipeline tests. Copy tracks the
// number of concurrent calls so tests can assert the parallelism bound.
type memStore struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	tags    map[string]map[string]string

	inFlightCopies int32
	maxCopies      int32
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		buckets: make(map[string]map[string][]byte),
		tags:    make(map[string]map[string]string),
	}
}

func (m *memStore) EnsureBucket(_ context.Context, bucket string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	return nil
}

func (m *memStore) Put(_ context.Context, bucket, key string, r io.Reader, _ int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.buckets[bucket]; !ok {
		m.buckets[bucket] = make(map[string][]byte)
	}
	m.buckets[bucket][key] = data
	return nil
}

func (m *memStore) Get(_ context.Context, bucket, key string) (storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[bucket][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return memObject{bytes.NewReader(data)}, nil
}

func (m *memStore) Stat(_ context.Context, bucket, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[bucket][key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memStore) Copy(_ context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	cur := atomic.AddInt32(&m.inFlightCopies, 1)
	defer atomic.AddInt32(&m.inFlightCopies, -1)
	for {
		max := atomic.LoadInt32(&m.maxCopies)
		if cur <= max || atomic.CompareAndSwapInt32(&m.maxCopies, max, cur) {
			break
		}
	}
	// Keep the copy in flight long enough for overlap to be observable.
	time.Sleep(2 * time.Millisecond)

	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.buckets[srcBucket][srcKey]
	if !ok {
		return storage.ErrNotFound
	}
	if _, ok := m.buckets[dstBucket]; !ok {
		m.buckets[dstBucket] = make(map[string][]byte)
	}
	m.buckets[dstBucket][dstKey] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) CopyStatus(ctx context.Context, dstBucket, dstKey string) (storage.CopyState, error) {
	if _, err := m.Stat(ctx, dstBucket, dstKey); err != nil {
		return storage.CopyPending, nil
	}
	return storage.CopySuccess, nil
}

func (m *memStore) SetTags(_ context.Context, bucket, key string, tagSet map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tags[bucket+"/"+key] = tagSet
	return nil
}

// memSource serves archives from memory and counts opens, so tests can assert
// that redeliveries do not re-download.
type memSource struct {
	files map[string][]byte
	opens int32
}

var _ mft.Source = (*memSource)(nil)

func (s *memSource) Exists(_ context.Context, remotePath string) (bool, error) {
	_, ok := s.files[remotePath]
	return ok, nil
}

func (s *memSource) Open(_ context.Context, remotePath string) (io.ReadCloser, error) {
	data, ok := s.files[remotePath]
	if !ok {
		return nil, mft.ErrNotFound
	}
	atomic.AddInt32(&s.opens, 1)
	return io.NopCloser(bytes.NewReader(data)), nil
}

func testConfig() *config.ProcessingConfig {
	return &config.ProcessingConfig{
		MaxParallelism:   4,
		DBBatchSize:      100,
		MetadataFileName: "metadata.json",
		StageBucket:      "stage",
		ProdBucket:       "prod",
		CopyTimeout:      time.Second,
		CopyPollInterval: time.Millisecond,
		ProcessingLease:  time.Hour,
	}
}

type harness struct {
	store   *store.Store
	objects *memStore
	source  *memSource
	orch    *pipeline.Orchestrator
	cfg     *config.ProcessingConfig
}

func newHarness(t *testing.T, cfg *config.ProcessingConfig, source *memSource) *harness {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	objects := newMemStore()
	log := logger.NewTestLogger()
	policies := resilience.NewPolicies(nil)
	al := alerts.NopAlerts{}

	engine := pipeline.NewEngine(db, db, db, objects, policies, cfg, al, log)
	stager := pipeline.NewStager(db, policies, log)
	orch := pipeline.NewOrchestrator(db, objects, source, engine, stager, policies, cfg, al, log)

	return &harness{store: db, objects: objects, source: source, orch: orch, cfg: cfg}
}

// buildArchive zips the given name->content entries.
func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func descriptorJSON(docs ...string) string {
	var b bytes.Buffer
	b.WriteString(`{"country":"NL","appname":"claims","doctypes":[{"doctype":"invoice","documents":[`)
	for i, d := range docs {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"filepath":"docs/%s.pdf","fileguid":"guid-%s","extension":"pdf","tags":[{"retention":"7y"}]}`, d, d)
	}
	b.WriteString(`]}]}`)
	return b.String()
}

func TestRunPromotesAllDocuments(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"metadata.json": descriptorJSON("a", "b"),
		"docs/a.pdf":    "doc a",
		"docs/b.pdf":    "doc b",
	})
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}
	h := newHarness(t, testConfig(), source)

	job, err := h.orch.Run(context.Background(), models.IngestMessage{
		CorrelationID: "corr-1",
		ArchivePath:   "/outbound/batch.zip",
		Country:       "NL",
		AppName:       "claims",
	})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, 2, job.TotalDocuments)
	require.Equal(t, 2, job.SuccessDocuments)
	require.Equal(t, 0, job.FailedDocuments)

	require.Equal(t, []byte("doc a"), h.objects.buckets["prod"]["corr-1/docs/a.pdf"])
	require.Equal(t, []byte("doc b"), h.objects.buckets["prod"]["corr-1/docs/b.pdf"])

	rec, err := h.store.GetProductionRecord(context.Background(), job.ID, "guid-a")
	require.NoError(t, err)
	require.Equal(t, "prod/corr-1/docs/a.pdf", rec.Location)
	require.Equal(t, map[string]string{
		"country":   "NL",
		"appname":   "claims",
		"doctype":   "invoice",
		"fileguid":  "guid-a",
		"retention": "7y",
	}, h.objects.tags["prod/corr-1/docs/a.pdf"])
}

func TestRunIsolatesMissingDocument(t *testing.T) {
	// Descriptor declares three documents, the archive carries two.
	archive := buildArchive(t, map[string]string{
		"metadata.json": descriptorJSON("a", "b", "c"),
		"docs/a.pdf":    "doc a",
		"docs/b.pdf":    "doc b",
	})
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}
	h := newHarness(t, testConfig(), source)

	job, err := h.orch.Run(context.Background(), models.IngestMessage{
		CorrelationID: "corr-2",
		ArchivePath:   "/outbound/batch.zip",
	})
	require.NoError(t, err)
	require.Equal(t, models.JobCompletedWithErrors, job.Status)
	require.Equal(t, 3, job.TotalDocuments)
	require.Equal(t, 2, job.SuccessDocuments)
	require.Equal(t, 1, job.FailedDocuments)

	failed, err := h.store.ItemsByStatus(context.Background(), job.ID, models.ItemFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, "guid-c", failed[0].FileGUID)
	require.Contains(t, failed[0].Error, "not present")
}

func TestRunFailsWithoutDescriptor(t *testing.T) {
	archive := buildArchive(t, map[string]string{"docs/a.pdf": "doc a"})
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}
	h := newHarness(t, testConfig(), source)

	job, err := h.orch.Run(context.Background(), models.IngestMessage{
		CorrelationID: "corr-3",
		ArchivePath:   "/outbound/batch.zip",
	})
	require.ErrorIs(t, err, pipeline.ErrDescriptorMissing)

	final, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, final.Status)
	require.Contains(t, final.FailureReason, "descriptor missing")
}

func TestRunFailsWhenArchiveAbsent(t *testing.T) {
	source := &memSource{files: map[string][]byte{}}
	h := newHarness(t, testConfig(), source)

	job, err := h.orch.Run(context.Background(), models.IngestMessage{
		CorrelationID: "corr-4",
		ArchivePath:   "/outbound/gone.zip",
	})
	require.ErrorIs(t, err, mft.ErrNotFound)

	final, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, final.Status)
}

func TestRunSkipsTerminalJobOnRedelivery(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"metadata.json": descriptorJSON("a"),
		"docs/a.pdf":    "doc a",
	})
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}
	h := newHarness(t, testConfig(), source)

	msg := models.IngestMessage{CorrelationID: "corr-5", ArchivePath: "/outbound/batch.zip"}
	first, err := h.orch.Run(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, first.Status)

	second, err := h.orch.Run(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, models.JobCompleted, second.Status)
	require.Equal(t, int32(1), atomic.LoadInt32(&source.opens))
}

func TestRunRetriesFailedJobOnRedelivery(t *testing.T) {
	source := &memSource{files: map[string][]byte{}}
	h := newHarness(t, testConfig(), source)

	msg := models.IngestMessage{CorrelationID: "corr-7", ArchivePath: "/outbound/late.zip"}
	failed, err := h.orch.Run(context.Background(), msg)
	require.ErrorIs(t, err, mft.ErrNotFound)

	marked, err := h.store.GetJob(context.Background(), failed.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobFailed, marked.Status)

	// The archive shows up before the redelivery; the same job recovers.
	source.files["/outbound/late.zip"] = buildArchive(t, map[string]string{
		"metadata.json": descriptorJSON("a"),
		"docs/a.pdf":    "doc a",
	})

	recovered, err := h.orch.Run(context.Background(), msg)
	require.NoError(t, err)
	require.Equal(t, failed.ID, recovered.ID)
	require.Equal(t, models.JobCompleted, recovered.Status)
	require.Empty(t, recovered.FailureReason)
}

func TestRunRecoversTotalAfterInterruptedStaging(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"metadata.json": descriptorJSON("a", "b"),
		"docs/a.pdf":    "doc a",
		"docs/b.pdf":    "doc b",
	})
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}
	h := newHarness(t, testConfig(), source)

	msg := models.IngestMessage{
		CorrelationID: "corr-8",
		ArchivePath:   "/outbound/batch.zip",
		Country:       "NL",
		AppName:       "claims",
	}

	// A prior attempt committed the work items and died before the job
	// row learned about them, so the redelivered run dedups staging to
	// zero new documents.
	ctx := context.Background()
	job, err := h.store.GetOrCreateJob(ctx, msg)
	require.NoError(t, err)
	staged, err := h.store.StageItems(ctx, []models.WorkItem{
		{JobID: job.ID, FileGUID: "guid-a", Filepath: "docs/a.pdf", DocType: "invoice"},
		{JobID: job.ID, FileGUID: "guid-b", Filepath: "docs/b.pdf", DocType: "invoice"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, staged)
	require.Equal(t, 0, job.TotalDocuments)

	final, err := h.orch.Run(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, job.ID, final.ID)
	require.Equal(t, models.JobCompleted, final.Status)
	require.Equal(t, 2, final.TotalDocuments)
	require.Equal(t, 2, final.SuccessDocuments)
	require.Equal(t, 0, final.FailedDocuments)
}

func TestRunBoundsPromotionParallelism(t *testing.T) {
	docs := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	entries := map[string]string{"metadata.json": descriptorJSON(docs...)}
	for _, d := range docs {
		entries["docs/"+d+".pdf"] = "doc " + d
	}
	archive := buildArchive(t, entries)
	source := &memSource{files: map[string][]byte{"/outbound/batch.zip": archive}}

	cfg := testConfig()
	cfg.MaxParallelism = 2
	h := newHarness(t, cfg, source)

	job, err := h.orch.Run(context.Background(), models.IngestMessage{
		CorrelationID: "corr-6",
		ArchivePath:   "/outbound/batch.zip",
	})
	require.NoError(t, err)
	require.Equal(t, models.JobCompleted, job.Status)
	require.Equal(t, len(docs), job.SuccessDocuments)
	require.LessOrEqual(t, atomic.LoadInt32(&h.objects.maxCopies), int32(2))
}
