package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/crosstrade/internal/domain"
	"github.com/alanyoungcy/crosstrade/internal/store/memory"
)

type storedBlob struct {
	data []byte
	info domain.BlobInfo
}

// memBlobs is an in-memory bucket implementing both blob interfaces.
type memBlobs struct {
	objects map[string]storedBlob
	stats   []string
	err     error
	// truncate drops trailing bytes on Put to simulate a short write.
	truncate int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string]storedBlob{}}
}

func (m *memBlobs) Put(_ context.Context, obj domain.BlobObject) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	b = b[:len(b)-m.truncate]
	m.objects[obj.Path] = storedBlob{data: b, info: domain.BlobInfo{
		Path:        obj.Path,
		Size:        int64(len(b)),
		ContentType: obj.ContentType,
		Metadata:    obj.Metadata,
	}}
	return nil
}

func (m *memBlobs) Stat(_ context.Context, path string) (domain.BlobInfo, error) {
	m.stats = append(m.stats, path)
	o, ok := m.objects[path]
	if !ok {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return o.info, nil
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func seed(t *testing.T, store *memory.IntentStore, id string, state domain.IntentState) {
	t.Helper()
	err := store.Create(context.Background(), domain.TradeIntent{
		ID:                 id,
		UserID:             "user-1",
		State:              state,
		EncryptedSignature: "sealed-" + id,
	}, domain.IntentEvent{ID: "ev-" + id, IntentID: id, Type: domain.EventIntentCreated})
	require.NoError(t, err)
}

func TestIntentArchiver_ExportsTerminalIntents(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIntentStore()
	seed(t, store, "a", domain.StateFilled)
	seed(t, store, "b", domain.StateFailed)
	seed(t, store, "c", domain.StatePartialFill)
	seed(t, store, "live", domain.StateOrderPlaced)

	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewArchiver(store, blobs, blobs, audit, ArchiverConfig{Window: 48 * time.Hour, BatchSize: 2}, quiet())

	before := time.Now().UTC().Add(time.Hour)
	n, err := a.ArchiveIntents(ctx, before)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	path := archivePath("intents", before.Add(-48*time.Hour))
	obj, ok := blobs.objects[path]
	require.True(t, ok, "expected object at %s", path)
	assert.NotContains(t, string(obj.data), "sealed-")
	assert.Equal(t, archiveContentType, obj.info.ContentType)
	assert.Equal(t, "3", obj.info.Metadata["records"])
	assert.Equal(t, before.Format(time.RFC3339), obj.info.Metadata["window-end"])

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(obj.data))
	for sc.Scan() {
		var line archivedIntent
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		require.Len(t, line.Events, 1)
		ids = append(ids, line.Intent.ID)
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids)

	entry, err := audit.Latest(ctx, auditArchiveEvent)
	require.NoError(t, err)
	assert.Equal(t, path, entry.Detail["path"])
	assert.Equal(t, int64(len(obj.data)), entry.Detail["bytes"])

	t.Run("rerun skips existing file", func(t *testing.T) {
		n, err := a.ArchiveIntents(ctx, before)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestIntentArchiver_RefusesForeignObject(t *testing.T) {
	store := memory.NewIntentStore()
	seed(t, store, "a", domain.StateFilled)

	blobs := newMemBlobs()
	before := time.Now().UTC().Add(time.Hour)
	path := archivePath("intents", before.Add(-24*time.Hour))
	blobs.objects[path] = storedBlob{info: domain.BlobInfo{Path: path, ContentType: "image/png"}}

	a := NewArchiver(store, blobs, blobs, memory.NewAuditStore(), DefaultArchiverConfig(), quiet())
	_, err := a.ArchiveIntents(context.Background(), before)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an intent archive")
}

func TestIntentArchiver_DetectsShortWrite(t *testing.T) {
	store := memory.NewIntentStore()
	seed(t, store, "a", domain.StateFilled)

	blobs := newMemBlobs()
	blobs.truncate = 1
	audit := memory.NewAuditStore()
	a := NewArchiver(store, blobs, blobs, audit, DefaultArchiverConfig(), quiet())

	_, err := a.ArchiveIntents(context.Background(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify")

	_, err = audit.Latest(context.Background(), auditArchiveEvent)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIntentArchiver_EmptyWindowIsAudited(t *testing.T) {
	ctx := context.Background()
	store := memory.NewIntentStore()
	seed(t, store, "a", domain.StateFilled)

	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewArchiver(store, blobs, nil, audit, DefaultArchiverConfig(), quiet())

	before := time.Now().UTC().Add(-72 * time.Hour)
	n, err := a.ArchiveIntents(ctx, before)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)

	entry, err := audit.Latest(ctx, auditArchiveEvent)
	require.NoError(t, err)
	assert.Equal(t, int64(0), entry.Detail["count"])
	assert.NotContains(t, entry.Detail, "path")
}

func TestIntentArchiver_UploadFailure(t *testing.T) {
	store := memory.NewIntentStore()
	seed(t, store, "a", domain.StateCancelled)

	blobs := newMemBlobs()
	blobs.err = errors.New("bucket gone")
	a := NewArchiver(store, blobs, nil, memory.NewAuditStore(), DefaultArchiverConfig(), quiet())

	_, err := a.ArchiveIntents(context.Background(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket gone")
}

func TestIntentArchiver_ArchiveDueCatchesUp(t *testing.T) {
	ctx := context.Background()
	day := 24 * time.Hour
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	t.Run("resumes after the last audited window", func(t *testing.T) {
		blobs := newMemBlobs()
		audit := memory.NewAuditStore()
		require.NoError(t, audit.Log(ctx, auditArchiveEvent, map[string]any{
			"before": cutoff.Add(-3 * day).Format(time.RFC3339),
		}))
		a := NewArchiver(memory.NewIntentStore(), blobs, blobs, audit, DefaultArchiverConfig(), quiet())

		_, err := a.ArchiveDue(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []string{
			archivePath("intents", cutoff.Add(-3*day)),
			archivePath("intents", cutoff.Add(-2*day)),
			archivePath("intents", cutoff.Add(-day)),
		}, blobs.stats)

		last, err := audit.Latest(ctx, auditArchiveEvent)
		require.NoError(t, err)
		assert.Equal(t, cutoff.Format(time.RFC3339), last.Detail["before"])

		blobs.stats = nil
		_, err = a.ArchiveDue(ctx, cutoff)
		require.NoError(t, err)
		assert.Empty(t, blobs.stats)
	})

	t.Run("caps the backlog", func(t *testing.T) {
		blobs := newMemBlobs()
		audit := memory.NewAuditStore()
		require.NoError(t, audit.Log(ctx, auditArchiveEvent, map[string]any{
			"before": cutoff.Add(-30 * day).Format(time.RFC3339),
		}))
		cfg := DefaultArchiverConfig()
		cfg.MaxCatchUp = 4
		a := NewArchiver(memory.NewIntentStore(), blobs, blobs, audit, cfg, quiet())

		_, err := a.ArchiveDue(ctx, cutoff)
		require.NoError(t, err)
		require.Len(t, blobs.stats, 4)
		assert.Equal(t, archivePath("intents", cutoff.Add(-day)), blobs.stats[3])
	})

	t.Run("without history archives only the cutoff window", func(t *testing.T) {
		blobs := newMemBlobs()
		a := NewArchiver(memory.NewIntentStore(), blobs, blobs, memory.NewAuditStore(), DefaultArchiverConfig(), quiet())

		_, err := a.ArchiveDue(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, []string{archivePath("intents", cutoff.Add(-day))}, blobs.stats)
	})
}

func TestClientKey(t *testing.T) {
	c := &Client{prefix: "prod"}
	assert.Equal(t, "prod/intents/2025-01-31.jsonl", c.Key("intents/2025-01-31.jsonl"))
	assert.Equal(t, "prod/intents/x.jsonl", c.Key("/intents/x.jsonl"))
	assert.Equal(t, "intents/x.jsonl", (&Client{}).Key("intents/x.jsonl"))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example", normaliseEndpoint("https://s3.example", false))
}
