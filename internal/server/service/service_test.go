package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"securevault/internal/server/database"
	"securevault/internal/server/policy"
	"securevault/internal/server/settings"
	"securevault/internal/server/storage"
)

var (
	admin = Principal{ID: "admin", Admin: true}
	alice = Principal{ID: "alice"}
	bob   = Principal{ID: "bob"}
)

type fixture struct {
	svc   *Service
	store *database.Memory
	blobs *storage.MemoryStore
}

func newFixtureWith(t *testing.T, store database.Store, mem *database.Memory, blobs storage.Store) *Service {
	t.Helper()
	ctx := context.Background()
	for _, p := range []Principal{admin, alice, bob} {
		require.NoError(t, mem.CreateUser(ctx, &database.User{ID: p.ID, CreatedAt: time.Now()}))
	}
	sp := settings.NewProvider(mem, 64, time.Minute)
	return NewService(store, blobs, sp, Options{
		MaxFileSize:       1 << 20,
		ArchiveExtensions: []string{"zip"},
		ArchiveLimits:     policy.Limits{MaxEntries: 100, MaxUncompressed: 1 << 20},
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := database.NewMemory()
	blobs := storage.NewMemoryStore()
	return &fixture{svc: newFixtureWith(t, mem, mem, blobs), store: mem, blobs: blobs}
}

func (f *fixture) consumed(t *testing.T, id string) int64 {
	t.Helper()
	u, err := f.store.GetUser(context.Background(), id)
	require.NoError(t, err)
	return u.ConsumedBytes
}

func (f *fixture) fileCount(t *testing.T, owner string) int {
	t.Helper()
	files, err := f.store.ListFilesByOwner(context.Background(), owner)
	require.NoError(t, err)
	return len(files)
}

func upload(f *fixture, p Principal, name string, data []byte) (*database.FileRecord, error) {
	return f.svc.AdmitUpload(context.Background(), p, name, int64(len(data)), bytes.NewReader(data))
}

func createTestZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestAdmitUpload_QuotaBoundary(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SetDefaultLimit(ctx, admin, 10_000_000))

	g, err := f.svc.CreateGroup(ctx, admin, GroupInput{Name: "staff"})
	require.NoError(t, err)
	require.NoError(t, f.svc.AddUserToGroup(ctx, admin, alice.ID, g.ID))

	require.NoError(t, f.store.CreateFile(ctx, &database.FileRecord{
		ID: "existing", OwnerID: alice.ID, StoredHandle: "existing", SizeBytes: 9_999_999,
	}))
	_, err = f.svc.ReconcileLedgers(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(9_999_999), f.consumed(t, alice.ID))

	rec, err := upload(f, alice, "one.txt", []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.SizeBytes)
	assert.Equal(t, int64(10_000_000), f.consumed(t, alice.ID))

	_, err = upload(f, alice, "two.txt", []byte("b"))
	require.True(t, IsCode(err, CodeQuotaExceeded), "got %v", err)
	typed, _ := AsError(err)
	assert.Equal(t, int64(10_000_000), typed.Details["used"])
	assert.Equal(t, int64(10_000_000), typed.Details["limit"])
	assert.Equal(t, int64(1), typed.Details["incoming"])
	assert.Equal(t, int64(10_000_000), f.consumed(t, alice.ID))
	assert.Equal(t, 1, f.blobs.Len(), "rejected upload stores no bytes")
}

func TestAdmitUpload_ProhibitedExtension(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.SetExtensionRule(ctx, admin, "exe", true, "Executable files")
	require.NoError(t, err)

	for _, name := range []string{"file.exe", "FILE.EXE", `C:\tmp\setup.Exe`} {
		t.Run(name, func(t *testing.T) {
			_, err := upload(f, alice, name, []byte("MZ"))
			assert.True(t, IsCode(err, CodeProhibitedExtension), "got %v", err)
		})
	}
	assert.Equal(t, 0, f.fileCount(t, alice.ID))
	assert.Equal(t, 0, f.blobs.Len())
}

func TestAdmitUpload_ArchiveGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.svc.SetExtensionRule(ctx, admin, "js", true, "")
	require.NoError(t, err)

	t.Run("prohibited member", func(t *testing.T) {
		data := createTestZip(t, map[string]string{"notes.txt": "hi", "virus.js": "alert(1)"})
		_, err := upload(f, alice, "archive.zip", data)
		require.True(t, IsCode(err, CodeProhibitedArchiveMember), "got %v", err)
		assert.Contains(t, err.Error(), "virus.js")
		typed, _ := AsError(err)
		assert.Equal(t, "virus.js", typed.Details["member"])
		assert.Equal(t, 0, f.fileCount(t, alice.ID))
	})

	t.Run("corrupt archive", func(t *testing.T) {
		_, err := upload(f, alice, "broken.zip", []byte("definitely not a zip"))
		assert.True(t, IsCode(err, CodeCorruptArchive), "got %v", err)
	})

	t.Run("clean archive", func(t *testing.T) {
		data := createTestZip(t, map[string]string{"notes.txt": "hi", "img/logo.png": "png"})
		rec, err := upload(f, alice, "clean.zip", data)
		require.NoError(t, err)
		assert.Equal(t, "zip", rec.Extension)
		assert.Equal(t, "application/zip", rec.MimeType)
	})

	t.Run("non-archive extension skips inspection", func(t *testing.T) {
		data := createTestZip(t, map[string]string{"virus.js": "x"})
		_, err := upload(f, bob, "payload.bin", data)
		assert.NoError(t, err)
	})

	t.Run("analysis disabled", func(t *testing.T) {
		require.NoError(t, f.svc.settings.SetBool(ctx, settings.KeyEnableZipAnalysis, false, ""))
		t.Cleanup(func() { f.svc.settings.SetBool(ctx, settings.KeyEnableZipAnalysis, true, "") })

		data := createTestZip(t, map[string]string{"virus.js": "x"})
		_, err := upload(f, bob, "unchecked.zip", data)
		assert.NoError(t, err)
	})
}

func TestAdmitUpload_FileTooLarge(t *testing.T) {
	f := newFixture(t)
	big := bytes.Repeat([]byte("x"), 1<<20+1)

	t.Run("declared size", func(t *testing.T) {
		_, err := upload(f, alice, "big.bin", big)
		assert.True(t, IsCode(err, CodeFileTooLarge), "got %v", err)
	})

	t.Run("undeclared size", func(t *testing.T) {
		_, err := f.svc.AdmitUpload(context.Background(), alice, "big.bin", -1, bytes.NewReader(big))
		assert.True(t, IsCode(err, CodeFileTooLarge), "got %v", err)
	})

	t.Run("setting lowers ceiling", func(t *testing.T) {
		require.NoError(t, f.svc.settings.SetInt(context.Background(), settings.KeyMaxFileSize, 4, ""))
		_, err := upload(f, alice, "five.txt", []byte("12345"))
		assert.True(t, IsCode(err, CodeFileTooLarge), "got %v", err)
	})
}

func TestAdmitUpload_RecordMetadata(t *testing.T) {
	f := newFixture(t)
	rec, err := upload(f, alice, "../../etc/Report.PDF", []byte("%PDF-1.4 test"))
	require.NoError(t, err)

	assert.Equal(t, "Report.PDF", rec.DisplayName)
	assert.Equal(t, "pdf", rec.Extension)
	assert.Equal(t, "application/pdf", rec.MimeType)
	assert.Len(t, rec.Checksum, 64)
	assert.Equal(t, alice.ID, rec.OwnerID)

	ok, err := f.blobs.Exists(context.Background(), rec.StoredHandle)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdmitUpload_UnknownPrincipal(t *testing.T) {
	f := newFixture(t)
	_, err := upload(f, Principal{ID: "ghost"}, "a.txt", []byte("a"))
	assert.True(t, IsCode(err, CodeNotFound), "got %v", err)
	assert.Equal(t, 0, f.blobs.Len())
}

type failingBlobs struct {
	*storage.MemoryStore
	putErr    error
	deleteErr error
}

func (b *failingBlobs) Put(ctx context.Context, r io.Reader) (string, int64, error) {
	if b.putErr != nil {
		return "", 0, b.putErr
	}
	return b.MemoryStore.Put(ctx, r)
}

func (b *failingBlobs) Delete(ctx context.Context, handle string) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.MemoryStore.Delete(ctx, handle)
}

func TestAdmitUpload_StorageFailureLeavesNoRecord(t *testing.T) {
	mem := database.NewMemory()
	blobs := &failingBlobs{MemoryStore: storage.NewMemoryStore(), putErr: errors.New("s3: connection reset")}
	svc := newFixtureWith(t, mem, mem, blobs)

	_, err := svc.AdmitUpload(context.Background(), alice, "a.txt", 1, strings.NewReader("a"))
	require.True(t, IsCode(err, CodeStorageFailure), "got %v", err)
	assert.NotContains(t, err.Error(), "connection reset", "storage details are not exposed")

	files, _ := mem.ListFilesByOwner(context.Background(), alice.ID)
	assert.Empty(t, files)
}

type failingCreateStore struct {
	*database.Memory
}

func (s failingCreateStore) WithPrincipalLock(ctx context.Context, id string, fn func(q database.Queries) error) error {
	return s.Memory.WithPrincipalLock(ctx, id, func(q database.Queries) error {
		return fn(failingCreateQueries{q})
	})
}

type failingCreateQueries struct {
	database.Queries
}

func (failingCreateQueries) CreateFile(context.Context, *database.FileRecord) error {
	return errors.New("disk full")
}

func TestAdmitUpload_RecordFailureRemovesBytes(t *testing.T) {
	mem := database.NewMemory()
	blobs := storage.NewMemoryStore()
	svc := newFixtureWith(t, failingCreateStore{mem}, mem, blobs)

	_, err := svc.AdmitUpload(context.Background(), alice, "a.txt", 1, strings.NewReader("a"))
	require.True(t, IsCode(err, CodeStorageFailure), "got %v", err)
	assert.Equal(t, 0, blobs.Len())

	u, _ := mem.GetUser(context.Background(), alice.ID)
	assert.Equal(t, int64(0), u.ConsumedBytes)
}

// lockTrackingStore records settings reads made while a principal lock is held.
type lockTrackingStore struct {
	*database.Memory
	held        atomic.Int32
	readsInLock atomic.Int32
}

func (s *lockTrackingStore) WithPrincipalLock(ctx context.Context, id string, fn func(q database.Queries) error) error {
	return s.Memory.WithPrincipalLock(ctx, id, func(q database.Queries) error {
		s.held.Add(1)
		defer s.held.Add(-1)
		return fn(q)
	})
}

func (s *lockTrackingStore) GetSetting(ctx context.Context, key string) (*database.Setting, error) {
	if s.held.Load() > 0 {
		s.readsInLock.Add(1)
	}
	return s.Memory.GetSetting(ctx, key)
}

func TestAdmitUpload_NoSettingsReadsUnderLock(t *testing.T) {
	ctx := context.Background()
	store := &lockTrackingStore{Memory: database.NewMemory()}
	require.NoError(t, store.CreateUser(ctx, &database.User{ID: alice.ID, CreatedAt: time.Now()}))

	// A TTL this short forces every read through to the store.
	sp := settings.NewProvider(store, 64, time.Nanosecond)
	require.NoError(t, sp.SetInt(ctx, settings.KeyDefaultStorageLimit, 4096, ""))
	svc := NewService(store, storage.NewMemoryStore(), sp, Options{MaxFileSize: 1 << 20})

	for i := 0; i < 3; i++ {
		_, err := svc.AdmitUpload(ctx, alice, "a.txt", 1000, bytes.NewReader(bytes.Repeat([]byte("a"), 1000)))
		require.NoError(t, err)
	}
	assert.Equal(t, int32(0), store.readsInLock.Load())

	_, err := svc.AdmitUpload(ctx, alice, "b.txt", 2000, bytes.NewReader(bytes.Repeat([]byte("b"), 2000)))
	assert.True(t, IsCode(err, CodeQuotaExceeded), "got %v", err)
}

func TestAdmitUpload_ConcurrentNeverOvershoots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	limit := int64(5000)
	_, err := f.svc.SetUserLimit(ctx, admin, alice.ID, &limit)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := upload(f, alice, "chunk.bin", bytes.Repeat([]byte("x"), 1000))
			if err == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			} else {
				assert.True(t, IsCode(err, CodeQuotaExceeded), "got %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	assert.Equal(t, int64(5000), f.consumed(t, alice.ID))
	assert.Equal(t, 5, f.fileCount(t, alice.ID))
}

func TestDeleteFile(t *testing.T) {
	ctx := context.Background()

	t.Run("owner deletes and ledger recomputes", func(t *testing.T) {
		f := newFixture(t)
		rec, err := upload(f, alice, "a.txt", []byte("hello"))
		require.NoError(t, err)
		require.Equal(t, int64(5), f.consumed(t, alice.ID))

		require.NoError(t, f.svc.DeleteFile(ctx, alice, rec.ID))
		assert.Equal(t, int64(0), f.consumed(t, alice.ID))
		assert.Equal(t, 0, f.blobs.Len())
	})

	t.Run("other principal is forbidden", func(t *testing.T) {
		f := newFixture(t)
		rec, err := upload(f, alice, "a.txt", []byte("hello"))
		require.NoError(t, err)

		err = f.svc.DeleteFile(ctx, bob, rec.ID)
		assert.True(t, IsCode(err, CodeForbidden), "got %v", err)
		assert.Equal(t, 1, f.fileCount(t, alice.ID))
	})

	t.Run("administrator deletes any file", func(t *testing.T) {
		f := newFixture(t)
		rec, err := upload(f, alice, "a.txt", []byte("hello"))
		require.NoError(t, err)

		require.NoError(t, f.svc.DeleteFile(ctx, admin, rec.ID))
		assert.Equal(t, int64(0), f.consumed(t, alice.ID), "owner's ledger is recomputed")
	})

	t.Run("unknown file", func(t *testing.T) {
		f := newFixture(t)
		err := f.svc.DeleteFile(ctx, alice, "missing")
		assert.True(t, IsCode(err, CodeNotFound), "got %v", err)
	})

	t.Run("byte delete failure still removes record", func(t *testing.T) {
		mem := database.NewMemory()
		blobs := &failingBlobs{MemoryStore: storage.NewMemoryStore()}
		svc := newFixtureWith(t, mem, mem, blobs)

		rec, err := svc.AdmitUpload(ctx, alice, "a.txt", 5, strings.NewReader("hello"))
		require.NoError(t, err)

		blobs.deleteErr = errors.New("bucket unavailable")
		require.NoError(t, svc.DeleteFile(ctx, alice, rec.ID))

		_, err = mem.GetFile(ctx, rec.ID)
		assert.ErrorIs(t, err, database.ErrNotFound)
		u, _ := mem.GetUser(ctx, alice.ID)
		assert.Equal(t, int64(0), u.ConsumedBytes)
		assert.Equal(t, 1, blobs.Len(), "orphaned bytes are left for the sweeper")
	})
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rec, err := upload(f, alice, "a.txt", []byte("hello"))
	require.NoError(t, err)

	got, rc, err := f.svc.OpenFile(ctx, alice, rec.ID)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, rec.ID, got.ID)

	_, _, err = f.svc.OpenFile(ctx, bob, rec.ID)
	assert.True(t, IsCode(err, CodeForbidden), "got %v", err)

	_, rc2, err := f.svc.OpenFile(ctx, admin, rec.ID)
	require.NoError(t, err)
	rc2.Close()
}

func TestStorageInfo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.svc.SetDefaultLimit(ctx, admin, 1000))

	_, err := upload(f, alice, "a.txt", bytes.Repeat([]byte("x"), 250))
	require.NoError(t, err)

	info, err := f.svc.StorageInfo(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(250), info.Used)
	assert.Equal(t, int64(1000), info.Limit)
	assert.Equal(t, 25.0, info.Percentage)

	_, err = f.svc.UserStorageInfo(ctx, bob, alice.ID)
	assert.True(t, IsCode(err, CodeForbidden))
	other, err := f.svc.UserStorageInfo(ctx, admin, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, info, other)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple name", "file.zip", "file.zip"},
		{"strips directory", "/path/to/file.zip", "file.zip"},
		{"strips windows path", "C:\\Users\\test\\file.zip", "file.zip"},
		{"empty name", "", "upload"},
		{"dot name", ".", "upload"},
		{"replaces slashes", "a/b/c.zip", "c.zip"},
		{"long name keeps extension", strings.Repeat("a", 300) + ".txt", strings.Repeat("a", 251) + ".txt"},
		{"long name cut on a rune boundary", strings.Repeat("é", 200) + ".txt", strings.Repeat("é", 125) + ".txt"},
		{"invalid utf-8 replaced", "bad\xffname.txt", "bad\uFFFDname.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
			if !utf8.ValidString(result) || len(result) > 255 {
				t.Errorf("sanitizeFilename(%q) = %q is not a storable name", tt.input, result)
			}
		})
	}
}
