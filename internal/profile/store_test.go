package profile

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maplenook/guildbot/internal/storage"
)

// --- Mock document store ---

type mockDocs struct {
	mu   sync.Mutex
	data map[string]storage.Document

	getErr error
	setErr error

	// block, when set, stalls Get for the given key until released.
	block    map[string]chan struct{}
	getCalls int
	setCalls int
}

func newMockDocs() *mockDocs {
	return &mockDocs{
		data:  make(map[string]storage.Document),
		block: make(map[string]chan struct{}),
	}
}

func (m *mockDocs) Get(ctx context.Context, collection, key string) (storage.Document, error) {
	m.mu.Lock()
	ch := m.block[key]
	m.mu.Unlock()
	if ch != nil {
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	doc, ok := m.data[collection+"/"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return doc.Merge(nil), nil
}

func (m *mockDocs) Set(ctx context.Context, collection, key string, doc storage.Document, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls++
	if m.setErr != nil {
		return m.setErr
	}
	id := collection + "/" + key
	if cur, ok := m.data[id]; ok && merge {
		m.data[id] = cur.Merge(doc)
	} else {
		m.data[id] = doc.Merge(nil)
	}
	return nil
}

func (m *mockDocs) Close() error { return nil }

func (m *mockDocs) put(key string, doc storage.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[Collection+"/"+key] = doc
}

func (m *mockDocs) stored(key string) (storage.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.data[Collection+"/"+key]
	return doc, ok
}

func (m *mockDocs) setGetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

func (m *mockDocs) setSetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

func (m *mockDocs) gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// stalledDocs reads the stored document, then holds the first Get until
// released, so a write can land between the read and the cache insert.
type stalledDocs struct {
	*mockDocs
	read    chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStalledDocs() *stalledDocs {
	return &stalledDocs{
		mockDocs: newMockDocs(),
		read:     make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (d *stalledDocs) Get(ctx context.Context, collection, key string) (storage.Document, error) {
	doc, err := d.mockDocs.Get(ctx, collection, key)
	d.once.Do(func() {
		close(d.read)
		<-d.release
	})
	return doc, err
}

// recordingCache wraps the map cache and counts calls.
type recordingCache struct {
	Cache
	mu      sync.Mutex
	loads   int
	modifys int
}

func (c *recordingCache) Load(userID string) (Profile, bool) {
	c.mu.Lock()
	c.loads++
	c.mu.Unlock()
	return c.Cache.Load(userID)
}

func (c *recordingCache) Modify(userID string, fn func(cur Profile, ok bool) (Profile, bool)) {
	c.mu.Lock()
	c.modifys++
	c.mu.Unlock()
	c.Cache.Modify(userID, fn)
}

var ctx = context.Background()

// --- Tests ---

func TestGet_DefaultOnMiss_NotPersisted(t *testing.T) {
	docs := newMockDocs()
	s := NewWithDocuments(docs)

	p, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(p, Default("42")) {
		t.Errorf("Get = %v, want default profile", p)
	}
	if p.Role() != DefaultRole {
		t.Errorf("Role = %q, want %q", p.Role(), DefaultRole)
	}

	if _, ok := docs.stored("42"); ok {
		t.Error("default profile was written to the database")
	}

	// Not cached either: a second read goes to the database again.
	if _, err := s.Get(ctx, "42"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := docs.gets(); n != 2 {
		t.Errorf("database reads = %d, want 2", n)
	}
}

func TestGet_CacheAfterRead(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "法師", FieldNotes: "likes bows"})
	s := NewWithDocuments(docs)

	first, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	docs.setGetErr(errors.New("connection refused"))

	second, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("cached Get with database down: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached profile = %v, want %v", second, first)
	}
	if n := docs.gets(); n != 1 {
		t.Errorf("database reads = %d, want 1", n)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "法師", FieldKeywords: []any{"a"}})
	s := NewWithDocuments(docs)

	p, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	p[FieldRole] = "mutated"
	p[FieldKeywords].([]any)[0] = "mutated"

	again, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again.Role() != "法師" {
		t.Errorf("caller mutation leaked into cache: role = %q", again.Role())
	}
	if kw := again.Keywords(); len(kw) != 1 || kw[0] != "a" {
		t.Errorf("caller mutation leaked into cache: keywords = %v", kw)
	}
}

func TestGet_ReadFailure(t *testing.T) {
	docs := newMockDocs()
	cause := errors.New("deadline exceeded")
	docs.setGetErr(cause)
	s := NewWithDocuments(docs)

	_, err := s.Get(ctx, "42")
	if !errors.Is(err, ErrStoreReadFailed) {
		t.Fatalf("error = %v, want ErrStoreReadFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not carry the cause", err)
	}

	// Failures are not cached; the next call reaches the database again.
	docs.setGetErr(nil)
	docs.put("42", storage.Document{FieldRole: "騎士"})
	p, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if p.Role() != "騎士" {
		t.Errorf("Role = %q, want 騎士", p.Role())
	}
}

func TestUpdate_MergeWriteAtDatabase(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A", FieldNotes: "x"})
	s := NewWithDocuments(docs)

	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := docs.stored("42")
	want := storage.Document{FieldRole: "B", FieldNotes: "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stored = %v, want %v", got, want)
	}
}

func TestUpdate_WriteThenRead(t *testing.T) {
	docs := newMockDocs()
	s := NewWithDocuments(docs)

	want := Default("42").WithRole("42", "弓手")
	if err := s.Update(ctx, "42", want); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %v, want %v", got, want)
	}
}

// TestUpdate_MergeOnWrite_CachedEntry verifies a partial write keeps the cache
// equal to the merged database document.
func TestUpdate_MergeOnWrite_CachedEntry(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A", FieldNotes: "x"})
	s := NewWithDocuments(docs)

	if _, err := s.Get(ctx, "42"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	docs.setGetErr(errors.New("offline"))
	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Profile{FieldRole: "B", FieldNotes: "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("cached = %v, want %v", got, want)
	}
}

// TestUpdate_MergeOnWrite_Uncached verifies an uncached user is read back
// from the database after a partial write instead of caching the partial.
func TestUpdate_MergeOnWrite_Uncached(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A", FieldNotes: "x"})
	s := NewWithDocuments(docs)

	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := Profile{FieldRole: "B", FieldNotes: "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Get = %v, want %v", got, want)
	}
}

// TestUpdate_ReplaceOnWrite keeps the legacy behavior: the cache holds exactly
// what was written, even when the database merged more fields in.
func TestUpdate_ReplaceOnWrite(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A", FieldNotes: "x"})
	s := NewWithDocuments(docs, WithCachePolicy(ReplaceOnWrite))

	if _, err := s.Get(ctx, "42"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, Profile{FieldRole: "B"}) {
		t.Errorf("cached = %v, want exactly the written fields", got)
	}

	stored, _ := docs.stored("42")
	if stored[FieldNotes] != "x" {
		t.Errorf("database lost gpt_notes: %v", stored)
	}
}

func TestUpdate_FailureLeavesCache(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A"})
	s := NewWithDocuments(docs)

	if _, err := s.Get(ctx, "42"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	cause := errors.New("permission denied")
	docs.setSetErr(cause)

	err := s.Update(ctx, "42", Profile{FieldRole: "B"})
	if !errors.Is(err, ErrStoreWriteFailed) {
		t.Fatalf("error = %v, want ErrStoreWriteFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("error %v does not carry the cause", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.UserID != "42" || perr.Op != "update" {
		t.Errorf("errors.As = %+v", perr)
	}

	got, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Role() != "A" {
		t.Errorf("Role = %q, want pre-update value A", got.Role())
	}
}

func TestUpdate_ReplaceOnWrite_FailureLeavesCache(t *testing.T) {
	docs := newMockDocs()
	s := NewWithDocuments(docs, WithCachePolicy(ReplaceOnWrite))

	if err := s.Update(ctx, "42", Profile{FieldRole: "A"}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	docs.setSetErr(errors.New("unavailable"))
	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err == nil {
		t.Fatal("expected write failure")
	}

	got, _ := s.Get(ctx, "42")
	if got.Role() != "A" {
		t.Errorf("Role = %q, want A", got.Role())
	}
}

// TestGet_SlowReadLosesToWrite stalls a cache-miss read after it has seen the
// old document and completes an update meanwhile. The stale copy must not be
// cached under either policy.
func TestGet_SlowReadLosesToWrite(t *testing.T) {
	for _, policy := range []CachePolicy{MergeOnWrite, ReplaceOnWrite} {
		docs := newStalledDocs()
		docs.put("42", storage.Document{FieldRole: "A", FieldNotes: "x"})
		s := NewWithDocuments(docs, WithCachePolicy(policy))

		done := make(chan Profile, 1)
		go func() {
			p, err := s.Get(ctx, "42")
			if err != nil {
				t.Errorf("policy %d: slow Get: %v", policy, err)
			}
			done <- p
		}()

		<-docs.read
		if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
			t.Fatalf("policy %d: Update: %v", policy, err)
		}
		close(docs.release)

		if p := <-done; p.Role() != "A" {
			t.Errorf("policy %d: slow Get = %q, want the A it read", policy, p.Role())
		}

		got, err := s.Get(ctx, "42")
		if err != nil {
			t.Fatalf("policy %d: Get: %v", policy, err)
		}
		if got.Role() != "B" {
			t.Errorf("policy %d: cached role = %q, database has B", policy, got.Role())
		}
		if db, _ := docs.stored("42"); db[FieldRole] != "B" {
			t.Errorf("policy %d: stored = %v", policy, db)
		}
	}
}

func TestWithCache(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A"})
	cache := &recordingCache{Cache: NewMapCache()}
	s := NewWithDocuments(docs, WithCache(cache))

	for i := 0; i < 3; i++ {
		if _, err := s.Get(ctx, "42"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if n := docs.gets(); n != 1 {
		t.Errorf("database reads = %d, want 1", n)
	}
	cache.mu.Lock()
	loads, modifys := cache.loads, cache.modifys
	cache.mu.Unlock()
	if loads != 3 || modifys != 2 {
		t.Errorf("cache calls: loads = %d, modifys = %d, want 3 and 2", loads, modifys)
	}
	if p, ok := cache.Cache.Load("42"); !ok || p.Role() != "B" {
		t.Errorf("injected cache holds %v (ok=%v), want role B", p, ok)
	}
}

func TestConcurrentDistinctUsers(t *testing.T) {
	docs := newMockDocs()
	s := NewWithDocuments(docs)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := strconv.Itoa(1000 + i)
			role := fmt.Sprintf("role-%d", i)

			p, err := s.Get(ctx, id)
			if err != nil {
				t.Errorf("Get %s: %v", id, err)
				return
			}
			if err := s.Update(ctx, id, p.WithRole(id, role)); err != nil {
				t.Errorf("Update %s: %v", id, err)
				return
			}
			got, err := s.Get(ctx, id)
			if err != nil {
				t.Errorf("Get %s: %v", id, err)
				return
			}
			if got.Role() != role {
				t.Errorf("user %s: role = %q, want %q", id, got.Role(), role)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		id := strconv.Itoa(1000 + i)
		doc, ok := docs.stored(id)
		if !ok {
			t.Fatalf("user %s not persisted", id)
		}
		if doc[FieldRole] != fmt.Sprintf("role-%d", i) || doc[FieldDiscordID] != id {
			t.Errorf("user %s persisted %v", id, doc)
		}
	}
}

func TestConcurrentSameUser(t *testing.T) {
	docs := newMockDocs()
	s := NewWithDocuments(docs)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Update(ctx, "7", Profile{FieldRole: fmt.Sprintf("r%d", i)}); err != nil {
				t.Errorf("Update: %v", err)
			}
			if _, err := s.Get(ctx, "7"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if _, ok := docs.stored("7"); !ok {
		t.Fatal("profile not persisted")
	}
}

// TestCacheLockNotHeldAcrossIO stalls one user's database read and checks a
// cached user is still served.
func TestCacheLockNotHeldAcrossIO(t *testing.T) {
	docs := newMockDocs()
	docs.put("fast", storage.Document{FieldRole: "A"})
	docs.put("slow", storage.Document{FieldRole: "B"})
	s := NewWithDocuments(docs)

	if _, err := s.Get(ctx, "fast"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	release := make(chan struct{})
	docs.mu.Lock()
	docs.block["slow"] = release
	docs.mu.Unlock()

	slowDone := make(chan struct{})
	go func() {
		defer close(slowDone)
		if _, err := s.Get(ctx, "slow"); err != nil {
			t.Errorf("slow Get: %v", err)
		}
	}()

	fastDone := make(chan struct{})
	go func() {
		defer close(fastDone)
		if _, err := s.Get(ctx, "fast"); err != nil {
			t.Errorf("fast Get: %v", err)
		}
	}()

	select {
	case <-fastDone:
	case <-time.After(2 * time.Second):
		t.Fatal("cached Get blocked behind another user's database read")
	}

	close(release)
	<-slowDone
}

func TestInitialize_Idempotent(t *testing.T) {
	var calls atomic.Int32
	docs := newMockDocs()
	s := New(func(context.Context) (storage.Documents, error) {
		calls.Add(1)
		return docs, nil
	})

	for i := 0; i < 3; i++ {
		if err := s.Initialize(ctx); err != nil {
			t.Fatalf("Initialize #%d: %v", i, err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("connector calls = %d, want 1", n)
	}
	if !s.Ready() {
		t.Error("Ready = false after successful Initialize")
	}
}

func TestInitialize_ConcurrentConnectsOnce(t *testing.T) {
	var calls atomic.Int32
	docs := newMockDocs()
	s := New(func(context.Context) (storage.Documents, error) {
		calls.Add(1)
		time.Sleep(10 * time.Millisecond)
		return docs, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Initialize(ctx); err != nil {
				t.Errorf("Initialize: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Errorf("connector calls = %d, want 1", n)
	}
}

// TestInitialize_FailSoftThenLazyRetry verifies a failed startup connection
// leaves the Store usable and every operation retries the connection.
func TestInitialize_FailSoftThenLazyRetry(t *testing.T) {
	docs := newMockDocs()
	docs.put("42", storage.Document{FieldRole: "A"})

	var calls atomic.Int32
	var healthy atomic.Bool
	cause := errors.New("missing credentials")
	s := New(func(context.Context) (storage.Documents, error) {
		calls.Add(1)
		if !healthy.Load() {
			return nil, cause
		}
		return docs, nil
	})

	err := s.Initialize(ctx)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, cause) {
		t.Fatalf("Initialize error = %v, want ErrStoreUnavailable wrapping cause", err)
	}
	if s.Ready() {
		t.Error("Ready = true after failed Initialize")
	}

	if _, err := s.Get(ctx, "42"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Get error = %v, want ErrStoreUnavailable", err)
	}
	if err := s.Update(ctx, "42", Profile{FieldRole: "B"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Update error = %v, want ErrStoreUnavailable", err)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("connector calls = %d, want 3 (initialize + each operation)", n)
	}

	healthy.Store(true)
	p, err := s.Get(ctx, "42")
	if err != nil {
		t.Fatalf("Get after recovery: %v", err)
	}
	if p.Role() != "A" {
		t.Errorf("Role = %q, want A", p.Role())
	}
}

func TestEmptyUserID(t *testing.T) {
	s := NewWithDocuments(newMockDocs())

	if _, err := s.Get(ctx, ""); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("Get error = %v, want ErrEmptyUserID", err)
	}
	if err := s.Update(ctx, "", Profile{}); !errors.Is(err, ErrEmptyUserID) {
		t.Errorf("Update error = %v, want ErrEmptyUserID", err)
	}
}

func TestParseCachePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CachePolicy
		wantErr bool
	}{
		{"", MergeOnWrite, false},
		{"merge", MergeOnWrite, false},
		{"replace", ReplaceOnWrite, false},
		{"lru", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseCachePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCachePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCachePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
