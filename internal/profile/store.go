package profile

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/lmittmann/tint"

	"github.com/maplenook/guildbot/internal/storage"
)

// Collection is the document collection profiles are stored in.
const Collection = "user_profiles"

// Connector establishes the document store connection. It is called until it
// succeeds once; after that the returned handle is reused for the Store's
// lifetime.
type Connector func(ctx context.Context) (storage.Documents, error)

// CachePolicy decides how a successful write updates the cache.
type CachePolicy int

const (
	// MergeOnWrite merges the written fields into a cached entry, matching the
	// database's merge-write. An uncached user stays uncached so the next read
	// fetches the merged document.
	MergeOnWrite CachePolicy = iota
	// ReplaceOnWrite caches exactly the written fields. A partial write then
	// leaves the cache holding less than the database; callers must always
	// write full profiles under this policy.
	ReplaceOnWrite
)

// ParseCachePolicy maps "merge" and "replace" to a CachePolicy.
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch s {
	case "", "merge":
		return MergeOnWrite, nil
	case "replace":
		return ReplaceOnWrite, nil
	}
	return 0, errors.New("unknown cache policy " + s + ` (want "merge" or "replace")`)
}

// Option configures a Store.
type Option func(*Store)

// WithCache replaces the default unbounded map cache.
func WithCache(c Cache) Option {
	return func(s *Store) { s.cache = c }
}

// WithCachePolicy sets the cache write policy. The default is MergeOnWrite.
func WithCachePolicy(p CachePolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger sets the logger used for initialization failures and writes.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store is a cache-aside accessor for user profiles. Create one per process
// and share it; the zero value is not usable.
//
// The cache lock is only held for map access, never across a database call.
// Concurrent updates for the same user race at the database (last write wins).
type Store struct {
	connect    Connector
	collection string
	policy     CachePolicy
	cache      Cache
	logger     *slog.Logger

	initMu sync.RWMutex
	docs   storage.Documents

	// gens counts completed writes per user. A read only fills the cache if
	// no write landed between its database read and its insert.
	genMu sync.Mutex
	gens  map[string]uint64
}

// New creates a Store that connects lazily through connect.
func New(connect Connector, opts ...Option) *Store {
	s := &Store{
		connect:    connect,
		collection: Collection,
		policy:     MergeOnWrite,
		cache:      NewMapCache(),
		logger:     slog.Default(),
		gens:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewWithDocuments creates a Store over an already-open document store.
func NewWithDocuments(docs storage.Documents, opts ...Option) *Store {
	s := New(func(context.Context) (storage.Documents, error) { return docs, nil }, opts...)
	s.docs = docs
	return s
}

// Initialize connects to the document store. It returns immediately once a
// connection exists. A failure is logged and returned; the Store stays usable
// and retries the connection on the next operation.
func (s *Store) Initialize(ctx context.Context) error {
	if _, err := s.handle(ctx); err != nil {
		s.logger.Warn("profile store unavailable, will retry on first use", tint.Err(err))
		return &Error{Op: "initialize", Kind: ErrStoreUnavailable, Err: err}
	}
	return nil
}

// Ready reports whether the document store is connected.
func (s *Store) Ready() bool {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.docs != nil
}

// Close closes the document store connection, if any.
func (s *Store) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	if s.docs == nil {
		return nil
	}
	err := s.docs.Close()
	s.docs = nil
	return err
}

func (s *Store) handle(ctx context.Context) (storage.Documents, error) {
	// Fast path: already connected.
	s.initMu.RLock()
	docs := s.docs
	s.initMu.RUnlock()
	if docs != nil {
		return docs, nil
	}

	s.initMu.Lock()
	defer s.initMu.Unlock()

	// Double-check after acquiring write lock.
	if s.docs != nil {
		return s.docs, nil
	}

	docs, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		return nil, errors.New("connector returned no document store")
	}
	s.docs = docs
	return docs, nil
}

// Get returns the profile for userID. A cached profile is returned without a
// database call. A user with no stored document gets Default(userID), which
// is neither cached nor persisted.
func (s *Store) Get(ctx context.Context, userID string) (Profile, error) {
	if userID == "" {
		return nil, ErrEmptyUserID
	}

	if p, ok := s.cache.Load(userID); ok {
		return p.Clone(), nil
	}

	docs, err := s.handle(ctx)
	if err != nil {
		return nil, &Error{Op: "get", UserID: userID, Kind: ErrStoreUnavailable, Err: err}
	}

	gen := s.generation(userID)
	doc, err := docs.Get(ctx, s.collection, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return Default(userID), nil
	}
	if err != nil {
		return nil, &Error{Op: "get", UserID: userID, Kind: ErrStoreReadFailed, Err: err}
	}

	p := Profile(doc).Clone()
	if p == nil {
		p = Profile{}
	}
	cached := p.Clone()

	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.gens[userID] != gen {
		// A write landed after our read; the next Get fetches its result.
		return p, nil
	}
	s.cache.Modify(userID, func(cur Profile, ok bool) (Profile, bool) {
		if ok {
			return cur, true
		}
		return cached, true
	})
	return p, nil
}

func (s *Store) generation(userID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.gens[userID]
}

// Update merge-writes data into the stored profile for userID. Stored fields
// absent from data are preserved. On failure the cache is left unchanged.
func (s *Store) Update(ctx context.Context, userID string, data Profile) error {
	if userID == "" {
		return ErrEmptyUserID
	}

	docs, err := s.handle(ctx)
	if err != nil {
		return &Error{Op: "update", UserID: userID, Kind: ErrStoreUnavailable, Err: err}
	}

	written := data.Clone()
	if written == nil {
		written = Profile{}
	}
	if err := docs.Set(ctx, s.collection, userID, storage.Document(written.Clone()), true); err != nil {
		return &Error{Op: "update", UserID: userID, Kind: ErrStoreWriteFailed, Err: err}
	}

	s.genMu.Lock()
	s.gens[userID]++
	s.cache.Modify(userID, func(cur Profile, ok bool) (Profile, bool) {
		switch {
		case s.policy == ReplaceOnWrite:
			return written, true
		case ok:
			return cur.merge(written), true
		default:
			return nil, false
		}
	})
	s.genMu.Unlock()

	s.logger.Debug("profile updated", "user_id", userID, "fields", len(written))
	return nil
}
