package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMissingCredentials is returned when no service-account key is configured
// and no emulator is available.
var ErrMissingCredentials = errors.New("missing Firebase service account credentials")

// FirestoreConfig configures a Firestore connection.
type FirestoreConfig struct {
	// CredentialsJSON is a service-account key file's content.
	CredentialsJSON string
	// ProjectID overrides the project_id found in CredentialsJSON.
	ProjectID string
	// ProbeCollection is queried once on connect to confirm the database is live.
	ProbeCollection string
}

// Firestore is a Documents implementation backed by Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

var _ Documents = (*Firestore)(nil)

// OpenFirestore creates a Firestore client and confirms it can serve reads.
// When FIRESTORE_EMULATOR_HOST is set, credentials may be omitted.
func OpenFirestore(ctx context.Context, cfg FirestoreConfig) (*Firestore, error) {
	projectID, opts, err := firestoreOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	if cfg.ProbeCollection != "" {
		it := client.Collection(cfg.ProbeCollection).Limit(1).Documents(ctx)
		_, err := it.Next()
		it.Stop()
		if err != nil && !errors.Is(err, iterator.Done) {
			client.Close()
			return nil, fmt.Errorf("probing firestore: %w", err)
		}
	}

	return &Firestore{client: client}, nil
}

func firestoreOptions(cfg FirestoreConfig) (string, []option.ClientOption, error) {
	projectID := cfg.ProjectID

	if cfg.CredentialsJSON == "" {
		if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
			return "", nil, ErrMissingCredentials
		}
		if projectID == "" {
			projectID = "guildbot-emulator"
		}
		return projectID, nil, nil
	}

	var key struct {
		Type      string `json:"type"`
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal([]byte(cfg.CredentialsJSON), &key); err != nil {
		return "", nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	if projectID == "" {
		projectID = key.ProjectID
	}
	if projectID == "" {
		return "", nil, fmt.Errorf("service account credentials have no project_id")
	}

	return projectID, []option.ClientOption{
		option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)),
	}, nil
}

// Get returns the document stored under collection/key.
func (f *Firestore) Get(ctx context.Context, collection, key string) (Document, error) {
	snap, err := f.client.Collection(collection).Doc(key).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, key, err)
	}
	if !snap.Exists() {
		return nil, ErrNotFound
	}
	data := snap.Data()
	if data == nil {
		data = map[string]any{}
	}
	return Document(data), nil
}

// Set writes doc under collection/key. A merge replaces each top-level field
// of doc whole, nested maps included, like Document.Merge.
func (f *Firestore) Set(ctx context.Context, collection, key string, doc Document, merge bool) error {
	data := map[string]any(doc)
	if data == nil {
		data = map[string]any{}
	}

	ref := f.client.Collection(collection).Doc(key)
	var err error
	switch {
	case merge && len(data) == 0:
		// Nothing to merge; make sure the document exists.
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	case merge:
		_, err = ref.Set(ctx, data, firestore.Merge(topLevelPaths(doc)...))
	default:
		_, err = ref.Set(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("writing %s/%s: %w", collection, key, err)
	}
	return nil
}

// topLevelPaths returns one field path per key of doc, sorted. Field paths
// treat dots as literal characters, unlike Firestore's string field names.
func topLevelPaths(doc Document) []firestore.FieldPath {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	paths := make([]firestore.FieldPath, len(keys))
	for i, k := range keys {
		paths[i] = firestore.FieldPath{k}
	}
	return paths
}

func (f *Firestore) Close() error {
	return f.client.Close()
}
