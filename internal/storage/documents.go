package storage

import "context"

// Documents is a key-addressed document database grouped into collections.
// Implemented by *Firestore and *Store.
type Documents interface {
	// Get returns the document stored under collection/key, or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set writes doc under collection/key. With merge, top-level fields
	// absent from doc keep their stored values and each field present in doc
	// is replaced whole, nested maps included. Without merge the stored
	// document is replaced.
	Set(ctx context.Context, collection, key string, doc Document, merge bool) error

	Close() error
}

// Merge returns a new document holding d's fields overwritten by fields.
// Neither input is modified.
func (d Document) Merge(fields Document) Document {
	out := make(Document, len(d)+len(fields))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
