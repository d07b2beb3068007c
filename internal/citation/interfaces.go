package citation

import (
	"context"
	"io"
)

// Fetcher resolves one work and its citation edges. Returned edges reference
// the requested id on one side and a neighbor id on the other.
type Fetcher interface {
	FetchNode(ctx context.Context, id string) (Node, []Edge, error)
}

// SeedSource loads the seeds assigned to a chunk.
type SeedSource interface {
	Seeds(ctx context.Context, chunkID int) ([]Seed, error)
}

// FeatureMirror copies feature rows to a secondary store.
type FeatureMirror interface {
	StoreFeatures(ctx context.Context, chunkID int, row FeatureRow) error
}

// BlobStore archives raw network files.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error)
}

// Publisher emits chunk lifecycle notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
