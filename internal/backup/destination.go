package backup

import (
	"context"
	"io"

	"github.com/alfredjeanlab/castboard/internal/mediastore"
)

// Destination is the interface for a backup target.
type Destination interface {
	// Write sends the JSONL payload to the destination.
	Write(ctx context.Context, data []byte) error
}

// ObjectDestination writes backups to one key of an object store.
type ObjectDestination struct {
	objects mediastore.ObjectStore
	key     string
}

// NewObjectDestination creates a destination that overwrites key on every run.
func NewObjectDestination(objects mediastore.ObjectStore, key string) *ObjectDestination {
	return &ObjectDestination{objects: objects, key: key}
}

// Write uploads data as the configured object key.
func (d *ObjectDestination) Write(ctx context.Context, data []byte) error {
	return d.objects.Put(ctx, d.key, data, "application/x-ndjson")
}

// WriterDestination copies backups to an io.Writer, such as stdout.
type WriterDestination struct {
	W io.Writer
}

// Write copies data to the writer.
func (d WriterDestination) Write(_ context.Context, data []byte) error {
	_, err := d.W.Write(data)
	return err
}
