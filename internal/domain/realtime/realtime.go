// Package realtime defines the contract of the hosted realtime data store:
// path-addressed JSON values with live collection subscriptions.
package realtime

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrUnknownHandle is returned by Unsubscribe for handles that are not
// (or no longer) registered.
var ErrUnknownHandle = errors.New("unknown subscription handle")

// Handle identifies a live subscription.
type Handle struct {
	ID   uint64
	Path string
}

// Snapshot is a point-in-time delivery of a subscribed collection. Value is
// a JSON object keyed by child key, or nil when the collection is absent.
type Snapshot struct {
	Path  string
	Value []byte
}

// Listener receives snapshots of one subscription. A store calls a given
// listener from one goroutine at a time, in the order the store observed
// the changes.
type Listener func(Snapshot)

// Store is the realtime data store.
type Store interface {
	// Subscribe registers fn for path and delivers the current snapshot
	// followed by a snapshot after every change below path.
	Subscribe(ctx context.Context, path string, fn Listener) (Handle, error)
	// Unsubscribe stops delivery to h. No snapshot is delivered to the
	// listener after Unsubscribe returns.
	Unsubscribe(h Handle) error
	// Write replaces the value at path.
	Write(ctx context.Context, path string, value []byte) error
	// Update shallow-merges the partial JSON object into the value at path,
	// creating it when absent.
	Update(ctx context.Context, path string, partial []byte) error
	// Remove deletes the value at path.
	Remove(ctx context.Context, path string) error
	// GenerateKey returns a new unique, time-ordered child key for path.
	GenerateKey(path string) string
}

// Split returns the parent collection path and the child key of path.
func Split(path string) (parent, key string, err error) {
	path = strings.Trim(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i <= 0 || i == len(path)-1 {
		return "", "", errors.Errorf("path %q has no parent", path)
	}
	return path[:i], path[i+1:], nil
}

// Clean normalizes a collection path for use as a subscription key.
func Clean(path string) string {
	return strings.Trim(path, "/")
}
