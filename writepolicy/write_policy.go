package writepolicy

import (
	"context"
	"errors"
	"fmt"

	"github.com/krisalay/tiered-cache/types"
)

/*
This file defines what a "write policy" is: how changes made to the volatile
tier reach the durable tier.

  - Write-through: the durable call happens inside Set/Delete/Clear
  - Write-back: the durable call happens later, on a background worker

Either way the cache treats durable failures as absorbed faults.
*/

var (
	// ErrQueueFull is returned by write-back when a put had to be dropped.
	ErrQueueFull = errors.New("write-back queue full")

	// ErrClosed is returned once the policy has been closed.
	ErrClosed = errors.New("write policy closed")
)

// Mode selects a write policy.
type Mode string

const (
	WriteThrough Mode = "write-through"
	WriteBack    Mode = "write-back"
)

// ErrorHandler receives failures that happen away from the caller (write-back worker).
type ErrorHandler func(op string, key string, err error)

/*
WritePolicy is the contract that all write policies must follow.
The cache does not care which policy is used. It simply calls these methods.
*/
type WritePolicy interface {

	// Write persists rec.
	Write(ctx context.Context, rec types.Record) error

	// Delete removes key from the durable tier.
	Delete(ctx context.Context, key string) error

	// Clear empties the durable tier.
	Clear(ctx context.Context) error

	// Flush returns once every change accepted so far has been applied.
	Flush(ctx context.Context) error

	// Close stops accepting changes and drains pending ones.
	Close() error
}

/*
Overlay is implemented by policies that hold changes the store has not
applied yet. Durable reads consult it first so queued deletes and clears
take effect immediately for readers.
*/
type Overlay interface {
	Lookup(key string) (rec types.Record, found bool, pending bool)
}

// New builds the policy for mode over store.
func New(mode Mode, store types.DurableStore, buffer int, onError ErrorHandler) (WritePolicy, error) {
	switch mode {
	case WriteThrough, "":
		return NewWriteThroughPolicy(store), nil
	case WriteBack:
		return NewWriteBackPolicy(store, buffer, onError), nil
	default:
		return nil, fmt.Errorf("unknown write mode %q", mode)
	}
}
