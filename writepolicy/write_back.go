package writepolicy

import (
	"context"
	"sync"

	"github.com/krisalay/tiered-cache/types"
)

// This file implements the "write-back" policy.

type opKind int

const (
	opPut opKind = iota
	opDelete
	opClear
	opBarrier
)

// writeReq is one pending change for the durable store.
type writeReq struct {
	kind opKind
	seq  uint64
	ctx  context.Context
	rec  types.Record
	key  string
	done chan struct{}
}

/*
WriteBackPolicy applies durable changes asynchronously, in order, on one worker.

  - Puts never block: if the queue is full the put is dropped (ErrQueueFull).
    The volatile tier already has the value; the durable shadow is best effort.
  - Deletes and clears wait for room. Dropping them could let an older queued
    put resurrect a removed key after restart.
  - Until the worker applies a change, Lookup answers for it, so a read that
    goes to the store never sees data a queued delete or clear removed.
*/
type WriteBackPolicy struct {
	store   types.DurableStore
	onError ErrorHandler

	ch chan writeReq
	wg sync.WaitGroup

	// mu guards closed so nobody sends on a closed channel.
	mu     sync.RWMutex
	closed bool

	// pmu guards the overlay of changes not yet applied to the store.
	pmu      sync.Mutex
	seq      uint64
	pending  map[string]pendingOp
	clearSeq uint64 // latest queued clear, 0 when none is pending
}

// pendingOp is the newest queued put or delete for one key.
type pendingOp struct {
	seq uint64
	del bool
	rec types.Record
}

var _ Overlay = (*WriteBackPolicy)(nil)

// NewWriteBackPolicy creates the policy and starts its worker.
func NewWriteBackPolicy(store types.DurableStore, buffer int, onError ErrorHandler) *WriteBackPolicy {
	if buffer <= 0 {
		buffer = 1024
	}
	if onError == nil {
		onError = func(string, string, error) {}
	}
	w := &WriteBackPolicy{
		store:   store,
		onError: onError,
		ch:      make(chan writeReq, buffer),
		pending: make(map[string]pendingOp),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

func (w *WriteBackPolicy) Write(ctx context.Context, rec types.Record) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	// The overlay is updated before the send so the worker can never apply
	// an op that is not recorded yet.
	w.pmu.Lock()
	defer w.pmu.Unlock()
	w.seq++
	req := writeReq{kind: opPut, seq: w.seq, ctx: context.WithoutCancel(ctx), rec: rec, key: rec.Key}
	prev, hadPrev := w.pending[rec.Key]
	w.pending[rec.Key] = pendingOp{seq: req.seq, rec: rec}

	select {
	case w.ch <- req:
		return nil
	default:
		if hadPrev {
			w.pending[rec.Key] = prev
		} else {
			delete(w.pending, rec.Key)
		}
		return ErrQueueFull
	}
}

func (w *WriteBackPolicy) Delete(ctx context.Context, key string) error {
	w.pmu.Lock()
	w.seq++
	req := writeReq{kind: opDelete, seq: w.seq, ctx: context.WithoutCancel(ctx), key: key}
	prev, hadPrev := w.pending[key]
	w.pending[key] = pendingOp{seq: req.seq, del: true}
	w.pmu.Unlock()

	err := w.enqueue(ctx, req)
	if err != nil {
		w.pmu.Lock()
		if p, ok := w.pending[key]; ok && p.seq == req.seq {
			if hadPrev {
				w.pending[key] = prev
			} else {
				delete(w.pending, key)
			}
		}
		w.pmu.Unlock()
	}
	return err
}

func (w *WriteBackPolicy) Clear(ctx context.Context) error {
	w.pmu.Lock()
	w.seq++
	req := writeReq{kind: opClear, seq: w.seq, ctx: context.WithoutCancel(ctx)}
	prev := w.clearSeq
	w.clearSeq = req.seq
	w.pmu.Unlock()

	err := w.enqueue(ctx, req)
	if err != nil {
		// An earlier clear may still be queued.
		w.pmu.Lock()
		if w.clearSeq == req.seq {
			w.clearSeq = prev
		}
		w.pmu.Unlock()
	}
	return err
}

/*
Lookup reports what the store will hold for key once the queue drains.
pending is false when nothing queued touches key; the store is then
authoritative.
*/
func (w *WriteBackPolicy) Lookup(key string) (rec types.Record, found bool, pending bool) {
	w.pmu.Lock()
	defer w.pmu.Unlock()

	if p, ok := w.pending[key]; ok && p.seq > w.clearSeq {
		return p.rec, !p.del, true
	}
	if w.clearSeq != 0 {
		return types.Record{}, false, true
	}
	return types.Record{}, false, false
}

// settle forgets req in the overlay unless a newer op replaced it.
func (w *WriteBackPolicy) settle(req writeReq) {
	w.pmu.Lock()
	defer w.pmu.Unlock()

	switch req.kind {
	case opPut, opDelete:
		if p, ok := w.pending[req.key]; ok && p.seq == req.seq {
			delete(w.pending, req.key)
		}
	case opClear:
		if w.clearSeq == req.seq {
			w.clearSeq = 0
		}
	}
}

// Flush queues a barrier and waits until the worker reaches it.
func (w *WriteBackPolicy) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if err := w.enqueue(ctx, writeReq{kind: opBarrier, done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueue blocks until req is queued or ctx is done.
func (w *WriteBackPolicy) enqueue(ctx context.Context, req writeReq) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	select {
	case w.ch <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker drains the queue. This is where eventual consistency happens.
func (w *WriteBackPolicy) worker() {
	defer w.wg.Done()

	for req := range w.ch {
		switch req.kind {
		case opPut:
			if err := w.store.Put(req.ctx, req.rec); err != nil {
				w.onError("put", req.key, err)
			}
		case opDelete:
			if err := w.store.Delete(req.ctx, req.key); err != nil {
				w.onError("delete", req.key, err)
			}
		case opClear:
			if err := w.store.Clear(req.ctx); err != nil {
				w.onError("clear", "", err)
			}
		case opBarrier:
			close(req.done)
		}
		w.settle(req)
	}
}

/*
Close shuts down the write-back policy gracefully.
1. Stop accepting changes
2. Wait for the worker to apply everything already queued
*/
func (w *WriteBackPolicy) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
	return nil
}
