// Package queue implements the durable single-producer/single-consumer FIFO
// used between pipeline stages: a buffered channel used as a capacity
// semaphore for the in-memory blocking contract, generalized with file-lock-enforced
// single-ownership and an on-disk segment log for durability within a run.
package queue

import (
	"bufio"
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrOpen is returned when a second Sender or Receiver is opened against a
// queue that already has one active.
var ErrOpen = errors.New("queue: already open")

// ErrClosed is returned by Send/Recv once the queue has been closed.
var ErrClosed = errors.New("queue: closed")

// Queue is a named, durable FIFO rooted at a directory. Open it once per
// process and share it between (at most) one Sender and one Receiver.
type Queue struct {
	dir      string
	capacity int

	segPath    string
	offsetPath string

	mu         sync.Mutex
	writeFile  *os.File
	senderLock *flock.Flock
	recvLock   *flock.Flock

	// sem is the backpressure semaphore: Send acquires a slot before
	// writing a frame, Commit releases one. Sized to capacity — "the upper
	// bound on enqueued-but-uncommitted items".
	sem chan struct{}
}

// Open creates (if needed) the queue directory and returns a handle shared
// by the eventual Sender and Receiver. capacity bounds the number of
// enqueued-but-uncommitted items.
func Open(dir string, capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("queue: capacity must be positive, got %d", capacity)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("queue: failed to create queue dir: %w", err)
	}
	q := &Queue{
		dir:        dir,
		capacity:   capacity,
		segPath:    filepath.Join(dir, "queue.seg"),
		offsetPath: filepath.Join(dir, "committed.offset"),
		sem:        make(chan struct{}, capacity),
		senderLock: flock.New(filepath.Join(dir, "send.lock")),
		recvLock:   flock.New(filepath.Join(dir, "recv.lock")),
	}
	return q, nil
}

// Sender is the queue's single producer handle.
type Sender struct {
	q *Queue
}

// OpenSender acquires the send lock. Returns ErrOpen if another Sender is
// already active.
func (q *Queue) OpenSender() (*Sender, error) {
	locked, err := q.senderLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to acquire send lock: %w", err)
	}
	if !locked {
		return nil, ErrOpen
	}

	f, err := os.OpenFile(q.segPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		q.senderLock.Unlock()
		return nil, fmt.Errorf("queue: failed to open segment file: %w", err)
	}
	q.mu.Lock()
	q.writeFile = f
	q.mu.Unlock()

	return &Sender{q: q}, nil
}

// Send encodes item with gob and appends it as a length-prefixed frame,
// blocking (cooperatively, via ctx) until a capacity slot is free.
func (s *Sender) Send(ctx context.Context, item interface{}) error {
	select {
	case s.q.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(item); err != nil {
		<-s.q.sem
		return fmt.Errorf("queue: failed to encode item: %w", err)
	}

	s.q.mu.Lock()
	defer s.q.mu.Unlock()
	if err := writeFrame(s.q.writeFile, body.Bytes()); err != nil {
		<-s.q.sem
		return fmt.Errorf("queue: failed to write frame: %w", err)
	}
	return nil
}

// Close releases the send lock and closes the segment file for writing.
// The lock file is removed while still held, so after a clean Close
// "send.lock exists" is an accurate proxy for "a Sender is open". A process
// that exits without calling Close leaves the file behind, unlocked.
func (s *Sender) Close() error {
	s.q.mu.Lock()
	var err error
	if s.q.writeFile != nil {
		err = s.q.writeFile.Close()
		s.q.writeFile = nil
	}
	s.q.mu.Unlock()

	if rerr := os.Remove(s.q.senderLock.Path()); rerr != nil && !os.IsNotExist(rerr) && err == nil {
		err = rerr
	}
	if uerr := s.q.senderLock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// Receiver is the queue's single consumer handle.
type Receiver struct {
	q *Queue

	mu         sync.Mutex
	readOffset int64 // persisted, advances only on Commit
}

// OpenReceiver acquires the recv lock and restores the committed read
// offset, so a redelivered (uncommitted) item from a prior crash or drop is
// read again first.
func (q *Queue) OpenReceiver() (*Receiver, error) {
	locked, err := q.recvLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("queue: failed to acquire recv lock: %w", err)
	}
	if !locked {
		return nil, ErrOpen
	}

	offset, err := readOffset(q.offsetPath)
	if err != nil {
		q.recvLock.Unlock()
		return nil, fmt.Errorf("queue: failed to read committed offset: %w", err)
	}

	return &Receiver{q: q, readOffset: offset}, nil
}

// Handle wraps one dequeued item. Item returns the decoded value; Commit
// durably advances the queue past it. An uncommitted Handle that is dropped
// (its Receiver closed, or simply never committed) redelivers the same item
// on the next Recv call against a freshly opened Receiver.
type Handle struct {
	r     *Receiver
	raw   []byte
	after int64
}

// Decode gob-decodes the handle's payload into v (a pointer).
func (h *Handle) Decode(v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(h.raw)).Decode(v)
}

// Commit durably advances the queue past this item and releases its
// capacity slot back to the Sender.
func (h *Handle) Commit() error {
	if err := writeOffsetAtomic(h.r.q.offsetPath, h.after); err != nil {
		return fmt.Errorf("queue: failed to persist committed offset: %w", err)
	}
	h.r.mu.Lock()
	h.r.readOffset = h.after
	h.r.mu.Unlock()

	select {
	case <-h.r.q.sem:
	default:
		// Sem may be empty if this queue was reopened after a crash and the
		// Sender side never re-acquired the slot this run; releasing a slot
		// that was never taken would overflow the channel, so skip it.
	}
	return nil
}

// Recv blocks until an item is available or ctx is cancelled. Items are
// always read starting from the last committed offset, so an uncommitted
// Handle from a previous Recv call is redelivered first.
func (r *Receiver) Recv(ctx context.Context) (*Handle, error) {
	for {
		f, err := os.Open(r.q.segPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if waitErr := sleepOrDone(ctx); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("queue: failed to open segment file: %w", err)
		}

		r.mu.Lock()
		offset := r.readOffset
		r.mu.Unlock()

		if _, err := f.Seek(offset, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("queue: failed to seek segment file: %w", err)
		}
		raw, next, err := readFrame(bufio.NewReader(f), offset)
		f.Close()
		if err != nil {
			if errors.Is(err, errNoFrame) {
				if waitErr := sleepOrDone(ctx); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("queue: failed to read frame: %w", err)
		}

		return &Handle{r: r, raw: raw, after: next}, nil
	}
}

// Close releases the recv lock. The lock file is removed while still held,
// mirroring Sender.Close.
func (r *Receiver) Close() error {
	var err error
	if rerr := os.Remove(r.q.recvLock.Path()); rerr != nil && !os.IsNotExist(rerr) {
		err = rerr
	}
	if uerr := r.q.recvLock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}
