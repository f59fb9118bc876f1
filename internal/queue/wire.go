package queue

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
)

// errNoFrame signals "nothing new to read yet" — distinguished from a real
// I/O error so Recv can poll instead of failing.
var errNoFrame = errors.New("queue: no frame available")

// pollInterval is how often Recv retries reading the segment file while
// waiting for the Sender to append the next frame.
const pollInterval = 50 * time.Millisecond

// writeFrame appends one length-prefixed frame: a 4-byte big-endian length
// followed by body. Matches "messages serialize via a length-prefixed,
// self-describing encoding"; gob supplies the self-describing
// part, this wire format supplies the length prefix.
func writeFrame(w io.Writer, body []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	if f, ok := w.(*os.File); ok {
		return f.Sync()
	}
	return nil
}

// readFrame reads one length-prefixed frame starting at the reader's
// current position (which the caller has already Seek'd to offset).
// Returns errNoFrame if fewer than a full frame's worth of bytes are
// available yet (the writer may still be mid-append).
func readFrame(r *bufio.Reader, offset int64) (body []byte, next int64, err error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, errNoFrame
		}
		return nil, 0, err
	}
	length := binary.BigEndian.Uint32(header[:])

	body = make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, errNoFrame
		}
		return nil, 0, err
	}

	return body, offset + 4 + int64(length), nil
}

// readOffset reads the persisted committed offset, defaulting to 0 if the
// file does not exist yet (a fresh queue, or one whose receiver never
// committed anything).
func readOffset(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	if len(data) != 8 {
		return 0, errors.New("queue: corrupted offset file")
	}
	return int64(binary.BigEndian.Uint64(data)), nil
}

// writeOffsetAtomic persists offset via temp-file-then-rename, the same
// atomic-write idiom used to persist other on-disk state in this module.
func writeOffsetAtomic(path string, offset int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "committed.offset.*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(buf[:]); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	ok = true
	return nil
}

func sleepOrDone(ctx interface {
	Done() <-chan struct{}
	Err() error
}) error {
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
