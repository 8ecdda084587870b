// Package snapshot serializes the live contents of an index to a
// compressed, checksummed stream and reads such streams back for
// bulk-loading. The format is block oriented: entries are batched,
// snappy-compressed, and each block carries an xxhash64 of its
// compressed bytes so corruption is caught before decompression.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/snappy"

	"github.com/slopedb/slope/pkg/buffer"
)

const (
	// magic identifies a snapshot stream
	magic uint32 = 0x534c5053 // "SLPS"

	// blockTarget is the uncompressed batch size at which a block is
	// flushed.
	blockTarget = 64 * 1024
)

// ErrCorrupted is returned when a snapshot stream fails validation
var ErrCorrupted = errors.New("snapshot stream corrupted")

// Writer streams entries into snapshot blocks. Entries must be
// appended in strictly ascending key order; Close seals the stream
// with the entry count trailer.
type Writer struct {
	w       *bufio.Writer
	pending []byte
	count   uint64
	last    buffer.Key
	started bool
	closed  bool
}

// NewWriter writes the stream header and returns a Writer
func NewWriter(w io.Writer) (*Writer, error) {
	bw := bufio.NewWriter(w)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], magic)
	if _, err := bw.Write(hdr[:]); err != nil {
		return nil, fmt.Errorf("failed to write snapshot header: %w", err)
	}
	return &Writer{w: bw}, nil
}

// Append adds one entry to the stream
func (sw *Writer) Append(key buffer.Key, value buffer.Value) error {
	if sw.closed {
		return errors.New("snapshot writer is closed")
	}
	if sw.started && key <= sw.last {
		return fmt.Errorf("keys must be strictly ascending, got %d after %d", key, sw.last)
	}
	sw.started = true
	sw.last = key

	var buf [12]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(key))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(value)))
	sw.pending = append(sw.pending, buf[:]...)
	sw.pending = append(sw.pending, value...)
	sw.count++

	if len(sw.pending) >= blockTarget {
		return sw.flushBlock()
	}
	return nil
}

// flushBlock compresses and emits the pending batch as one block
func (sw *Writer) flushBlock() error {
	if len(sw.pending) == 0 {
		return nil
	}

	compressed := snappy.Encode(nil, sw.pending)
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(compressed)))
	binary.BigEndian.PutUint64(hdr[4:12], xxhash.Sum64(compressed))

	if _, err := sw.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("failed to write block header: %w", err)
	}
	if _, err := sw.w.Write(compressed); err != nil {
		return fmt.Errorf("failed to write block: %w", err)
	}

	sw.pending = sw.pending[:0]
	return nil
}

// Close flushes the final block and writes the end-of-stream trailer:
// a zero-length block header followed by the total entry count.
func (sw *Writer) Close() error {
	if sw.closed {
		return nil
	}
	sw.closed = true

	if err := sw.flushBlock(); err != nil {
		return err
	}

	var trailer [12]byte
	binary.BigEndian.PutUint32(trailer[0:4], 0)
	binary.BigEndian.PutUint64(trailer[4:12], sw.count)
	if _, err := sw.w.Write(trailer[:]); err != nil {
		return fmt.Errorf("failed to write snapshot trailer: %w", err)
	}
	return sw.w.Flush()
}

// Reader decodes a snapshot stream entry by entry
type Reader struct {
	r     *bufio.Reader
	block []byte
	off   int
	count uint64
	read  uint64
	done  bool
}

// NewReader validates the stream header and returns a Reader
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	var hdr [4]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: missing header", ErrCorrupted)
	}
	if binary.BigEndian.Uint32(hdr[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic", ErrCorrupted)
	}
	return &Reader{r: br}, nil
}

// Next returns the next entry, or io.EOF after the last one
func (sr *Reader) Next() (buffer.Key, buffer.Value, error) {
	if sr.done {
		return 0, nil, io.EOF
	}

	for sr.off >= len(sr.block) {
		if err := sr.nextBlock(); err != nil {
			return 0, nil, err
		}
	}

	if sr.off+12 > len(sr.block) {
		return 0, nil, fmt.Errorf("%w: truncated entry header", ErrCorrupted)
	}
	key := buffer.Key(binary.BigEndian.Uint64(sr.block[sr.off : sr.off+8]))
	vlen := int(binary.BigEndian.Uint32(sr.block[sr.off+8 : sr.off+12]))
	sr.off += 12

	if sr.off+vlen > len(sr.block) {
		return 0, nil, fmt.Errorf("%w: truncated entry value", ErrCorrupted)
	}
	value := make(buffer.Value, vlen)
	copy(value, sr.block[sr.off:sr.off+vlen])
	sr.off += vlen

	sr.read++
	return key, value, nil
}

// nextBlock reads, verifies and decompresses the next block; on the
// trailer it validates the entry count and flags the stream done.
func (sr *Reader) nextBlock() error {
	var hdr [12]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		return fmt.Errorf("%w: truncated block header", ErrCorrupted)
	}

	blen := binary.BigEndian.Uint32(hdr[0:4])
	if blen == 0 {
		sr.done = true
		sr.count = binary.BigEndian.Uint64(hdr[4:12])
		if sr.count != sr.read {
			return fmt.Errorf("%w: trailer declares %d entries, read %d", ErrCorrupted, sr.count, sr.read)
		}
		return io.EOF
	}

	compressed := make([]byte, blen)
	if _, err := io.ReadFull(sr.r, compressed); err != nil {
		return fmt.Errorf("%w: truncated block", ErrCorrupted)
	}
	if xxhash.Sum64(compressed) != binary.BigEndian.Uint64(hdr[4:12]) {
		return fmt.Errorf("%w: block checksum mismatch", ErrCorrupted)
	}

	block, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	sr.block = block
	sr.off = 0
	return nil
}

// Load reads an entire snapshot stream into sorted key and value
// slices, ready for bulk-loading a fresh index.
func Load(r io.Reader) ([]buffer.Key, []buffer.Value, error) {
	sr, err := NewReader(r)
	if err != nil {
		return nil, nil, err
	}

	var keys []buffer.Key
	var values []buffer.Value
	for {
		k, v, err := sr.Next()
		if err == io.EOF {
			return keys, values, nil
		}
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, k)
		values = append(values, v)
	}
}
