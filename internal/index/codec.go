package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Serialization format, little-endian throughout:
//
//	magic "RCIX" | version u8 | dim u32 | count u32 |
//	hashLen u16 | hash | builtAt i64 (unix nanos) |
//	count * ( idLen u16 | id | ts i64 | srcLen u16 | src | dim * f32 )
//
// Any mismatch in magic, version, or layout makes Decode fail; callers treat
// a failed decode as a cache miss and rebuild.

const codecVersion = 1

var codecMagic = [4]byte{'R', 'C', 'I', 'X'}

// ErrCodecMismatch signals a cache artifact written by an incompatible version.
var ErrCodecMismatch = errors.New("index codec mismatch")

// Encode serializes an index generation for the cache.
func Encode(ix *Index) []byte {
	size := 4 + 1 + 4 + 4 + 2 + len(ix.contentHash) + 8
	for i := range ix.entries {
		size += 2 + len(ix.entries[i].EpisodeID) + 8 + 2 + len(ix.entries[i].SourceType) + 4*ix.dim
	}

	buf := make([]byte, 0, size)
	buf = append(buf, codecMagic[:]...)
	buf = append(buf, codecVersion)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(ix.dim))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(ix.entries)))
	buf = appendString(buf, ix.contentHash)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(ix.builtAt.UnixNano()))

	for i := range ix.entries {
		e := &ix.entries[i]
		buf = appendString(buf, e.EpisodeID)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Timestamp.UnixNano()))
		buf = appendString(buf, e.SourceType)
		for _, f := range e.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(f))
		}
	}
	return buf
}

// Decode deserializes a cached index generation.
func Decode(data []byte) (*Index, error) {
	r := reader{data: data}

	magic, err := r.bytes(4)
	if err != nil {
		return nil, fmt.Errorf("%w: truncated header", ErrCodecMismatch)
	}
	if [4]byte(magic) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrCodecMismatch)
	}
	version, err := r.byte()
	if err != nil || version != codecVersion {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrCodecMismatch, version, codecVersion)
	}

	dim, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated dim", ErrCodecMismatch)
	}
	count, err := r.uint32()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated count", ErrCodecMismatch)
	}
	hash, err := r.string()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated hash", ErrCodecMismatch)
	}
	builtAtNanos, err := r.uint64()
	if err != nil {
		return nil, fmt.Errorf("%w: truncated timestamp", ErrCodecMismatch)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := r.string()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d id", ErrCodecMismatch, i)
		}
		tsNanos, err := r.uint64()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d timestamp", ErrCodecMismatch, i)
		}
		src, err := r.string()
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d source", ErrCodecMismatch, i)
		}
		vec := make([]float32, dim)
		for j := range vec {
			bits, err := r.uint32()
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d vector", ErrCodecMismatch, i)
			}
			vec[j] = math.Float32frombits(bits)
		}
		entries = append(entries, Entry{
			EpisodeID:  id,
			Vector:     vec,
			Timestamp:  time.Unix(0, int64(tsNanos)).UTC(),
			SourceType: src,
		})
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCodecMismatch, r.remaining())
	}

	return New(entries, hash, time.Unix(0, int64(builtAtNanos)).UTC())
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

type reader struct {
	data []byte
	off  int
}

func (r *reader) remaining() int { return len(r.data) - r.off }

func (r *reader) bytes(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, errors.New("short read")
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
	b, err := r.bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) string() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
