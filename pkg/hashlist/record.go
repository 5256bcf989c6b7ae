package hashlist

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Record format constants.
const (
	// HashSize is the length of a SHA-256 digest.
	HashSize = 32

	// MaxPathLength is the largest encoded remote path a record can carry.
	MaxPathLength = math.MaxUint16

	lengthPrefixSize = 2
)

// Sentinel errors for record construction and parsing.
var (
	// ErrPathTooLong is returned when a remote path does not fit the uint16 length prefix.
	ErrPathTooLong = errors.New("remote path exceeds 65535 bytes")

	// ErrInvalidHash is returned when a digest is not exactly HashSize bytes.
	ErrInvalidHash = errors.New("hash must be 32 bytes")

	// ErrCorruptFormat is returned when persisted hashlist data cannot be parsed.
	ErrCorruptFormat = errors.New("corrupt hashlist data")
)

// Record is the last known content fingerprint of a remote file.
type Record struct {
	RemotePath string
	Hash       [HashSize]byte
}

// NewRecord validates the fields and builds a Record.
// The path length is measured in UTF-8 bytes; it is never truncated.
func NewRecord(remotePath string, hash []byte) (Record, error) {
	if len(remotePath) > MaxPathLength {
		return Record{}, fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(remotePath))
	}
	if len(hash) != HashSize {
		return Record{}, fmt.Errorf("%w: got %d", ErrInvalidHash, len(hash))
	}

	r := Record{RemotePath: remotePath}
	copy(r.Hash[:], hash)
	return r, nil
}

// Size returns the number of bytes the record occupies when serialized.
func (r Record) Size() int {
	return lengthPrefixSize + len(r.RemotePath) + HashSize
}

// AppendBinary appends the wire form of the record to b.
func (r Record) AppendBinary(b []byte) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(r.RemotePath)))
	b = append(b, r.RemotePath...)
	return append(b, r.Hash[:]...)
}

// decodeRecord parses one record from the front of data and returns it with
// the number of bytes consumed.
func decodeRecord(data []byte) (Record, int, error) {
	if len(data) < lengthPrefixSize {
		return Record{}, 0, fmt.Errorf("%w: expected %d length bytes, have %d",
			ErrCorruptFormat, lengthPrefixSize, len(data))
	}

	pathLen := int(binary.LittleEndian.Uint16(data))
	rest := data[lengthPrefixSize:]
	if len(rest) < pathLen {
		return Record{}, 0, fmt.Errorf("%w: declared path length %d, have %d bytes",
			ErrCorruptFormat, pathLen, len(rest))
	}

	path := string(rest[:pathLen])
	rest = rest[pathLen:]
	if len(rest) < HashSize {
		return Record{}, 0, fmt.Errorf("%w: expected %d hash bytes, have %d",
			ErrCorruptFormat, HashSize, len(rest))
	}

	r, err := NewRecord(path, rest[:HashSize])
	if err != nil {
		return Record{}, 0, err
	}

	return r, lengthPrefixSize + pathLen + HashSize, nil
}
