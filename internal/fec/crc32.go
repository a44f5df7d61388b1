package fec

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// ChecksumSize is the length of the trailer appended by Seal.
const ChecksumSize = 4

// ErrChecksum is returned by Open when the trailer does not match.
var ErrChecksum = errors.New("crc-32 mismatch")

// CRC32 computes the IEEE CRC-32 of data.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// Seal returns data followed by its big-endian CRC-32.
func Seal(data []byte) []byte {
	out := make([]byte, len(data)+ChecksumSize)
	copy(out, data)
	binary.BigEndian.PutUint32(out[len(data):], CRC32(data))
	return out
}

// Open verifies the trailer written by Seal and returns the data without it.
func Open(sealed []byte) ([]byte, error) {
	if len(sealed) < ChecksumSize {
		return nil, ErrChecksum
	}
	data := sealed[:len(sealed)-ChecksumSize]
	if binary.BigEndian.Uint32(sealed[len(data):]) != CRC32(data) {
		return nil, ErrChecksum
	}
	return data, nil
}
