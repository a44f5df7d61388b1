package fec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32_Basic(t *testing.T) {
	data := []byte("Hello, World!")
	checksum := CRC32(data)

	assert.NotZero(t, checksum)
	assert.Equal(t, checksum, CRC32(data), "CRC32 not deterministic")
	assert.NotEqual(t, checksum, CRC32([]byte("Hello, World?")))
}

func TestSealOpen(t *testing.T) {
	data := []byte(`{"requestId":7}`)

	sealed := Seal(data)
	require.Len(t, sealed, len(data)+ChecksumSize)

	opened, err := Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, data, opened)

	sealed[3] ^= 0xFF
	_, err = Open(sealed)
	assert.ErrorIs(t, err, ErrChecksum)

	_, err = Open([]byte{1, 2})
	assert.ErrorIs(t, err, ErrChecksum)
}

func TestRepeatEncode(t *testing.T) {
	assert.Equal(t, []byte{1, 1, 1, 0, 0, 0}, RepeatEncode([]byte{1, 0}, 3))
	assert.Equal(t, []byte{1, 0}, RepeatEncode([]byte{1, 0}, 1))
	assert.Empty(t, RepeatEncode(nil, 3))
}

func TestRepeatDecode(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		r    int
		want []byte
	}{
		{"clean", []byte{1, 1, 1, 0, 0, 0}, 3, []byte{1, 0}},
		{"one flip per group", []byte{1, 0, 1, 0, 1, 0}, 3, []byte{1, 0}},
		{"partial group", []byte{0, 0, 0, 1, 1}, 3, []byte{0, 1}},
		{"tie decodes to zero", []byte{1, 0}, 2, []byte{0}},
		{"passthrough", []byte{1, 0, 1}, 0, []byte{1, 0, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RepeatDecode(tt.in, tt.r))
		})
	}
}

func TestRepeat_CorrectsSparseErrors(t *testing.T) {
	bits := []byte{0, 1, 1, 0, 1, 0, 0, 1}
	coded := RepeatEncode(bits, 5)
	for i := 0; i < len(coded); i += 5 {
		coded[i] ^= 1
		coded[i+3] ^= 1
	}
	assert.Equal(t, bits, RepeatDecode(coded, 5))
}
