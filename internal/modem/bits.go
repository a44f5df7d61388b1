package modem

// BytesToBits expands bytes into 0/1 bits, most significant bit first.
func BytesToBits(data []byte) []byte {
	bits := make([]byte, len(data)*8)
	for i, b := range data {
		for j := 7; j >= 0; j-- {
			bits[i*8+(7-j)] = (b >> uint(j)) & 1
		}
	}
	return bits
}

// BitsToBytes packs 0/1 bits into bytes. Trailing bits that do not fill a
// byte are dropped.
func BitsToBytes(bits []byte) []byte {
	numBytes := len(bits) / 8
	data := make([]byte, numBytes)
	for i := 0; i < numBytes; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = (b << 1) | (bits[i*8+j] & 1)
		}
		data[i] = b
	}
	return data
}

// AlternatingBits returns n bits of the pattern 0,1,0,1,...
func AlternatingBits(n int) []byte {
	bits := make([]byte, n)
	for i := range bits {
		bits[i] = byte(i % 2)
	}
	return bits
}
