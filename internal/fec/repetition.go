// Package fec holds the toy repetition code applied to transmitted bits and
// the CRC-32 trailer used to check envelopes crossing the worker boundary.
package fec

// RepeatEncode repeats every bit r times. r < 2 returns a copy.
func RepeatEncode(bits []byte, r int) []byte {
	if r < 2 {
		return append([]byte(nil), bits...)
	}
	out := make([]byte, 0, len(bits)*r)
	for _, b := range bits {
		for i := 0; i < r; i++ {
			out = append(out, b&1)
		}
	}
	return out
}

// RepeatDecode majority-votes consecutive groups of r bits. A trailing
// partial group is voted on its own; ties decode to 0.
func RepeatDecode(bits []byte, r int) []byte {
	if r < 2 {
		return append([]byte(nil), bits...)
	}
	out := make([]byte, 0, (len(bits)+r-1)/r)
	for start := 0; start < len(bits); start += r {
		end := start + r
		if end > len(bits) {
			end = len(bits)
		}
		ones := 0
		for _, b := range bits[start:end] {
			ones += int(b & 1)
		}
		if 2*ones > end-start {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
	}
	return out
}
