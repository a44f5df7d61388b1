package modem

// Pilot symbols are interleaved with data so the receiver can estimate the
// channel on every OFDM symbol.

// PilotDivisor sets pilot density: one pilot per numSubcarriers/PilotDivisor
// data symbols.
const PilotDivisor = 20

// PilotValue is the known pilot symbol (BPSK +1).
var PilotValue = complex(1, 0)

// PilotSpacing returns how many data symbols separate consecutive pilots.
func PilotSpacing(numSubcarriers int) int {
	spacing := numSubcarriers / PilotDivisor
	if spacing < 1 {
		spacing = 1
	}
	return spacing
}

// InsertPilots places a pilot immediately after every data symbol whose
// index is a multiple of spacing. It returns the combined stream and a mask
// marking pilot positions in it.
func InsertPilots(dataSymbols []complex128, spacing int) ([]complex128, []bool) {
	if spacing < 1 {
		spacing = 1
	}
	numPilots := (len(dataSymbols) + spacing - 1) / spacing
	stream := make([]complex128, 0, len(dataSymbols)+numPilots)
	mask := make([]bool, 0, len(dataSymbols)+numPilots)

	for i, s := range dataSymbols {
		stream = append(stream, s)
		mask = append(mask, false)
		if i%spacing == 0 {
			stream = append(stream, PilotValue)
			mask = append(mask, true)
		}
	}
	return stream, mask
}

// ExtractData drops pilot positions from a stream.
func ExtractData(stream []complex128, mask []bool) []complex128 {
	data := make([]complex128, 0, len(stream))
	for i, s := range stream {
		if i < len(mask) && mask[i] {
			continue
		}
		data = append(data, s)
	}
	return data
}

// CountPilots returns the number of pilot positions in mask.
func CountPilots(mask []bool) int {
	n := 0
	for _, p := range mask {
		if p {
			n++
		}
	}
	return n
}
