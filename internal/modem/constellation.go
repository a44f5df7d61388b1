package modem

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Modulation represents a constellation scheme. The value is the number of
// bits carried by one symbol.
type Modulation int

const (
	ModBPSK   Modulation = 1
	ModQPSK   Modulation = 2
	Mod16QAM  Modulation = 4
	Mod64QAM  Modulation = 6
	Mod256QAM Modulation = 8
)

// Modulations lists every supported scheme from lowest to highest order.
var Modulations = []Modulation{ModBPSK, ModQPSK, Mod16QAM, Mod64QAM, Mod256QAM}

// BitsPerSymbol returns the number of bits per constellation symbol.
func (m Modulation) BitsPerSymbol() int {
	return int(m)
}

// Order returns the number of constellation points.
func (m Modulation) Order() int {
	return 1 << uint(m)
}

// Valid reports whether m is one of the supported schemes.
func (m Modulation) Valid() bool {
	_, ok := constellations[m]
	return ok
}

// String returns the modulation name.
func (m Modulation) String() string {
	switch m {
	case ModBPSK:
		return "BPSK"
	case ModQPSK:
		return "QPSK"
	case Mod16QAM:
		return "16-QAM"
	case Mod64QAM:
		return "64-QAM"
	case Mod256QAM:
		return "256-QAM"
	default:
		return "Unknown"
	}
}

// ParseModulation parses names such as "qpsk", "16-QAM" or "64QAM".
func ParseModulation(s string) (Modulation, error) {
	switch strings.ReplaceAll(strings.ToUpper(strings.TrimSpace(s)), "-", "") {
	case "BPSK":
		return ModBPSK, nil
	case "QPSK":
		return ModQPSK, nil
	case "16QAM":
		return Mod16QAM, nil
	case "64QAM":
		return Mod64QAM, nil
	case "256QAM":
		return Mod256QAM, nil
	}
	return 0, fmt.Errorf("%w: unknown modulation %q", ErrInvalidParams, s)
}

// ModAuto is the JSON name of the unset modulation, which lets the
// pipeline choose a scheme from the channel conditions.
const ModAuto = "auto"

// MarshalJSON encodes the modulation by name.
func (m Modulation) MarshalJSON() ([]byte, error) {
	if m == 0 {
		return json.Marshal(ModAuto)
	}
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a scheme name, or "auto" and "" for the unset value.
func (m *Modulation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" || strings.EqualFold(s, ModAuto) {
		*m = 0
		return nil
	}
	parsed, err := ParseModulation(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Constellation holds the points of one scheme, indexed by symbol value.
type Constellation struct {
	Mod    Modulation
	points []complex128
}

// constellations is built once at package init and never written again.
var constellations = map[Modulation]*Constellation{
	ModBPSK:   newBPSK(),
	ModQPSK:   newQPSK(),
	Mod16QAM:  newSquareQAM(Mod16QAM),
	Mod64QAM:  newSquareQAM(Mod64QAM),
	Mod256QAM: newSquareQAM(Mod256QAM),
}

// ConstellationFor returns the lookup table for mod, or nil if unsupported.
func ConstellationFor(mod Modulation) *Constellation {
	return constellations[mod]
}

func newBPSK() *Constellation {
	return &Constellation{
		Mod:    ModBPSK,
		points: []complex128{complex(-1, 0), complex(1, 0)},
	}
}

func newQPSK() *Constellation {
	const a = 0.707
	// first bit selects I, second bit selects Q
	return &Constellation{
		Mod: ModQPSK,
		points: []complex128{
			complex(-a, -a), // 00
			complex(-a, a),  // 01
			complex(a, -a),  // 10
			complex(a, a),   // 11
		},
	}
}

func newSquareQAM(mod Modulation) *Constellation {
	size := mod.Order()
	side := int(math.Sqrt(float64(size)))
	center := float64(side-1) / 2
	scale := 1 / center

	points := make([]complex128, size)
	for v := 0; v < size; v++ {
		x := (float64(v%side) - center) * scale
		y := (float64(v/side) - center) * scale
		points[v] = complex(x, y)
	}
	return &Constellation{Mod: mod, points: points}
}

// Points returns a copy of the constellation points.
func (c *Constellation) Points() []complex128 {
	out := make([]complex128, len(c.points))
	copy(out, c.points)
	return out
}

// Map maps a group of bits (most significant first) to a constellation point.
func (c *Constellation) Map(bits []byte) complex128 {
	idx := bitsToIndex(bits)
	if idx >= len(c.points) {
		idx = 0
	}
	return c.points[idx]
}

// Demap finds the closest constellation point and returns its bits.
func (c *Constellation) Demap(symbol complex128) []byte {
	minDist := math.MaxFloat64
	minIdx := 0

	for i, p := range c.points {
		d := Power(symbol - p)
		if d < minDist {
			minDist = d
			minIdx = i
		}
	}

	return indexToBits(minIdx, c.Mod.BitsPerSymbol())
}

// DemapSymbols demaps every symbol with the nearest-point rule.
func (c *Constellation) DemapSymbols(symbols []complex128) []byte {
	bits := make([]byte, 0, len(symbols)*c.Mod.BitsPerSymbol())
	for _, s := range symbols {
		bits = append(bits, c.Demap(s)...)
	}
	return bits
}

// Modulate maps bits (0/1 bytes) to symbols of mod. The last group is
// zero-padded, so the result has ceil(len(bits)/bitsPerSymbol) symbols.
func Modulate(bits []byte, mod Modulation) ([]complex128, error) {
	c := ConstellationFor(mod)
	if c == nil {
		return nil, fmt.Errorf("%w: unsupported modulation %d", ErrInvalidParams, int(mod))
	}

	bps := mod.BitsPerSymbol()
	numSymbols := (len(bits) + bps - 1) / bps
	symbols := make([]complex128, numSymbols)
	group := make([]byte, bps)

	for i := 0; i < numSymbols; i++ {
		for j := range group {
			group[j] = 0
			if k := i*bps + j; k < len(bits) {
				group[j] = bits[k]
			}
		}
		symbols[i] = c.Map(group)
	}
	return symbols, nil
}

// Demodulate applies the hard-decision rule used by the receiver: one bit
// per symbol, taken from the sign of the dominant axis. Higher-order
// constellations lose bits under this rule.
func Demodulate(symbols []complex128) []byte {
	bits := make([]byte, len(symbols))
	for i, s := range symbols {
		bits[i] = HardDecision(s)
	}
	return bits
}

// HardDecision returns 1 when the dominant axis of s is positive.
func HardDecision(s complex128) byte {
	v := imag(s)
	if math.Abs(real(s)) > math.Abs(imag(s)) {
		v = real(s)
	}
	if v > 0 {
		return 1
	}
	return 0
}

// Minimum effective SNR (dB) each scheme needs, highest order first.
var modulationThresholds = []struct {
	mod    Modulation
	minSNR float64
}{
	{Mod256QAM, 30},
	{Mod64QAM, 25},
	{Mod16QAM, 20},
	{ModQPSK, 15},
}

// EffectiveSNR discounts the SNR by 1 dB per 100 Hz of Doppler shift.
func EffectiveSNR(snrDB, dopplerHz float64) float64 {
	return snrDB - math.Abs(dopplerHz)/100
}

// SelectModulation picks the highest-order scheme whose threshold the
// effective SNR strictly exceeds, falling back to BPSK.
func SelectModulation(snrDB, dopplerHz float64) Modulation {
	eff := EffectiveSNR(snrDB, dopplerHz)
	for _, t := range modulationThresholds {
		if eff > t.minSNR {
			return t.mod
		}
	}
	return ModBPSK
}

func bitsToIndex(bits []byte) int {
	idx := 0
	for _, b := range bits {
		idx = (idx << 1) | int(b&1)
	}
	return idx
}

func indexToBits(idx, numBits int) []byte {
	bits := make([]byte, numBits)
	for i := numBits - 1; i >= 0; i-- {
		bits[i] = byte(idx & 1)
		idx >>= 1
	}
	return bits
}
