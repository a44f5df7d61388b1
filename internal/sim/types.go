// Package sim runs one OFDM transmission end to end: modulation, framing,
// channel, reception and metrics. It holds no state between jobs.
package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/metrics"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
)

// ErrEmptyInput is returned when a job carries no bits.
var ErrEmptyInput = errors.New("empty bit input")

// Bits is a bit sequence, one bit per byte. It serializes as a "0101" string.
type Bits []byte

// ParseBits reads a string of '0' and '1' characters. Whitespace and '_' are
// ignored.
func ParseBits(s string) (Bits, error) {
	bits := make(Bits, 0, len(s))
	for i, c := range s {
		switch c {
		case '0':
			bits = append(bits, 0)
		case '1':
			bits = append(bits, 1)
		case ' ', '\t', '\n', '\r', '_':
		default:
			return nil, fmt.Errorf("invalid bit %q at offset %d", c, i)
		}
	}
	return bits, nil
}

// String renders the bits as '0' and '1' characters.
func (b Bits) String() string {
	var sb strings.Builder
	sb.Grow(len(b))
	for _, v := range b {
		if v&1 == 1 {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String()
}

// MarshalJSON encodes the bits as a string.
func (b Bits) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON accepts either a "0101" string or an array of 0/1 numbers.
func (b *Bits) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		bits, err := ParseBits(s)
		if err != nil {
			return err
		}
		*b = bits
		return nil
	}

	var arr []int
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("bits must be a string or an array: %w", err)
	}
	bits := make(Bits, len(arr))
	for i, v := range arr {
		if v != 0 && v != 1 {
			return fmt.Errorf("invalid bit %d at index %d", v, i)
		}
		bits[i] = byte(v)
	}
	*b = bits
	return nil
}

// SampleVector is a complex sample sequence. It serializes as [[re, im], ...].
type SampleVector []complex128

// MarshalJSON encodes every sample as a two-element array.
func (v SampleVector) MarshalJSON() ([]byte, error) {
	pairs := make([][2]float64, len(v))
	for i, s := range v {
		pairs[i] = [2]float64{real(s), imag(s)}
	}
	return json.Marshal(pairs)
}

// UnmarshalJSON decodes the [[re, im], ...] form.
func (v *SampleVector) UnmarshalJSON(data []byte) error {
	var pairs [][2]float64
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	out := make(SampleVector, len(pairs))
	for i, p := range pairs {
		out[i] = complex(p[0], p[1])
	}
	*v = out
	return nil
}

// TransmissionJob is the immutable input of one pipeline run.
type TransmissionJob struct {
	InputBits     Bits            `json:"inputBits"`
	OFDM          modem.Params    `json:"ofdm"`
	Channel       channel.Params  `json:"channel"`
	Agents        []channel.Agent `json:"agents,omitempty"`
	TransmitterID string          `json:"transmitterId,omitempty"`
	// AdaptiveModulation picks the scheme from the channel conditions,
	// overriding OFDM.Modulation. An unset modulation is always adaptive.
	AdaptiveModulation bool `json:"adaptiveModulation,omitempty"`
	// Repetition repeats every bit before modulation; 0 and 1 disable it.
	Repetition int `json:"repetition,omitempty"`
}

// TransmissionResult is the output of a successful pipeline run.
type TransmissionResult struct {
	Transmitted     SampleVector       `json:"transmitted"`
	Subcarriers     SampleVector       `json:"subcarriers"`
	Received        SampleVector       `json:"received"`
	Equalized       SampleVector       `json:"equalized"`
	ChannelEstimate SampleVector       `json:"channelEstimate"`
	DecodedBits     Bits               `json:"decodedBits"`
	Layout          modem.Layout       `json:"layout"`
	Modulation      modem.Modulation   `json:"modulation"`
	Metrics         metrics.Record     `json:"metrics"`
	Comparison      metrics.Comparison `json:"comparison"`
}

// Failure reports why a job produced no result.
type Failure struct {
	Reason               string  `json:"reason"`
	ProcessingDurationMs float64 `json:"processingDurationMs"`
}

// Error lets a Failure travel as an error.
func (f *Failure) Error() string {
	return fmt.Sprintf("transmission failed after %.3f ms: %s", f.ProcessingDurationMs, f.Reason)
}
