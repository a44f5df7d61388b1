package channel

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"time"
)

// ErrInvalidChannel is returned for malformed channel parameters or agents.
var ErrInvalidChannel = errors.New("invalid channel parameters")

// Channel model constants
const (
	// DopplerThresholdHz is the shift below which no rotation is applied.
	DopplerThresholdHz = 1.0
	// SymbolDuration converts a Doppler shift into one per-frame phase.
	SymbolDuration = 1e-3
	// PlatformEchoDelay and PlatformEchoGain describe the single reflection
	// seen by stationary transmitters.
	PlatformEchoDelay = 5
	PlatformEchoGain  = 0.3
	// AvoidanceLevel is the interference level above which the transmitter
	// withholds the center of the band.
	AvoidanceLevel = 0.5
	// ReferenceDistance is the radius (m) inside which interference is not attenuated.
	ReferenceDistance = 10.0
)

// Tap is one multipath reflector.
type Tap struct {
	DelaySeconds float64 `json:"delaySeconds" yaml:"delay_seconds"`
	Amplitude    float64 `json:"amplitude" yaml:"amplitude"`
}

// Params describes the propagation conditions of one transmission.
type Params struct {
	SNRDB          float64 `json:"snrDb" yaml:"snr_db"`
	DopplerShiftHz float64 `json:"dopplerShiftHz" yaml:"doppler_shift_hz"`
	Multipath      []Tap   `json:"multipath" yaml:"multipath"`
	BandwidthHz    float64 `json:"bandwidthHz" yaml:"bandwidth_hz"`
}

// Validate checks that every value is finite and the bandwidth positive.
func (p Params) Validate() error {
	if !finite(p.SNRDB) || !finite(p.DopplerShiftHz) {
		return fmt.Errorf("%w: snr and doppler must be finite", ErrInvalidChannel)
	}
	if !finite(p.BandwidthHz) || p.BandwidthHz <= 0 {
		return fmt.Errorf("%w: bandwidth %v must be > 0", ErrInvalidChannel, p.BandwidthHz)
	}
	for i, tap := range p.Multipath {
		if !finite(tap.DelaySeconds) || tap.DelaySeconds < 0 || !finite(tap.Amplitude) {
			return fmt.Errorf("%w: multipath tap %d is malformed", ErrInvalidChannel, i)
		}
	}
	return nil
}

// MaxDelay returns the largest tap delay in seconds.
func (p Params) MaxDelay() float64 {
	maxDelay := 0.0
	for _, tap := range p.Multipath {
		maxDelay = math.Max(maxDelay, tap.DelaySeconds)
	}
	return maxDelay
}

// DelaySamples converts a tap delay to a whole number of samples, using
// the bandwidth as the sample rate.
func (p Params) DelaySamples(tap Tap) int {
	return int(math.Round(tap.DelaySeconds * p.BandwidthHz))
}

// NoisePower returns the linear noise power for a unit-power signal.
func (p Params) NoisePower() float64 {
	return math.Pow(10, -p.SNRDB/10)
}

// DopplerPhase returns the constant rotation applied to a frame.
func (p Params) DopplerPhase() float64 {
	return 2 * math.Pi * p.DopplerShiftHz * SymbolDuration
}

// RandomSource yields uniform values in [0,1). *rand.Rand satisfies it.
type RandomSource interface {
	Float64() float64
}

// NewSeededSource returns a deterministic source.
func NewSeededSource(seed int64) RandomSource {
	return rand.New(rand.NewSource(seed))
}

// NewSource returns a source seeded from the clock.
func NewSource() RandomSource {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

// Simulator applies the synthetic channel. It is not safe for concurrent
// use; create one per transmission.
type Simulator struct {
	rng RandomSource
}

// NewSimulator creates a simulator drawing noise from rng.
func NewSimulator(rng RandomSource) *Simulator {
	if rng == nil {
		rng = NewSource()
	}
	return &Simulator{rng: rng}
}

// Apply passes a time-domain frame through the channel and returns a new
// frame of the same length. Effects are applied in order: Doppler rotation,
// multipath or platform reflection, additive noise, co-channel interference.
func (s *Simulator) Apply(frame []complex128, p Params, ctx Context) []complex128 {
	base := make([]complex128, len(frame))
	copy(base, frame)

	tx := ctx.Transmitter
	if tx != nil && tx.Mobile() && math.Abs(p.DopplerShiftHz) > DopplerThresholdHz {
		Rotate(base, p.DopplerPhase())
	}

	processed := make([]complex128, len(base))
	copy(processed, base)

	switch {
	case tx == nil:
	case tx.Mobile():
		for _, tap := range p.Multipath {
			AddEcho(processed, base, p.DelaySamples(tap), tap.Amplitude)
		}
	default:
		AddEcho(processed, base, PlatformEchoDelay, PlatformEchoGain)
	}

	s.addUniformNoise(processed, math.Sqrt(p.NoisePower()))

	for _, a := range ctx.Interferers {
		if !a.IsTransmitting {
			continue
		}
		s.addUniformNoise(processed, a.InterferenceLevel*ctx.DistanceFactor(a))
	}
	return processed
}

// Rotate multiplies every sample by e^{jθ} in place.
func Rotate(x []complex128, theta float64) {
	r := cmplx.Exp(complex(0, theta))
	for i := range x {
		x[i] *= r
	}
}

// AddEcho adds amplitude·src[i-delay] into dst[i] for every valid i.
func AddEcho(dst, src []complex128, delay int, amplitude float64) {
	if delay < 0 {
		return
	}
	a := complex(amplitude, 0)
	for i := delay; i < len(dst) && i-delay < len(src); i++ {
		dst[i] += a * src[i-delay]
	}
}

// addUniformNoise adds independent uniform noise in [-scale, scale) to both
// components of every sample.
func (s *Simulator) addUniformNoise(x []complex128, scale float64) {
	if scale == 0 {
		return
	}
	for i := range x {
		re := (s.rng.Float64()*2 - 1) * scale
		im := (s.rng.Float64()*2 - 1) * scale
		x[i] += complex(re, im)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
