package audio

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	DefaultSampleRate = 44100
	FramesPerBuf      = 1024
	NumChannels       = 1
	// DefaultHold repeats every simulated sample so short frames stay audible.
	DefaultHold = 8
	// Peak is the amplitude the loudest rendered sample is scaled to.
	Peak = 0.8
)

// Init initializes PortAudio.
func Init() error {
	return portaudio.Initialize()
}

// Terminate cleans up PortAudio.
func Terminate() error {
	return portaudio.Terminate()
}

// Player plays simulated waveforms on the default output device. Only one
// waveform plays at a time.
type Player struct {
	sampleRate float64
	hold       int
	mu         sync.Mutex
}

// NewPlayer creates a player. PortAudio must be initialized with Init.
func NewPlayer(sampleRate float64, hold int) *Player {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if hold < 1 {
		hold = DefaultHold
	}
	return &Player{sampleRate: sampleRate, hold: hold}
}

// Devices lists the available audio devices.
func (p *Player) Devices() ([]DeviceInfo, error) {
	return ListDevices()
}

// Play renders the real part of samples and writes it to the default output
// stream in FramesPerBuf chunks. It returns early when ctx ends.
func (p *Player) Play(ctx context.Context, samples []complex128) error {
	if len(samples) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := make([]float32, FramesPerBuf)
	stream, err := portaudio.OpenDefaultStream(0, NumChannels, p.sampleRate, FramesPerBuf, buf)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	defer stream.Stop()

	rendered := Render(samples, p.hold)
	for i := 0; i < len(rendered); i += FramesPerBuf {
		if err := ctx.Err(); err != nil {
			return err
		}
		// short final chunk is zero-padded
		n := copy(buf, rendered[i:])
		for j := n; j < len(buf); j++ {
			buf[j] = 0
		}
		if err := stream.Write(); err != nil {
			return fmt.Errorf("write: %w", err)
		}
	}
	return nil
}

// Render converts a complex baseband waveform into mono PCM: the real part,
// scaled so the largest magnitude reaches Peak, each sample repeated hold times.
func Render(samples []complex128, hold int) []float32 {
	if hold < 1 {
		hold = 1
	}
	peak := 0.0
	for _, s := range samples {
		peak = math.Max(peak, math.Abs(real(s)))
	}
	scale := 0.0
	if peak > 0 {
		scale = Peak / peak
	}

	out := make([]float32, 0, len(samples)*hold)
	for _, s := range samples {
		v := float32(real(s) * scale)
		for i := 0; i < hold; i++ {
			out = append(out, v)
		}
	}
	return out
}
