// Package scenario reads YAML scenario files into transmission jobs.
package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// DefaultBandwidthHz applies when a scenario leaves the bandwidth out.
const DefaultBandwidthHz = 20e6

// Scenario is one transmission described in YAML. Exactly one of
// input_bits, input_text or random_bits supplies the payload.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Seed drives the channel noise and random_bits. Nil means unseeded.
	Seed       *int64 `yaml:"seed"`
	InputBits  string `yaml:"input_bits"`
	InputText  string `yaml:"input_text"`
	RandomBits int    `yaml:"random_bits"`

	OFDM struct {
		FFTSize            int    `yaml:"fft_size"`
		NumSubcarriers     int    `yaml:"num_subcarriers"`
		CyclicPrefixLength int    `yaml:"cyclic_prefix_length"`
		Modulation         string `yaml:"modulation"`
	} `yaml:"ofdm"`

	Channel            channel.Params  `yaml:"channel"`
	Agents             []channel.Agent `yaml:"agents"`
	TransmitterID      string          `yaml:"transmitter_id"`
	AdaptiveModulation bool            `yaml:"adaptive_modulation"`
	Repetition         int             `yaml:"repetition"`
}

// Load reads and parses a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes a scenario document. Unknown keys are rejected.
func Parse(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, err
	}
	payloads := 0
	for _, set := range []bool{sc.InputBits != "", sc.InputText != "", sc.RandomBits > 0} {
		if set {
			payloads++
		}
	}
	if payloads > 1 {
		return nil, errors.New("input_bits, input_text and random_bits are mutually exclusive")
	}
	if sc.RandomBits < 0 {
		return nil, fmt.Errorf("random_bits %d must not be negative", sc.RandomBits)
	}
	return &sc, nil
}

// Source returns the channel randomness for the scenario: seeded when a
// seed is given, otherwise from the clock.
func (sc *Scenario) Source() channel.RandomSource {
	if sc.Seed != nil {
		return channel.NewSeededSource(*sc.Seed)
	}
	return channel.NewSource()
}

// Job builds the transmission job, filling in the default OFDM
// configuration and bandwidth when they are absent.
func (sc *Scenario) Job() (sim.TransmissionJob, error) {
	bits, err := sc.bits()
	if err != nil {
		return sim.TransmissionJob{}, err
	}

	params := modem.DefaultParams()
	if sc.OFDM.FFTSize != 0 {
		params = modem.Params{
			FFTSize:            sc.OFDM.FFTSize,
			NumSubcarriers:     sc.OFDM.NumSubcarriers,
			CyclicPrefixLength: sc.OFDM.CyclicPrefixLength,
			Modulation:         params.Modulation,
		}
	}
	switch m := strings.TrimSpace(sc.OFDM.Modulation); {
	case m == "":
	case strings.EqualFold(m, modem.ModAuto):
		params.Modulation = 0
	default:
		mod, err := modem.ParseModulation(m)
		if err != nil {
			return sim.TransmissionJob{}, err
		}
		params.Modulation = mod
	}

	ch := sc.Channel
	if ch.BandwidthHz == 0 {
		ch.BandwidthHz = DefaultBandwidthHz
	}

	return sim.TransmissionJob{
		InputBits:          bits,
		OFDM:               params,
		Channel:            ch,
		Agents:             sc.Agents,
		TransmitterID:      sc.TransmitterID,
		AdaptiveModulation: sc.AdaptiveModulation,
		Repetition:         sc.Repetition,
	}, nil
}

func (sc *Scenario) bits() (sim.Bits, error) {
	if sc.InputText != "" {
		return sim.Bits(modem.BytesToBits([]byte(sc.InputText))), nil
	}
	if sc.RandomBits == 0 {
		return sim.ParseBits(sc.InputBits)
	}
	var rng *rand.Rand
	if sc.Seed != nil {
		rng = rand.New(rand.NewSource(*sc.Seed))
	} else {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	bits := make(sim.Bits, sc.RandomBits)
	for i := range bits {
		bits[i] = byte(rng.Intn(2))
	}
	return bits, nil
}
