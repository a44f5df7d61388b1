package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jeongseonghan/ofdm-sim/internal/audio"
	"github.com/jeongseonghan/ofdm-sim/internal/channel"
	"github.com/jeongseonghan/ofdm-sim/internal/metrics"
	"github.com/jeongseonghan/ofdm-sim/internal/modem"
	"github.com/jeongseonghan/ofdm-sim/internal/scenario"
	"github.com/jeongseonghan/ofdm-sim/internal/sim"
)

// report is the summary printed for one run.
type report struct {
	Scenario    string             `json:"scenario,omitempty"`
	Modulation  modem.Modulation   `json:"modulation"`
	Layout      modem.Layout       `json:"layout"`
	InputBits   string             `json:"inputBits"`
	DecodedBits string             `json:"decodedBits"`
	DecodedText string             `json:"decodedText,omitempty"`
	Metrics     metrics.Record     `json:"metrics"`
	Comparison  metrics.Comparison `json:"comparison"`
	Quality     sim.QualitySummary `json:"quality"`
}

func main() {
	scenarioPath := flag.String("scenario", "", "YAML scenario file")
	seed := flag.Int64("seed", 0, "Channel seed; overrides the scenario seed when set")
	full := flag.Bool("full", false, "Print the full result including sample vectors")
	play := flag.Bool("play", false, "Play the transmitted waveform on the default audio device")
	sampleRate := flag.Float64("sample-rate", audio.DefaultSampleRate, "Playback sample rate")
	dev := flag.Bool("dev", false, "Development logging")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ofdmsim -scenario FILE [-seed N] [-full] [-play]")
		os.Exit(2)
	}

	logger, err := newLogger(*dev)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	sc, err := scenario.Load(*scenarioPath)
	if err != nil {
		logger.Fatal("load scenario", zap.Error(err))
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			sc.Seed = seed
		}
	})

	job, err := sc.Job()
	if err != nil {
		logger.Fatal("build job", zap.Error(err))
	}

	runner := sim.Runner{
		Source: sc.Source(),
		Progress: func(stage sim.Stage) {
			logger.Debug("stage", zap.String("stage", string(stage)))
		},
	}
	res, failure := runner.Run(job)
	if failure != nil {
		writeJSON(os.Stdout, failure)
		logger.Error("transmission failed", zap.String("reason", failure.Reason))
		os.Exit(1)
	}

	if *full {
		writeJSON(os.Stdout, res)
	} else {
		rep := report{
			Scenario:    sc.Name,
			Modulation:  res.Modulation,
			Layout:      res.Layout,
			InputBits:   job.InputBits.String(),
			DecodedBits: res.DecodedBits.String(),
			Metrics:     res.Metrics,
			Comparison:  res.Comparison,
			Quality:     sim.AnalyzeChannelQuality(job.Channel, interferers(job)),
		}
		if sc.InputText != "" {
			rep.DecodedText = string(modem.BitsToBytes(res.DecodedBits))
		}
		writeJSON(os.Stdout, rep)
	}

	if *play {
		if err := playWaveform(logger, res.Transmitted, *sampleRate); err != nil {
			logger.Fatal("playback", zap.Error(err))
		}
	}
}

// interferers drops the transmitter from the agent list.
func interferers(job sim.TransmissionJob) []channel.Agent {
	ctx := channel.NewContext(job.Agents, job.TransmitterID)
	return ctx.Interferers
}

func playWaveform(logger *zap.Logger, samples []complex128, sampleRate float64) error {
	if err := audio.Init(); err != nil {
		return fmt.Errorf("init PortAudio: %w", err)
	}
	defer audio.Terminate()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("playing waveform", zap.Int("samples", len(samples)), zap.Float64("sample_rate", sampleRate))
	return audio.NewPlayer(sampleRate, audio.DefaultHold).Play(ctx, samples)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func writeJSON(w io.Writer, v interface{}) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}
