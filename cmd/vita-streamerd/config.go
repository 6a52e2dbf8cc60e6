package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/n5dr/vita-streamer/internal/radioconfig"
)

// FileConfig is the optional on-disk configuration this daemon accepts
// (spec.md's configuration is otherwise entirely over-the-wire via Context
// packets; this file only seeds the initial radio parameters and network
// listeners).
type FileConfig struct {
	Radio struct {
		CenterFrequencyHz uint64  `yaml:"center_frequency_hz"`
		SampleRateHz      uint32  `yaml:"sample_rate_hz"`
		BandwidthHz       uint32  `yaml:"bandwidth_hz"`
		GainDB            float64 `yaml:"gain_db"`
	} `yaml:"radio"`

	Network struct {
		ControlListen string `yaml:"control_listen"`
		DataListen    string `yaml:"data_listen"`
		MetricsListen string `yaml:"metrics_listen"`
	} `yaml:"network"`
}

func loadFileConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// initialSnapshot resolves fc into a validated starting radioconfig.Snapshot,
// applying this daemon's own defaults for anything fc leaves zero.
func initialSnapshot(fc FileConfig) (radioconfig.Snapshot, error) {
	snap := radioconfig.Snapshot{
		CenterFrequencyHz: fc.Radio.CenterFrequencyHz,
		SampleRateHz:      fc.Radio.SampleRateHz,
		BandwidthHz:       fc.Radio.BandwidthHz,
		GainDB:            fc.Radio.GainDB,
	}
	if snap.CenterFrequencyHz == 0 {
		snap.CenterFrequencyHz = 100_000_000
	}
	if snap.SampleRateHz == 0 {
		snap.SampleRateHz = 10_000_000
	}
	if snap.BandwidthHz == 0 {
		snap.BandwidthHz = radioconfig.DefaultBandwidth(snap.SampleRateHz)
	}

	if err := radioconfig.Validate(radioconfig.Fields{
		CenterFrequencyHz: &snap.CenterFrequencyHz,
		SampleRateHz:      &snap.SampleRateHz,
		BandwidthHz:       &snap.BandwidthHz,
		GainDB:            &snap.GainDB,
	}, radioconfig.Snapshot{}); err != nil {
		return radioconfig.Snapshot{}, fmt.Errorf("invalid initial configuration: %w", err)
	}
	return snap, nil
}
