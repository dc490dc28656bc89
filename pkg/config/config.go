package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const MockDevice = "driver=mock"

type Config struct {
	Device           string        `yaml:"device"`
	LogLevel         int           `yaml:"log_level"`
	SampleRate       uint32        `yaml:"sample_rate"`
	SamplesPerPacket uint32        `yaml:"samples_per_packet"`
	RxFreq           uint32        `yaml:"rx_freq"`
	RxBandwidth      uint32        `yaml:"rx_bandwidth"`
	ChannelMask      uint32        `yaml:"channel_mask"`
	SampleFormat     string        `yaml:"sample_format"`
	TxBufferDepth    uint32        `yaml:"tx_buffer_depth"`
	Capture          CaptureConfig `yaml:"capture"`
	Channel          ChannelConfig `yaml:"channel"`
	Mock             MockConfig    `yaml:"mock"`
	VizServer        struct {
		Enabled        bool          `yaml:"enabled"`
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval_ms"`
		FFTSize        int           `yaml:"fft_size"`
	} `yaml:"viz_server"`
	InfluxDB struct {
		Host         string `yaml:"host"`
		Token        string `yaml:"token"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type CaptureConfig struct {
	Output       string        `yaml:"output"`
	Duration     time.Duration `yaml:"duration"`
	BlockSamples int           `yaml:"block_samples"`
	MaxSamples   uint64        `yaml:"max_samples"`
}

// ChannelConfig narrows what the spectrum view sees to one channel.
type ChannelConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Offset     int    `yaml:"offset"`
	Bandwidth  uint32 `yaml:"bandwidth"`
	Decimation int    `yaml:"decimation"`
	Window     string `yaml:"window"`
}

// MockConfig shapes the synthetic signal when Device is driver=mock.
type MockConfig struct {
	Enabled    bool    `yaml:"enabled"`
	ToneOffset float64 `yaml:"tone_offset"`
	Amplitude  float64 `yaml:"amplitude"`
	Noise      float64 `yaml:"noise"`
}

func Default() Config {
	var c Config
	c.LogLevel = 3
	c.SampleRate = 2000000
	c.SamplesPerPacket = 4096
	c.ChannelMask = 0x1
	c.SampleFormat = "ci16"
	c.TxBufferDepth = 4096
	c.Capture.BlockSamples = 4096
	c.VizServer.Port = 8080
	c.VizServer.UpdateInterval = 500
	c.VizServer.FFTSize = 1024
	return c
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(contents)
}

func Parse(contents []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(contents, &c); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling yaml: %w", err)
	}
	// update_interval_ms is given in milliseconds
	c.VizServer.UpdateInterval *= time.Millisecond
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("sample_rate must be set")
	}
	if c.SamplesPerPacket == 0 {
		return fmt.Errorf("samples_per_packet must be set")
	}
	if c.ChannelMask == 0 {
		return fmt.Errorf("channel_mask must select at least one channel")
	}
	if c.SampleFormat == "" {
		return fmt.Errorf("sample_format must be set")
	}
	if c.TxBufferDepth == 0 {
		return fmt.Errorf("tx_buffer_depth must be set")
	}
	if c.Capture.BlockSamples <= 0 {
		return fmt.Errorf("capture.block_samples must be positive")
	}
	if c.Channel.Enabled {
		if c.Channel.Bandwidth == 0 {
			return fmt.Errorf("channel.bandwidth must be set")
		}
		if c.Channel.Decimation < 1 {
			return fmt.Errorf("channel.decimation must be at least 1")
		}
	}
	if c.VizServer.Enabled && c.VizServer.FFTSize <= 0 {
		return fmt.Errorf("viz_server.fft_size must be positive")
	}
	return nil
}

func (c Config) UseMock() bool {
	return c.Device == MockDevice || c.Mock.Enabled
}
