package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/norasector/usdr/pkg/capture"
	"github.com/norasector/usdr/pkg/config"
	"github.com/norasector/usdr/pkg/dsp/channelizer"
	"github.com/norasector/usdr/pkg/dsp/fir"
	"github.com/norasector/usdr/pkg/dsp/spectrum"
	"github.com/norasector/usdr/pkg/dsp/viz"
	"github.com/norasector/usdr/pkg/usdr"
	"github.com/norasector/usdr/pkg/usdr/driver"
	"github.com/norasector/usdr/pkg/usdr/driver/mock"
	"github.com/norasector/usdr/pkg/util"
	"golang.org/x/sync/errgroup"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "usdrcap.yaml", "YAML config file")
	verbose := flag.Bool("v", false, "debug logging")

	flag.Parse()
	if *verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	opts, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configFile).Msg("error loading config")
	}

	var drv driver.Driver
	if opts.UseMock() {
		log.Info().Str("driver", "mock").Msg("initializing driver...")
		drv = mock.New(mock.Options{
			SampleRate: float64(opts.SampleRate),
			ToneOffset: opts.Mock.ToneOffset,
			Amplitude:  opts.Mock.Amplitude,
			Noise:      opts.Mock.Noise,
		})
	} else {
		log.Info().Str("driver", "libusdr").Msg("initializing driver...")
		drv, err = newDriver()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize driver")
		}
	}

	usdr.ConfigureLogging(drv, opts.LogLevel)

	session, err := usdr.Open(drv, opts.Device, opts.LogLevel, opts.SampleRate, opts.SamplesPerPacket,
		usdr.WithChannelMask(opts.ChannelMask),
		usdr.WithSampleFormat(opts.SampleFormat),
		usdr.WithTxBufferDepth(opts.TxBufferDepth),
		usdr.WithoutLoggingConfig(),
		usdr.WithLogger(log.Logger))
	if err != nil {
		log.Fatal().Err(err).Str("device", opts.Device).Msg("failed to open device")
	}
	defer session.Close()

	if opts.RxFreq != 0 {
		if err := session.SetRxFrequency(opts.RxFreq); err != nil {
			log.Fatal().Err(err).Msg("failed to tune")
		}
	}
	if opts.RxBandwidth != 0 {
		if err := session.SetRxBandwidth(opts.RxBandwidth); err != nil {
			log.Fatal().Err(err).Msg("failed to set bandwidth")
		}
	}

	var writeAPI api.WriteAPI = util.NopWriteAPI{}
	if opts.InfluxDB.Host != "" {
		client := influxdb2.NewClient(opts.InfluxDB.Host, opts.InfluxDB.Token)
		defer client.Close()
		writeAPI = client.WriteAPI(opts.InfluxDB.Organization, opts.InfluxDB.Bucket)
	}

	capOpts := []capture.CapturerOption{
		capture.WithInfluxDB(writeAPI),
		capture.WithLogger(log.Logger),
	}

	if opts.Capture.Output != "" {
		f, err := os.Create(opts.Capture.Output)
		if err != nil {
			log.Fatal().Err(err).Str("output", opts.Capture.Output).Msg("failed to create recording")
		}
		defer f.Close()
		capOpts = append(capOpts, capture.WithOutput(f))
	}

	var plotter *viz.SpectrumPlotter
	if opts.VizServer.Enabled {
		rate, center := opts.SampleRate, opts.RxFreq
		if opts.Channel.Enabled {
			rate /= uint32(opts.Channel.Decimation)
			center = uint32(int(center) + opts.Channel.Offset)
		}
		analyzer := spectrum.NewAnalyzer(opts.VizServer.FFTSize, rate, spectrum.WithCenterFreq(center))

		if opts.Channel.Enabled {
			winType, err := fir.ParseWindowType(opts.Channel.Window)
			if err != nil {
				log.Fatal().Err(err).Msg("invalid channel window")
			}
			chn, err := channelizer.New(channelizer.Options{
				SampleRate: opts.SampleRate,
				Offset:     opts.Channel.Offset,
				Bandwidth:  opts.Channel.Bandwidth,
				Decimation: opts.Channel.Decimation,
				Window:     winType,
			}, channelizer.WithSink(analyzer), channelizer.WithLogger(log.Logger))
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create channelizer")
			}
			capOpts = append(capOpts, capture.WithSink(chn))
		} else {
			capOpts = append(capOpts, capture.WithSink(analyzer))
		}

		plotter = viz.NewSpectrumPlotter("spectrum", analyzer)
		plotter.AddPlotOption(viz.WithYRange(-120, 0))
	}

	capturer, err := capture.NewCapturer(session, capture.Options{
		BlockSamples: opts.Capture.BlockSamples,
		Duration:     opts.Capture.Duration,
		MaxSamples:   opts.Capture.MaxSamples,
		CenterFreq:   opts.RxFreq,
	}, capOpts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create capturer")
	}

	var vizServer *viz.Server
	if plotter != nil {
		vizServer = viz.NewServer(opts.VizServer.Port, opts.VizServer.UpdateInterval,
			viz.WithLogger(log.Logger),
			viz.WithStatus(func() interface{} { return capturer.Stats() }))
		vizServer.Register(plotter)
	}

	if err := session.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start streaming")
	}
	log.Info().
		Str("freq", util.HzToString(opts.RxFreq)).
		Uint32("rate", opts.SampleRate).
		Uint32("bytes_per_sample", session.RxBytesPerSample()).
		Msg("streaming")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("stopping...")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if vizServer != nil {
		eg.Go(func() error {
			return vizServer.Run(ctx)
		})
	}

	eg.Go(func() error {
		defer cancel()
		stats, err := capturer.Run(ctx)
		log.Info().
			Uint64("samples", stats.Samples).
			Uint64("bytes", stats.Bytes).
			Dur("elapsed", stats.Elapsed).
			Float64("rate", stats.Rate()).
			Msg("capture finished")
		return err
	})

	err = eg.Wait()
	if stopErr := session.Stop(); stopErr != nil {
		log.Error().Err(stopErr).Msg("error stopping streams")
	}
	if err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("exited program")
	}
}
