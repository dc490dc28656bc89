package usdr

import (
	"fmt"

	"github.com/rs/zerolog"
)

const (
	DefaultChannelMask   uint32 = 0x1
	DefaultSampleFormat         = "ci16"
	DefaultTxBufferDepth uint32 = 4096
)

type Option func(s *Session) error

func WithChannelMask(mask uint32) Option {
	return func(s *Session) error {
		if mask == 0 {
			return fmt.Errorf("channel mask must select at least one channel")
		}
		s.channelMask = mask
		return nil
	}
}

func WithSampleFormat(format string) Option {
	return func(s *Session) error {
		if format == "" {
			return fmt.Errorf("sample format must not be empty")
		}
		s.sampleFormat = format
		return nil
	}
}

func WithTxBufferDepth(depth uint32) Option {
	return func(s *Session) error {
		if depth == 0 {
			return fmt.Errorf("tx buffer depth must be positive")
		}
		s.txBufferDepth = depth
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) error {
		s.logger = logger
		return nil
	}
}

// WithoutLoggingConfig skips the driver logging step in Open, for processes
// that call ConfigureLogging once at startup.
func WithoutLoggingConfig() Option {
	return func(s *Session) error {
		s.skipLogConfig = true
		return nil
	}
}
