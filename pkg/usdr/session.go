// Package usdr wraps a libusdr device and its RX/TX stream pair in a Session.
//
// A Session is created primed: both streams exist and are started but not
// time-aligned. Start aligns them, Stop halts them, Close releases the device.
// Every negative driver status surfaces as a *DriverError naming the step.
package usdr

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/trailofbits/go-mutexasserts"

	"github.com/norasector/usdr/pkg/usdr/driver"
)

// Session owns one open device and its two streams. Methods are serialized
// internally; ReceiveData blocks every other call until the driver returns.
// A Session must not be copied.
type Session struct {
	mu      sync.Mutex
	drv     driver.Driver
	dev     driver.DeviceHandle
	device  *resource
	streams [2]driver.StreamHandle
	started [2]bool
	rxInfo  driver.StreamInfo
	txInfo  driver.StreamInfo
	scratch []byte

	conn          string
	channelMask   uint32
	sampleFormat  string
	txBufferDepth uint32
	skipLogConfig bool
	logger        zerolog.Logger
}

// Open brings up the device named by conn and primes an RX/TX stream pair.
//
// The steps run in a fixed order and stop at the first failure: logging
// config, open, power, rates, TX stream, RX stream, TX info, RX info, sync
// off, RX start, TX start. On failure everything acquired so far is released.
func Open(drv driver.Driver, conn string, logLevel int, rxSampleRate, samplesPerPacket uint32, opts ...Option) (_ *Session, err error) {
	s := &Session{
		drv:           drv,
		conn:          conn,
		channelMask:   DefaultChannelMask,
		sampleFormat:  DefaultSampleFormat,
		txBufferDepth: DefaultTxBufferDepth,
		logger:        log.Logger,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if !s.skipLogConfig {
		ConfigureLogging(drv, logLevel)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dev, res := drv.Open(conn)
	if err := s.check(res, "initialize"); err != nil {
		return nil, err
	}
	s.dev = dev
	s.device = newResource(func() int { return drv.Close(dev) })

	defer func() {
		if err != nil {
			s.abort()
		}
	}()

	if err := s.check(drv.SetUint(dev, driver.PathPowerEnable, driver.PowerOn), "power on"); err != nil {
		return nil, err
	}

	rates := [driver.RateSlots]uint32{rxSampleRate, 0, 0, 0}
	if err := s.check(drv.SetRates(dev, rates), "set samplerate"); err != nil {
		return nil, err
	}

	s.streams[driver.TX], res = drv.CreateStream(dev, driver.PathStreamTX, s.sampleFormat, s.channelMask, s.txBufferDepth, 0)
	if err := s.check(res, "tx stream"); err != nil {
		return nil, err
	}

	s.streams[driver.RX], res = drv.CreateStream(dev, driver.PathStreamRX, s.sampleFormat, s.channelMask, samplesPerPacket, 0)
	if err := s.check(res, "rx stream"); err != nil {
		return nil, err
	}

	s.txInfo, res = drv.StreamInfo(s.streams[driver.TX])
	if err := s.check(res, "tx info"); err != nil {
		return nil, err
	}

	s.rxInfo, res = drv.StreamInfo(s.streams[driver.RX])
	if err := s.check(res, "rx info"); err != nil {
		return nil, err
	}

	if err := s.check(drv.Sync(dev, driver.SyncOff, s.streams[:]), "tx & rx synchronization off"); err != nil {
		return nil, err
	}

	if err := s.check(drv.StreamOp(s.streams[driver.RX], driver.CommandStart), "rx stream precharge"); err != nil {
		return nil, err
	}
	s.started[driver.RX] = true

	if err := s.check(drv.StreamOp(s.streams[driver.TX], driver.CommandStart), "tx stream precharge"); err != nil {
		return nil, err
	}
	s.started[driver.TX] = true

	s.logger.Info().
		Str("device", conn).
		Uint32("sample_rate", rxSampleRate).
		Uint32("samples_per_packet", samplesPerPacket).
		Uint32("rx_pkt_bytes", s.rxInfo.PktBytes).
		Uint32("rx_pkt_symbols", s.rxInfo.PktSymbols).
		Msg("device primed")

	return s, nil
}

func (s *Session) check(res int, op string) error {
	mutexasserts.AssertMutexLocked(&s.mu)
	if res >= 0 {
		return nil
	}
	err := &DriverError{Op: op, Code: res, Text: s.drv.StrError(res)}
	s.logger.Debug().Str("device", s.conn).Str("op", op).Int("code", res).Msg("driver call failed")
	return err
}

// abort unwinds a failed Open: only streams that were started get stopped.
func (s *Session) abort() {
	mutexasserts.AssertMutexLocked(&s.mu)
	for _, idx := range []int{driver.RX, driver.TX} {
		if s.started[idx] {
			_ = s.drv.StreamOp(s.streams[idx], driver.CommandStop)
		}
	}
	s.release()
}

func (s *Session) release() {
	s.device.Release()
	s.dev = 0
	s.streams = [2]driver.StreamHandle{}
	s.started = [2]bool{}
}

// Close stops both streams, ignoring their errors, and closes the device.
// Calling Close again is a no-op. It always returns nil.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed() {
		return nil
	}

	if res := s.drv.StreamOp(s.streams[driver.RX], driver.CommandStop); res < 0 {
		s.logger.Debug().Int("code", res).Msg("rx stream stop on close")
	}
	if res := s.drv.StreamOp(s.streams[driver.TX], driver.CommandStop); res < 0 {
		s.logger.Debug().Int("code", res).Msg("tx stream stop on close")
	}
	s.release()

	s.logger.Info().Str("device", s.conn).Msg("device closed")
	return nil
}

// Start moves both streams from the primed state into synchronized running.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	return s.check(s.drv.Sync(s.dev, driver.SyncNone, s.streams[:]), "start")
}

// Stop halts RX, then TX. A failed RX stop returns immediately without
// touching TX.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	if err := s.check(s.drv.StreamOp(s.streams[driver.RX], driver.CommandStop), "rx stream stop"); err != nil {
		return err
	}
	return s.check(s.drv.StreamOp(s.streams[driver.TX], driver.CommandStop), "tx stream stop")
}

func (s *Session) SetRxFrequency(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	return s.check(s.drv.SetUint(s.dev, driver.PathRxFrequency, uint64(hz)), "SetRxFreq")
}

func (s *Session) SetRxBandwidth(hz uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	return s.check(s.drv.SetUint(s.dev, driver.PathRxBandwidth, uint64(hz)), "SetRxBandwidth")
}

// ReceiveData blocks until the driver delivers samples into ch1 and ch2, one
// buffer per channel, in the session's sample format. Sizing the buffers is
// up to the caller (samples * RxBytesPerSample); ch2 may be nil.
func (s *Session) ReceiveData(ch1, ch2 []byte, samples uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return ErrClosed
	}
	return s.check(s.drv.Recv(s.streams[driver.RX], [][]byte{ch1, ch2}, samples), "ReceiveData")
}

// ReceiveIQ fills samples from the first channel and returns how many were
// received. Unlike ReceiveData it checks the buffer against the stream's
// bytes per sample.
func (s *Session) ReceiveIQ(samples []IQ) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed() {
		return 0, ErrClosed
	}
	if len(samples) == 0 {
		return 0, nil
	}

	bps := int(s.rxBytesPerSample())
	required := len(samples) * bps
	if provided := len(samples) * IQSize; required > provided {
		return 0, &BufferTooSmallError{Required: required, Provided: provided}
	}
	if bps != IQSize {
		return 0, fmt.Errorf("usdr: stream has %d bytes per sample, ReceiveIQ needs ci16", bps)
	}

	if cap(s.scratch) < required {
		s.scratch = make([]byte, required)
	}
	buf := s.scratch[:required]

	if err := s.check(s.drv.Recv(s.streams[driver.RX], [][]byte{buf, nil}, uint32(len(samples))), "ReceiveData"); err != nil {
		return 0, err
	}

	for i := range samples {
		samples[i] = IQ{
			I: int16(binary.LittleEndian.Uint16(buf[i*IQSize:])),
			Q: int16(binary.LittleEndian.Uint16(buf[i*IQSize+2:])),
		}
	}
	return len(samples), nil
}

// RxBytesPerSample is bytes per packet over samples per packet for the RX
// stream, as reported when the session was opened. A driver reporting zero
// samples per packet yields 0.
func (s *Session) RxBytesPerSample() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxBytesPerSample()
}

func (s *Session) rxBytesPerSample() uint32 {
	if s.rxInfo.PktSymbols == 0 {
		return 0
	}
	return s.rxInfo.PktBytes / s.rxInfo.PktSymbols
}

func (s *Session) RxInfo() driver.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rxInfo
}

func (s *Session) TxInfo() driver.StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txInfo
}

// Closed reports whether Close has released the device.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed()
}

func (s *Session) closed() bool {
	return s.device.Released()
}
