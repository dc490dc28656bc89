package usdr

import (
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/norasector/usdr/pkg/usdr/driver"
	"github.com/norasector/usdr/pkg/usdr/driver/mock"
)

func openMock(t *testing.T, m *mock.Driver, opts ...Option) *Session {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	s, err := Open(m, "driver=mock", 3, 2000000, 4096, opts...)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return s
}

func TestOpenCallOrder(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()

	want := []string{
		"loglevel(3)",
		"colorize",
		"open",
		"power-on(1)",
		"set-rate([2000000 0 0 0])",
		`create-tx-stream(format="ci16", depth=4096)`,
		`create-rx-stream(format="ci16", depth=4096)`,
		"tx-info",
		"rx-info",
		`sync("off")`,
		"rx-start",
		"tx-start",
	}
	if got := m.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("Calls() = %v, want %v", got, want)
	}

	if level, colorize := m.LogLevel(); level != 3 || !colorize {
		t.Errorf("LogLevel() = %d, %v, want 3, true", level, colorize)
	}
}

func TestOpenWithoutLoggingConfig(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m, WithoutLoggingConfig())
	defer s.Close()

	if m.Called(mock.CallLogLevel) || m.Called(mock.CallColorize) {
		t.Errorf("driver logging configured despite WithoutLoggingConfig: %v", m.Calls())
	}
}

func TestOpenOptions(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m, WithSampleFormat("cf32"), WithTxBufferDepth(1024), WithChannelMask(0x3))
	defer s.Close()

	calls := m.Calls()
	if calls[5] != `create-tx-stream(format="cf32", depth=1024)` {
		t.Errorf("tx stream call = %s", calls[5])
	}
	if calls[6] != `create-rx-stream(format="cf32", depth=4096)` {
		t.Errorf("rx stream call = %s", calls[6])
	}
}

func TestOpenRejectsBadOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  Option
	}{
		{"mask", WithChannelMask(0)},
		{"format", WithSampleFormat("")},
		{"depth", WithTxBufferDepth(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := mock.New(mock.Options{})
			if _, err := Open(m, "driver=mock", 3, 2000000, 4096, tt.opt); err == nil {
				t.Fatal("Open() error = nil")
			}
			if len(m.Calls()) != 0 {
				t.Errorf("driver called after bad option: %v", m.Calls())
			}
		})
	}
}

func TestOpenFailureAtEachStep(t *testing.T) {
	steps := []struct {
		call string
		op   string
	}{
		{mock.CallOpen, "initialize"},
		{mock.CallPowerOn, "power on"},
		{mock.CallSetRate, "set samplerate"},
		{mock.CallCreateTX, "tx stream"},
		{mock.CallCreateRX, "rx stream"},
		{mock.CallTxInfo, "tx info"},
		{mock.CallRxInfo, "rx info"},
		{mock.CallSync, "tx & rx synchronization off"},
		{mock.CallRxStart, "rx stream precharge"},
		{mock.CallTxStart, "tx stream precharge"},
	}

	order := []string{
		mock.CallOpen, mock.CallPowerOn, mock.CallSetRate, mock.CallCreateTX, mock.CallCreateRX,
		mock.CallTxInfo, mock.CallRxInfo, mock.CallSync, mock.CallRxStart, mock.CallTxStart,
	}

	for i, step := range steps {
		t.Run(step.op, func(t *testing.T) {
			m := mock.New(mock.Options{})
			m.FailOn(step.call, -7)

			s, err := Open(m, "driver=mock", 3, 2000000, 4096, WithLogger(zerolog.Nop()))
			if s != nil {
				t.Errorf("Open() returned a session on failure")
			}

			var de *DriverError
			if !errors.As(err, &de) {
				t.Fatalf("Open() error = %v, want *DriverError", err)
			}
			if de.Op != step.op || de.Code != -7 {
				t.Errorf("Open() error = {%q, %d}, want {%q, -7}", de.Op, de.Code, step.op)
			}

			for _, later := range order[i+1:] {
				if m.Called(later) {
					t.Errorf("%s ran after %s failed", later, step.call)
				}
			}

			if m.Opens() != m.Closes() {
				t.Errorf("opens = %d, closes = %d", m.Opens(), m.Closes())
			}
			if m.OpenDevices() != 0 {
				t.Errorf("%d devices left open", m.OpenDevices())
			}
		})
	}
}

func TestOpenRxStreamFailure(t *testing.T) {
	m := mock.New(mock.Options{})
	m.FailOn(mock.CallCreateRX, -5)

	_, err := Open(m, "driver=mock", 3, 2000000, 4096, WithLogger(zerolog.Nop()))
	if !IsCode(err, -5) || OpOf(err) != "rx stream" {
		t.Fatalf("Open() error = %v, want rx stream / -5", err)
	}

	for _, call := range []string{mock.CallTxInfo, mock.CallRxInfo, mock.CallSync, mock.CallRxStart, mock.CallTxStart} {
		if m.Called(call) {
			t.Errorf("%s called after rx stream failure", call)
		}
	}
	if !m.Called(mock.CallClose) {
		t.Errorf("device not closed after failed open")
	}
}

func TestOpenTxPrechargeFailureStopsRx(t *testing.T) {
	m := mock.New(mock.Options{})
	m.FailOn(mock.CallTxStart, -19)

	if _, err := Open(m, "driver=mock", 3, 2000000, 4096, WithLogger(zerolog.Nop())); err == nil {
		t.Fatal("Open() error = nil")
	}
	if !m.Called(mock.CallRxStop) {
		t.Errorf("started rx stream not stopped: %v", m.Calls())
	}
	if m.Called(mock.CallTxStop) {
		t.Errorf("tx stream stopped but never started: %v", m.Calls())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if m.Closes() != 1 || m.Opens() != 1 {
		t.Errorf("opens = %d, closes = %d, want 1, 1", m.Opens(), m.Closes())
	}
	if !s.Closed() {
		t.Errorf("Closed() = false")
	}
}

func TestCloseIgnoresStopErrors(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	m.ResetCalls()
	m.FailOn(mock.CallRxStop, -1)
	m.FailOn(mock.CallTxStop, -1)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	want := []string{mock.CallRxStop, mock.CallTxStop, mock.CallClose}
	if got := m.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("Calls() = %v, want %v", got, want)
	}
	if m.OpenDevices() != 0 {
		t.Errorf("device left open")
	}
}

func TestStartSyncsPair(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()
	m.ResetCalls()

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := m.Calls(); !reflect.DeepEqual(got, []string{`sync("none")`}) {
		t.Errorf("Calls() = %v", got)
	}

	m.FailOn(mock.CallSync, -16)
	if err := s.Start(); OpOf(err) != "start" || !IsCode(err, -16) {
		t.Errorf("Start() error = %v, want start / -16", err)
	}
}

func TestStopShortCircuits(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()
	m.ResetCalls()
	m.FailOn(mock.CallRxStop, -4)

	err := s.Stop()
	if OpOf(err) != "rx stream stop" || !IsCode(err, -4) {
		t.Fatalf("Stop() error = %v, want rx stream stop / -4", err)
	}
	if m.Called(mock.CallTxStop) {
		t.Errorf("tx stop attempted after rx stop failed")
	}

	m.ClearFailures()
	m.FailOn(mock.CallTxStop, -4)
	if err := s.Stop(); OpOf(err) != "tx stream stop" {
		t.Errorf("Stop() error = %v, want tx stream stop", err)
	}
}

func TestStop(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := m.StreamState(driver.PathStreamRX); got != "stop" {
		t.Errorf("rx state = %q, want stop", got)
	}
	if got := m.StreamState(driver.PathStreamTX); got != "stop" {
		t.Errorf("tx state = %q, want stop", got)
	}
}

func TestSetRxParams(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()

	if err := s.SetRxFrequency(104100000); err != nil {
		t.Fatalf("SetRxFrequency() error = %v", err)
	}
	if err := s.SetRxBandwidth(1000000); err != nil {
		t.Fatalf("SetRxBandwidth() error = %v", err)
	}
	if v, _ := m.Param(driver.PathRxFrequency); v != 104100000 {
		t.Errorf("frequency = %d", v)
	}
	if v, _ := m.Param(driver.PathRxBandwidth); v != 1000000 {
		t.Errorf("bandwidth = %d", v)
	}

	m.FailOn(mock.CallSetUint, -34)
	if err := s.SetRxFrequency(1); OpOf(err) != "SetRxFreq" {
		t.Errorf("SetRxFrequency() error = %v", err)
	}
	if err := s.SetRxBandwidth(1); OpOf(err) != "SetRxBandwidth" {
		t.Errorf("SetRxBandwidth() error = %v", err)
	}
}

func TestRxBytesPerSample(t *testing.T) {
	m := mock.New(mock.Options{RxInfo: driver.StreamInfo{PktBytes: 8192, PktSymbols: 4096}})
	s := openMock(t, m)
	defer s.Close()

	if got := s.RxBytesPerSample(); got != 2 {
		t.Fatalf("RxBytesPerSample() = %d, want 2", got)
	}

	m.ResetCalls()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if got := s.RxBytesPerSample(); got != 2 {
		t.Errorf("after Start RxBytesPerSample() = %d, want 2", got)
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if got := s.RxBytesPerSample(); got != 2 {
		t.Errorf("after Stop RxBytesPerSample() = %d, want 2", got)
	}
	if m.Called(mock.CallRxInfo) {
		t.Errorf("RxBytesPerSample queried the driver")
	}
}

func TestReceiveData(t *testing.T) {
	m := mock.New(mock.Options{SampleRate: 2e6, ToneOffset: 250e3})
	s := openMock(t, m)
	defer s.Close()

	const n = 1024
	ch1 := make([]byte, n*int(s.RxBytesPerSample()))
	if err := s.ReceiveData(ch1, nil, n); err != nil {
		t.Fatalf("ReceiveData() error = %v", err)
	}

	nonZero := false
	for _, b := range ch1 {
		if b != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Errorf("ReceiveData() left buffer empty")
	}

	m.FailOn(mock.CallRecv, -110)
	m.SetErrorText(-110, "timed out")
	err := s.ReceiveData(ch1, nil, n)
	if OpOf(err) != "ReceiveData" || !IsCode(err, -110) {
		t.Fatalf("ReceiveData() error = %v", err)
	}
	if got, want := err.Error(), "usdr error in ReceiveData: -110: timed out"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestReceiveIQ(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	defer s.Close()

	samples := make([]IQ, 256)
	n, err := s.ReceiveIQ(samples)
	if err != nil {
		t.Fatalf("ReceiveIQ() error = %v", err)
	}
	if n != len(samples) {
		t.Errorf("ReceiveIQ() = %d, want %d", n, len(samples))
	}
	if samples[0] == (IQ{}) && samples[1] == (IQ{}) {
		t.Errorf("ReceiveIQ() returned zero samples")
	}
}

func TestReceiveIQBufferTooSmall(t *testing.T) {
	m := mock.New(mock.Options{RxInfo: driver.StreamInfo{PktBytes: 8 * 4096, PktSymbols: 4096}})
	s := openMock(t, m)
	defer s.Close()

	_, err := s.ReceiveIQ(make([]IQ, 16))
	if !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("ReceiveIQ() error = %v, want ErrBufferTooSmall", err)
	}
	var bt *BufferTooSmallError
	if !errors.As(err, &bt) || bt.Required != 128 || bt.Provided != 64 {
		t.Errorf("ReceiveIQ() error = %+v", bt)
	}
	if m.Called(mock.CallRecv) {
		t.Errorf("driver recv called with undersized buffer")
	}
}

func TestClosedSession(t *testing.T) {
	m := mock.New(mock.Options{})
	s := openMock(t, m)
	s.Close()
	m.ResetCalls()

	checks := map[string]error{
		"Start":          s.Start(),
		"Stop":           s.Stop(),
		"SetRxFrequency": s.SetRxFrequency(1),
		"SetRxBandwidth": s.SetRxBandwidth(1),
		"ReceiveData":    s.ReceiveData(make([]byte, 4), nil, 1),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrClosed) {
			t.Errorf("%s() error = %v, want ErrClosed", name, err)
		}
	}
	if _, err := s.ReceiveIQ(make([]IQ, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("ReceiveIQ() error = %v, want ErrClosed", err)
	}
	if len(m.Calls()) != 0 {
		t.Errorf("driver called on closed session: %v", m.Calls())
	}
}

func TestDriverErrorText(t *testing.T) {
	tests := []struct {
		name string
		err  *DriverError
		want string
	}{
		{"no text", &DriverError{Op: "initialize", Code: -19}, "usdr error in initialize: -19"},
		{"text", &DriverError{Op: "power on", Code: -5, Text: "Input/output error"}, "usdr error in power on: -5: Input/output error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
