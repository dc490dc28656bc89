// Package mock provides a recording driver.Driver with failure injection and
// a synthetic tone source, so sessions can be exercised without hardware.
package mock

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/norasector/usdr/pkg/usdr/driver"
)

// Call names as they appear in the call log. Calls with arguments are logged
// as name(args), e.g. set-rate([2000000 0 0 0]); FailOn matches on the name.
const (
	CallLogLevel = "loglevel"
	CallColorize = "colorize"
	CallOpen     = "open"
	CallClose    = "close"
	CallPowerOn  = "power-on"
	CallSetRate  = "set-rate"
	CallSetUint  = "set-uint"
	CallCreateTX = "create-tx-stream"
	CallCreateRX = "create-rx-stream"
	CallTxInfo   = "tx-info"
	CallRxInfo   = "rx-info"
	CallSync     = "sync"
	CallRxStart  = "rx-start"
	CallTxStart  = "tx-start"
	CallRxStop   = "rx-stop"
	CallTxStop   = "tx-stop"
	CallRecv     = "recv"
)

const (
	defaultToneHz    = 100e3
	defaultAmplitude = 0.5
)

type Options struct {
	// Stream geometry reported by StreamInfo. Zero fields default to ci16
	// geometry derived from the stream depth (4 bytes per sample).
	RxInfo driver.StreamInfo
	TxInfo driver.StreamInfo

	// SampleRate and ToneOffset shape the synthetic receive signal.
	SampleRate float64
	ToneOffset float64
	Amplitude  float64
	Noise      float64
}

type stream struct {
	dev   driver.DeviceHandle
	path  string
	info  driver.StreamInfo
	state string
}

// Driver records every call in order. It is safe for concurrent use.
type Driver struct {
	mu       sync.Mutex
	opts     Options
	calls    []string
	failures map[string]int
	texts    map[int]string

	next    uintptr
	devices map[driver.DeviceHandle]string
	streams map[driver.StreamHandle]*stream
	params  map[string]uint64

	opens, closes int
	logLevel      int
	colorize      bool
	phase         float64
	rng           *rand.Rand
}

func New(opts Options) *Driver {
	if opts.ToneOffset == 0 {
		opts.ToneOffset = defaultToneHz
	}
	if opts.Amplitude == 0 {
		opts.Amplitude = defaultAmplitude
	}
	return &Driver{
		opts:     opts,
		failures: make(map[string]int),
		texts:    make(map[int]string),
		devices:  make(map[driver.DeviceHandle]string),
		streams:  make(map[driver.StreamHandle]*stream),
		params:   make(map[string]uint64),
		rng:      rand.New(rand.NewSource(1)),
	}
}

// FailOn makes every subsequent call named call return code.
func (d *Driver) FailOn(call string, code int) {
	d.mu.Lock()
	d.failures[call] = code
	d.mu.Unlock()
}

// ClearFailures removes every injected failure.
func (d *Driver) ClearFailures() {
	d.mu.Lock()
	d.failures = make(map[string]int)
	d.mu.Unlock()
}

// SetErrorText registers the text StrError returns for code.
func (d *Driver) SetErrorText(code int, text string) {
	d.mu.Lock()
	d.texts[code] = text
	d.mu.Unlock()
}

// Calls returns a copy of the call log.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ret := make([]string, len(d.calls))
	copy(ret, d.calls)
	return ret
}

// ResetCalls empties the call log without touching device state.
func (d *Driver) ResetCalls() {
	d.mu.Lock()
	d.calls = nil
	d.mu.Unlock()
}

// Called reports whether a call with the given name was logged.
func (d *Driver) Called(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.calls {
		if callName(c) == name {
			return true
		}
	}
	return false
}

// Opens and Closes count successful device opens and closes.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

func (d *Driver) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closes
}

// OpenDevices is the number of devices not yet closed.
func (d *Driver) OpenDevices() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.devices)
}

// Param returns the last value written to a device parameter path.
func (d *Driver) Param(path string) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.params[path]
	return v, ok
}

// StreamState returns the last command applied to the stream at path, or
// "" when no such stream is open.
func (d *Driver) StreamState(path string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.streams {
		if s.path == path {
			return s.state
		}
	}
	return ""
}

// LogLevel returns the last driver log level and colorize setting.
func (d *Driver) LogLevel() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logLevel, d.colorize
}

func callName(c string) string {
	for i := 0; i < len(c); i++ {
		if c[i] == '(' {
			return c[:i]
		}
	}
	return c
}

// record logs the call and returns the injected failure, if any. Caller
// holds d.mu.
func (d *Driver) record(name string, args ...interface{}) int {
	entry := name
	if len(args) > 0 {
		entry += "("
		for i, a := range args {
			if i > 0 {
				entry += ", "
			}
			entry += fmt.Sprint(a)
		}
		entry += ")"
	}
	d.calls = append(d.calls, entry)
	return d.failures[name]
}

func (d *Driver) SetLogLevel(level int) {
	d.mu.Lock()
	d.record(CallLogLevel, level)
	d.logLevel = level
	d.mu.Unlock()
}

func (d *Driver) EnableColorize() {
	d.mu.Lock()
	d.record(CallColorize)
	d.colorize = true
	d.mu.Unlock()
}

func (d *Driver) Open(conn string) (driver.DeviceHandle, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.record(CallOpen); code < 0 {
		return 0, code
	}
	d.next++
	h := driver.DeviceHandle(d.next)
	d.devices[h] = conn
	d.opens++
	return h, 0
}

func (d *Driver) Close(h driver.DeviceHandle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record(CallClose)
	if _, ok := d.devices[h]; !ok {
		return -22
	}
	delete(d.devices, h)
	for sh, s := range d.streams {
		if s.dev == h {
			delete(d.streams, sh)
		}
	}
	d.closes++
	return 0
}

func (d *Driver) SetUint(h driver.DeviceHandle, path string, value uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var code int
	if path == driver.PathPowerEnable {
		code = d.record(CallPowerOn, value)
	} else {
		code = d.record(CallSetUint, path, value)
	}
	if code < 0 {
		return code
	}
	if _, ok := d.devices[h]; !ok {
		return -22
	}
	d.params[path] = value
	return 0
}

func (d *Driver) SetRates(h driver.DeviceHandle, rates [driver.RateSlots]uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.record(CallSetRate, rates); code < 0 {
		return code
	}
	if _, ok := d.devices[h]; !ok {
		return -22
	}
	if d.opts.SampleRate == 0 {
		d.opts.SampleRate = float64(rates[0])
	}
	d.params[driver.PathRates] = uint64(rates[0])
	return 0
}

func (d *Driver) CreateStream(h driver.DeviceHandle, path, format string, chanMask, depth, flags uint32) (driver.StreamHandle, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := CallCreateRX
	info := d.opts.RxInfo
	if path == driver.PathStreamTX {
		name = CallCreateTX
		info = d.opts.TxInfo
	}
	if code := d.record(name, fmt.Sprintf("format=%q", format), fmt.Sprintf("depth=%d", depth)); code < 0 {
		return 0, code
	}
	if _, ok := d.devices[h]; !ok {
		return 0, -22
	}
	if info.PktSymbols == 0 {
		info.PktSymbols = depth
	}
	if info.PktBytes == 0 {
		info.PktBytes = info.PktSymbols * 4
	}

	d.next++
	sh := driver.StreamHandle(d.next)
	d.streams[sh] = &stream{dev: h, path: path, info: info, state: "created"}
	return sh, 0
}

func (d *Driver) StreamInfo(h driver.StreamHandle) (driver.StreamInfo, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[h]
	name := CallRxInfo
	if ok && s.path == driver.PathStreamTX {
		name = CallTxInfo
	}
	if code := d.record(name); code < 0 {
		return driver.StreamInfo{}, code
	}
	if !ok {
		return driver.StreamInfo{}, -22
	}
	return s.info, 0
}

func (d *Driver) Sync(h driver.DeviceHandle, mode string, streams []driver.StreamHandle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.record(CallSync, fmt.Sprintf("%q", mode)); code < 0 {
		return code
	}
	if _, ok := d.devices[h]; !ok || len(streams) != 2 {
		return -22
	}
	if s, ok := d.streams[streams[driver.RX]]; !ok || s.path != driver.PathStreamRX {
		return -22
	}
	if s, ok := d.streams[streams[driver.TX]]; !ok || s.path != driver.PathStreamTX {
		return -22
	}
	return 0
}

func (d *Driver) StreamOp(h driver.StreamHandle, cmd driver.StreamCommand) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[h]
	dir := "rx"
	if ok && s.path == driver.PathStreamTX {
		dir = "tx"
	}
	if code := d.record(dir + "-" + cmd.String()); code < 0 {
		return code
	}
	if !ok {
		return -22
	}
	s.state = cmd.String()
	return 0
}

// Recv fills the first buffer with a ci16 tone at ToneOffset Hz plus
// optional noise. The second buffer, when present, gets the same tone.
func (d *Driver) Recv(h driver.StreamHandle, buffers [][]byte, samples uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if code := d.record(CallRecv, samples); code < 0 {
		return code
	}
	if _, ok := d.streams[h]; !ok {
		return -22
	}

	rate := d.opts.SampleRate
	if rate == 0 {
		rate = 2e6
	}
	step := 2 * math.Pi * d.opts.ToneOffset / rate
	for _, buf := range buffers {
		phase := d.phase
		for i := 0; i < int(samples) && (i+1)*4 <= len(buf); i++ {
			re := d.opts.Amplitude*math.Cos(phase) + d.opts.Noise*d.rng.NormFloat64()
			im := d.opts.Amplitude*math.Sin(phase) + d.opts.Noise*d.rng.NormFloat64()
			binary.LittleEndian.PutUint16(buf[i*4:], uint16(toInt16(re)))
			binary.LittleEndian.PutUint16(buf[i*4+2:], uint16(toInt16(im)))
			phase += step
		}
	}
	d.phase = math.Mod(d.phase+step*float64(samples), 2*math.Pi)
	return 0
}

func toInt16(v float64) int16 {
	v *= math.MaxInt16
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

func (d *Driver) StrError(code int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.texts[code]
}

var _ driver.Driver = (*Driver)(nil)
