// Package driver describes the subset of the libusdr C API the session needs.
//
// Every call returns the raw driver status. Negative values are errors; the
// session is responsible for turning them into Go errors.
package driver

// DeviceHandle identifies an open device. The zero value is not a device.
type DeviceHandle uintptr

// StreamHandle identifies a stream created against an open device.
type StreamHandle uintptr

// StreamCommand is an operation applied to a single stream.
type StreamCommand uint32

const (
	CommandStart StreamCommand = iota
	CommandStop
)

func (c StreamCommand) String() string {
	switch c {
	case CommandStart:
		return "start"
	case CommandStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Stream slots. Joint calls pass handles in this order and the driver is
// positional, so RX must stay at index 0.
const (
	RX = 0
	TX = 1
)

// Sync modes understood by Sync.
const (
	SyncOff  = "off"
	SyncNone = "none"
)

// Device parameter and stream object paths.
const (
	PathPowerEnable = "/dm/power/en"
	PathRates       = "/dm/rate/rxtxadcdac"
	PathRxFrequency = "/dm/sdr/0/rx/freqency"
	PathRxBandwidth = "/dm/sdr/0/rx/bandwidth"
	PathStreamRX    = "/ll/srx/0"
	PathStreamTX    = "/ll/stx/0"
)

const (
	PowerOn = 1

	// RateSlots is the length of the rx/tx/adc/dac rate vector.
	RateSlots = 4
)

// StreamInfo is the packet geometry reported after stream creation.
type StreamInfo struct {
	PktBytes   uint32 // bytes per packet per channel
	PktSymbols uint32 // samples per packet per channel
}

// Driver is the libusdr API surface.
type Driver interface {
	// SetLogLevel and EnableColorize change process-wide driver logging.
	SetLogLevel(level int)
	EnableColorize()

	Open(conn string) (DeviceHandle, int)
	Close(dev DeviceHandle) int

	SetUint(dev DeviceHandle, path string, value uint64) int
	// SetRates sets [rx, tx, adc, dac]; zero slots are derived by the driver.
	SetRates(dev DeviceHandle, rates [RateSlots]uint32) int

	CreateStream(dev DeviceHandle, path, format string, chanMask, depth, flags uint32) (StreamHandle, int)
	StreamInfo(stream StreamHandle) (StreamInfo, int)
	Sync(dev DeviceHandle, mode string, streams []StreamHandle) int
	StreamOp(stream StreamHandle, cmd StreamCommand) int

	// Recv blocks until samples are available and fills one buffer per channel.
	// A nil buffer is passed to the driver as NULL.
	Recv(stream StreamHandle, buffers [][]byte, samples uint32) int

	// StrError returns the driver's text for a negative status, or "".
	StrError(code int) string
}
