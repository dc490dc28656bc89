//go:build usdr

// Package libusdr binds driver.Driver to the libusdr shared library.
//
// Build with -tags usdr and libusdr installed.
package libusdr

/*
#cgo CFLAGS: -I/usr/local/include/usdr -I/usr/include/usdr
#cgo LDFLAGS: -lusdr

#include <stdint.h>
#include <stdlib.h>
#include <string.h>

#include "usdr_logging.h"
#include "dm_dev.h"
#include "dm_rate.h"
#include "dm_stream.h"

// The rate vector is read by the driver through a pointer smuggled in the
// value argument, so it has to live in C memory.
static int set_rates(pdm_dev_t dev, const char* path, unsigned rx, unsigned tx, unsigned adc, unsigned dac) {
	unsigned rates[4] = { rx, tx, adc, dac };
	return usdr_dme_set_uint(dev, path, (uintptr_t)rates);
}

static int create_stream(pdm_dev_t dev, const char* path, const char* format, unsigned mask, unsigned depth, unsigned flags, pusdr_dms_t* out) {
	return usdr_dms_create_ex(dev, path, format, mask, depth, flags, out);
}

static int stream_info(pusdr_dms_t s, unsigned* pktbytes, unsigned* pktsyms) {
	usdr_dms_nfo_t nfo;
	int res = usdr_dms_info(s, &nfo);
	if (res < 0) {
		return res;
	}
	*pktbytes = nfo.pktbszie;
	*pktsyms = nfo.pktsyms;
	return res;
}

static int stream_op(pusdr_dms_t s, unsigned cmd) {
	switch (cmd) {
	case 0:
		return usdr_dms_op(s, USDR_DMS_START, 0);
	case 1:
		return usdr_dms_op(s, USDR_DMS_STOP, 0);
	}
	return -22;
}

static int sync_pair(pdm_dev_t dev, const char* mode, pusdr_dms_t rx, pusdr_dms_t tx) {
	pusdr_dms_t strms[2] = { rx, tx };
	return usdr_dms_sync(dev, mode, 2, strms);
}

static int recv_two(pusdr_dms_t s, void* ch1, void* ch2, unsigned samples) {
	void* buffers[2] = { ch1, ch2 };
	return usdr_dms_recv(s, buffers, samples, NULL);
}
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/norasector/usdr/pkg/usdr/driver"
)

// Driver calls straight into libusdr. Handles are registry keys; the C
// pointers never leave this package.
type Driver struct {
	mu      sync.RWMutex
	next    uintptr
	devices map[driver.DeviceHandle]C.pdm_dev_t
	streams map[driver.StreamHandle]C.pusdr_dms_t
	owners  map[driver.StreamHandle]driver.DeviceHandle
}

func New() *Driver {
	return &Driver{
		devices: make(map[driver.DeviceHandle]C.pdm_dev_t),
		streams: make(map[driver.StreamHandle]C.pusdr_dms_t),
		owners:  make(map[driver.StreamHandle]driver.DeviceHandle),
	}
}

// errInvalid is -EINVAL, returned for handles this driver never issued.
const errInvalid = -22

func (d *Driver) SetLogLevel(level int) {
	C.usdrlog_setlevel(nil, C.int(level))
}

func (d *Driver) EnableColorize() {
	C.usdrlog_enablecolorize(nil)
}

func (d *Driver) Open(conn string) (driver.DeviceHandle, int) {
	cs := C.CString(conn)
	defer C.free(unsafe.Pointer(cs))

	var dev C.pdm_dev_t
	res := int(C.usdr_dmd_create_string(cs, &dev))
	if res < 0 {
		return 0, res
	}

	d.mu.Lock()
	d.next++
	h := driver.DeviceHandle(d.next)
	d.devices[h] = dev
	d.mu.Unlock()
	return h, res
}

func (d *Driver) Close(h driver.DeviceHandle) int {
	d.mu.Lock()
	dev, ok := d.devices[h]
	delete(d.devices, h)
	// libusdr frees the device's streams on close.
	for sh, owner := range d.owners {
		if owner == h {
			delete(d.streams, sh)
			delete(d.owners, sh)
		}
	}
	d.mu.Unlock()
	if !ok {
		return errInvalid
	}
	return int(C.usdr_dmd_close(dev))
}

func (d *Driver) device(h driver.DeviceHandle) (C.pdm_dev_t, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	dev, ok := d.devices[h]
	return dev, ok
}

func (d *Driver) stream(h driver.StreamHandle) (C.pusdr_dms_t, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.streams[h]
	return s, ok
}

func (d *Driver) SetUint(h driver.DeviceHandle, path string, value uint64) int {
	dev, ok := d.device(h)
	if !ok {
		return errInvalid
	}
	cp := C.CString(path)
	defer C.free(unsafe.Pointer(cp))
	return int(C.usdr_dme_set_uint(dev, cp, C.uint64_t(value)))
}

func (d *Driver) SetRates(h driver.DeviceHandle, rates [driver.RateSlots]uint32) int {
	dev, ok := d.device(h)
	if !ok {
		return errInvalid
	}
	cp := C.CString(driver.PathRates)
	defer C.free(unsafe.Pointer(cp))
	return int(C.set_rates(dev, cp, C.uint(rates[0]), C.uint(rates[1]), C.uint(rates[2]), C.uint(rates[3])))
}

func (d *Driver) CreateStream(h driver.DeviceHandle, path, format string, chanMask, depth, flags uint32) (driver.StreamHandle, int) {
	dev, ok := d.device(h)
	if !ok {
		return 0, errInvalid
	}
	cp := C.CString(path)
	defer C.free(unsafe.Pointer(cp))
	cf := C.CString(format)
	defer C.free(unsafe.Pointer(cf))

	var s C.pusdr_dms_t
	res := int(C.create_stream(dev, cp, cf, C.uint(chanMask), C.uint(depth), C.uint(flags), &s))
	if res < 0 {
		return 0, res
	}

	d.mu.Lock()
	d.next++
	sh := driver.StreamHandle(d.next)
	d.streams[sh] = s
	d.owners[sh] = h
	d.mu.Unlock()
	return sh, res
}

func (d *Driver) StreamInfo(h driver.StreamHandle) (driver.StreamInfo, int) {
	s, ok := d.stream(h)
	if !ok {
		return driver.StreamInfo{}, errInvalid
	}
	var pktBytes, pktSyms C.uint
	res := int(C.stream_info(s, &pktBytes, &pktSyms))
	if res < 0 {
		return driver.StreamInfo{}, res
	}
	return driver.StreamInfo{PktBytes: uint32(pktBytes), PktSymbols: uint32(pktSyms)}, res
}

func (d *Driver) Sync(h driver.DeviceHandle, mode string, streams []driver.StreamHandle) int {
	dev, ok := d.device(h)
	if !ok || len(streams) != 2 {
		return errInvalid
	}
	rx, ok := d.stream(streams[driver.RX])
	if !ok {
		return errInvalid
	}
	tx, ok := d.stream(streams[driver.TX])
	if !ok {
		return errInvalid
	}
	cm := C.CString(mode)
	defer C.free(unsafe.Pointer(cm))
	return int(C.sync_pair(dev, cm, rx, tx))
}

func (d *Driver) StreamOp(h driver.StreamHandle, cmd driver.StreamCommand) int {
	s, ok := d.stream(h)
	if !ok {
		return errInvalid
	}
	return int(C.stream_op(s, C.uint(cmd)))
}

func (d *Driver) Recv(h driver.StreamHandle, buffers [][]byte, samples uint32) int {
	s, ok := d.stream(h)
	if !ok {
		return errInvalid
	}

	// The driver writes through pointers held in a C array for the duration
	// of the call, so the Go buffers have to be pinned.
	var pinner runtime.Pinner
	defer pinner.Unpin()

	var ptrs [2]unsafe.Pointer
	for i := 0; i < len(buffers) && i < len(ptrs); i++ {
		if len(buffers[i]) == 0 {
			continue
		}
		pinner.Pin(&buffers[i][0])
		ptrs[i] = unsafe.Pointer(&buffers[i][0])
	}

	return int(C.recv_two(s, ptrs[0], ptrs[1], C.uint(samples)))
}

func (d *Driver) StrError(code int) string {
	if code >= 0 {
		return ""
	}
	return C.GoString(C.strerror(C.int(-code)))
}

var _ driver.Driver = (*Driver)(nil)
