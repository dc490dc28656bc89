package usdr

import (
	"sync"

	"github.com/norasector/usdr/pkg/usdr/driver"
)

var logConfigMu sync.Mutex

// ConfigureLogging sets the driver's log level and turns on colorized output.
// The setting is process-wide: every session in the process shares it and the
// last caller wins.
func ConfigureLogging(drv driver.Driver, level int) {
	logConfigMu.Lock()
	drv.SetLogLevel(level)
	drv.EnableColorize()
	logConfigMu.Unlock()
}
