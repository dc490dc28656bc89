//go:build !usdr

package main

import (
	"errors"

	"github.com/norasector/usdr/pkg/usdr/driver"
)

func newDriver() (driver.Driver, error) {
	return nil, errors.New("built without libusdr support, rebuild with -tags usdr or use device: driver=mock")
}
