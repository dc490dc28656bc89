//go:build usdr

package main

import (
	"github.com/norasector/usdr/pkg/usdr/driver"
	"github.com/norasector/usdr/pkg/usdr/driver/libusdr"
)

func newDriver() (driver.Driver, error) {
	return libusdr.New(), nil
}
