//go:build !linux

package device

import (
	ncerr "linkterm/internal/errors"
	"linkterm/util"
)

func openTTY(path string) (Device, error) {
	return nil, ncerr.ErrUnsupported
}

func openPTY(logger *util.Logger) (Device, error) {
	return nil, ncerr.ErrUnsupported
}
