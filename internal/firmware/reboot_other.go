//go:build !linux

package firmware

import "errors"

func reboot() error {
	return errors.New("reboot is only supported on linux")
}
