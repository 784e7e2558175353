package main

import (
	"errors"
	"fmt"

	"github.com/srg/blecentral/pkg/central"
)

// ErrConnectionLost is returned by long-running commands when the peripheral
// disconnects on its own.
var ErrConnectionLost = errors.New("connection lost")

var kindHints = map[central.ErrorKind]string{
	central.AdapterUnavailable: "make sure Bluetooth is powered on",
	central.PermissionDenied:   "grant Bluetooth access to this terminal in the system privacy settings",
	central.ConnectionFailed:   "make sure the device is advertising and in range",
	central.Timeout:            "the device may be out of range; try a longer timeout",
	central.NotConnected:       "the device disconnected",
	central.NotFound:           "use 'blecentral inspect' to list what the device exposes",
	central.ReadNotSupported:   "the characteristic does not allow reads",
	central.WriteNotSupported:  "the characteristic does not allow this kind of write",
	central.NotSupported:       "the selected backend cannot do this on this platform",
}

// FormatUserError renders err for the terminal, adding a hint for BLE error kinds.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrConnectionLost) {
		return "connection to the device was lost"
	}
	var bleErr *central.Error
	if !errors.As(err, &bleErr) {
		return err.Error()
	}
	if hint, ok := kindHints[bleErr.Kind]; ok {
		return fmt.Sprintf("%v (%s)", err, hint)
	}
	return err.Error()
}
