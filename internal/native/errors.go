package native

import "fmt"

// Domain names the error code space a native failure came from.
type Domain string

const (
	DomainATT           Domain = "att"
	DomainCoreBluetooth Domain = "corebluetooth"
	DomainWinRT         Domain = "winrt"
	DomainBlueZ         Domain = "bluez"
	DomainHCI           Domain = "hci"
)

// Error is a structured native failure. Name holds symbolic codes such as
// D-Bus error names; Code holds numeric ones.
type Error struct {
	Domain Domain
	Code   int
	Name   string
	Msg    string
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Name != "" && e.Msg != "":
		return fmt.Sprintf("%s %s: %s", e.Domain, e.Name, e.Msg)
	case e.Name != "":
		return fmt.Sprintf("%s %s", e.Domain, e.Name)
	case e.Msg != "":
		return fmt.Sprintf("%s error 0x%02x: %s", e.Domain, e.Code, e.Msg)
	default:
		return fmt.Sprintf("%s error 0x%02x", e.Domain, e.Code)
	}
}

// ATT application error codes used by drivers and the simulator.
const (
	ATTInvalidHandle          = 0x01
	ATTReadNotPermitted       = 0x02
	ATTWriteNotPermitted      = 0x03
	ATTInvalidPDU             = 0x04
	ATTInsufficientAuthn      = 0x05
	ATTRequestNotSupported    = 0x06
	ATTInvalidOffset          = 0x07
	ATTInsufficientAuthz      = 0x08
	ATTPrepareQueueFull       = 0x09
	ATTAttributeNotFound      = 0x0a
	ATTAttributeNotLong       = 0x0b
	ATTInsufficientEncKeySize = 0x0c
	ATTInvalidAttrValueLength = 0x0d
	ATTUnlikelyError          = 0x0e
	ATTInsufficientEncryption = 0x0f
	ATTUnsupportedGroupType   = 0x10
	ATTInsufficientResources  = 0x11
)

// ATTError builds an ATT domain error.
func ATTError(code int, msg string) *Error {
	return &Error{Domain: DomainATT, Code: code, Msg: msg}
}
