// Package errmap maps native failures onto the ble error taxonomy.
//
// Map is total: every input yields exactly one kind, falling back to
// ble.Other with the native message preserved.
package errmap

import (
	"context"
	"errors"
	"strings"

	"github.com/srg/blecentral/internal/native"
	"github.com/srg/blecentral/pkg/ble"
)

// Operation names used for op-specific fallbacks and error messages.
const (
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpScan       = "scan"
	OpDiscover   = "discover"
	OpRead       = "read"
	OpWrite      = "write"
	OpSubscribe  = "subscribe"
	OpAdapter    = "adapter"
)

var attKinds = map[int]ble.ErrorKind{
	native.ATTInvalidHandle:          ble.NotFound,
	native.ATTReadNotPermitted:       ble.ReadNotSupported,
	native.ATTWriteNotPermitted:      ble.WriteNotSupported,
	native.ATTInsufficientAuthn:      ble.PermissionDenied,
	native.ATTRequestNotSupported:    ble.NotSupported,
	native.ATTInsufficientAuthz:      ble.PermissionDenied,
	native.ATTAttributeNotFound:      ble.NotFound,
	native.ATTInsufficientEncKeySize: ble.PermissionDenied,
	native.ATTInsufficientEncryption: ble.PermissionDenied,
}

// CBError codes
var coreBluetoothKinds = map[int]ble.ErrorKind{
	2:  ble.NotFound,            // invalidHandle
	3:  ble.NotConnected,        // notConnected
	6:  ble.Timeout,             // connectionTimeout
	7:  ble.NotConnected,        // peripheralDisconnected
	8:  ble.PermissionDenied,    // uuidNotAllowed
	9:  ble.OperationInProgress, // alreadyAdvertising
	10: ble.ConnectionFailed,    // connectionFailed
	11: ble.ConnectionFailed,    // connectionLimitReached
	12: ble.NotFound,            // unknownDevice
	13: ble.NotSupported,        // operationNotSupported
	14: ble.PermissionDenied,    // peerRemovedPairingInformation
	15: ble.Timeout,             // encryptionTimedOut
}

// GattCommunicationStatus values
var winrtKinds = map[int]ble.ErrorKind{
	1: ble.NotConnected,     // Unreachable
	3: ble.PermissionDenied, // AccessDenied
}

var hciKinds = map[int]ble.ErrorKind{
	0x05: ble.PermissionDenied,    // authentication failure
	0x08: ble.Timeout,             // connection timeout
	0x0c: ble.OperationInProgress, // command disallowed
	0x13: ble.NotConnected,        // remote user terminated
	0x16: ble.NotConnected,        // local host terminated
	0x3e: ble.ConnectionFailed,    // failed to be established
}

var bluezKinds = map[string]ble.ErrorKind{
	"org.bluez.Error.NotReady":                  ble.AdapterUnavailable,
	"org.bluez.Error.NotPermitted":              ble.PermissionDenied,
	"org.bluez.Error.NotAuthorized":             ble.PermissionDenied,
	"org.bluez.Error.AuthenticationFailed":      ble.PermissionDenied,
	"org.bluez.Error.InProgress":                ble.OperationInProgress,
	"org.bluez.Error.AlreadyExists":             ble.OperationInProgress,
	"org.bluez.Error.NotConnected":              ble.NotConnected,
	"org.bluez.Error.NotSupported":              ble.NotSupported,
	"org.bluez.Error.DoesNotExist":              ble.NotFound,
	"org.bluez.Error.NotAvailable":              ble.NotSupported,
	"org.freedesktop.DBus.Error.NoReply":        ble.Timeout,
	"org.freedesktop.DBus.Error.AccessDenied":   ble.PermissionDenied,
	"org.freedesktop.DBus.Error.ServiceUnknown": ble.AdapterUnavailable,
}

// Order matters: specific phrases precede the generic ones they contain.
var messageKinds = []struct {
	substr string
	kind   ble.ErrorKind
}{
	{"central manager has invalid state", ble.AdapterUnavailable},
	{"bluetooth is turned off", ble.AdapterUnavailable},
	{"powered off", ble.AdapterUnavailable},
	{"adapter not powered", ble.AdapterUnavailable},
	{"can't init hci", ble.AdapterUnavailable},
	{"no such device", ble.AdapterUnavailable},
	{"read not permitted", ble.ReadNotSupported},
	{"write not permitted", ble.WriteNotSupported},
	{"unauthorized", ble.PermissionDenied},
	{"not authorized", ble.PermissionDenied},
	{"permission denied", ble.PermissionDenied},
	{"operation not permitted", ble.PermissionDenied},
	{"insufficient authentication", ble.PermissionDenied},
	{"insufficient encryption", ble.PermissionDenied},
	{"device not connected", ble.NotConnected},
	{"not connected", ble.NotConnected},
	{"disconnected", ble.NotConnected},
	{"connection is not initialized", ble.NotConnected},
	{"already connected", ble.OperationInProgress},
	{"in progress", ble.OperationInProgress},
	{"busy", ble.OperationInProgress},
	{"timed out", ble.Timeout},
	{"timeout", ble.Timeout},
	{"deadline exceeded", ble.Timeout},
	{"connection failed", ble.ConnectionFailed},
	{"failed to connect", ble.ConnectionFailed},
	{"can't dial", ble.ConnectionFailed},
	{"connection refused", ble.ConnectionFailed},
	{"connection abort", ble.ConnectionFailed},
	{"not supported", ble.NotSupported},
	{"unsupported", ble.NotSupported},
	{"not found", ble.NotFound},
}

// fallbacks apply when nothing else matched.
var fallbacks = map[string]ble.ErrorKind{
	OpConnect: ble.ConnectionFailed,
}

// Map classifies err for operation op. nil maps to nil and *ble.Error passes through.
func Map(op string, err error) error {
	if err == nil {
		return nil
	}

	var be *ble.Error
	if errors.As(err, &be) {
		return err
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ble.Error{Kind: ble.Timeout, Op: op, Msg: err.Error(), Err: err}
	case errors.Is(err, context.Canceled):
		return &ble.Error{Kind: ble.Other, Op: op, Msg: err.Error(), Err: err}
	case errors.Is(err, native.ErrUnsupported):
		return &ble.Error{Kind: ble.NotSupported, Op: op, Msg: err.Error(), Err: err}
	}

	out := &ble.Error{Kind: ble.Other, Op: op, Msg: err.Error(), Err: err}

	var ne *native.Error
	if errors.As(err, &ne) {
		out.Code = ne.Code
		if ne.Msg != "" {
			out.Msg = ne.Msg
		}
		if kind, ok := domainKind(ne); ok {
			out.Kind = kind
			return out
		}
	}

	if kind, ok := messageKind(err.Error()); ok {
		out.Kind = kind
		return out
	}

	if kind, ok := fallbacks[op]; ok {
		out.Kind = kind
	}
	return out
}

// Kind is a shorthand for ble.KindOf(Map(op, err)).
func Kind(op string, err error) ble.ErrorKind {
	return ble.KindOf(Map(op, err))
}

func domainKind(ne *native.Error) (ble.ErrorKind, bool) {
	var (
		kind ble.ErrorKind
		ok   bool
	)
	switch ne.Domain {
	case native.DomainATT:
		kind, ok = attKinds[ne.Code]
	case native.DomainCoreBluetooth:
		kind, ok = coreBluetoothKinds[ne.Code]
	case native.DomainWinRT:
		kind, ok = winrtKinds[ne.Code]
	case native.DomainHCI:
		kind, ok = hciKinds[ne.Code]
	case native.DomainBlueZ:
		kind, ok = bluezKinds[ne.Name]
	}
	return kind, ok
}

func messageKind(msg string) (ble.ErrorKind, bool) {
	lower := strings.ToLower(msg)
	for _, m := range messageKinds {
		if strings.Contains(lower, m.substr) {
			return m.kind, true
		}
	}
	return ble.Other, false
}
