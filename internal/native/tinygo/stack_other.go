//go:build !darwin && !linux && !windows

package tinygo

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/srg/blecentral/internal/native"
)

// DefaultPowerPollInterval is used when Options.PowerPollInterval is zero.
const DefaultPowerPollInterval = 2 * time.Second

// Options tune the driver.
type Options struct {
	PowerPollInterval time.Duration
}

// Stack reports every operation as unsupported on hosts tinygo cannot drive.
type Stack struct {
	logger *logrus.Logger
}

var _ native.Stack = (*Stack)(nil)

func New(_ Options, logger *logrus.Logger) *Stack {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	return &Stack{logger: logger}
}

func (s *Stack) Name() string                                  { return "tinygo" }
func (s *Stack) Start(context.Context) error                   { return native.ErrUnsupported }
func (s *Stack) Powered() bool                                 { return false }
func (s *Stack) SetStateHandler(func(bool))                    {}
func (s *Stack) SetDisconnectHandler(func(native.Peer, error)) {}
func (s *Stack) StopScan() error                               { return nil }
func (s *Stack) Close() error                                  { return nil }

func (s *Stack) StartScan([]uuid.UUID, func(native.RawAdvertisement), func(error)) error {
	return native.ErrUnsupported
}

func (s *Stack) Connect(context.Context, string) (native.Peer, error) {
	return nil, native.ErrUnsupported
}
