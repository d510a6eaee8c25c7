package sigfox

import (
	"errors"
	"fmt"

	"github.com/viam-modules/sigfox/sfxhw"
)

// Error variables returned by the controller.
var (
	ErrInvalidParameters     = errors.New("invalid parameters")
	ErrConfigurationMismatch = errors.New("request does not match the device configuration")
	ErrUnsupportedRegion     = errors.New("region is not supported")
	ErrUnsupportedOobKind    = errors.New("unsupported out of band message kind")
	ErrNotInitialized        = errors.New("sigfox is not initialized")
	ErrInitFailed            = errors.New("sigfox initialization failed")
	ErrDriver                = errors.New("sigfox driver error")
)

type errorLevel int

const (
	levelWarn errorLevel = iota
	levelError
	levelFatal
)

// reportError logs err. A fatal error leaves the controller inconsistent, so it halts.
func (c *Controller) reportError(level errorLevel, err error) {
	switch level {
	case levelFatal:
		c.logger.Errorf("fatal sigfox error, halting: %v", err)
		panic(err)
	case levelError:
		c.logger.Errorf("%v", err)
	default:
		c.logger.Warnf("%v", err)
	}
}

func driverError(op string, code sfxhw.Code) error {
	return fmt.Errorf("%w: %s returned 0x%04X: %w", ErrDriver, op, uint16(code), sfxhw.ParseCode(code))
}
