// Package sigfox implements the transmission control and regional policy layer on top of
// a sigfox radio driver and protocol stack.
package sigfox

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/viam-modules/sigfox/regions"
	"github.com/viam-modules/sigfox/sfxhw"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/logging"
)

// Controller owns the sigfox runtime state. Every operation runs under its mutex.
type Controller struct {
	mu     sync.Mutex
	radio  sfxhw.Radio
	stack  sfxhw.Stack
	cfg    Config
	logger logging.Logger

	caps        Capabilities
	initialized bool
	zone        regions.Zone
	power       int8
	speed       regions.Speed
}

// NewController returns an uninitialized controller.
func NewController(radio sfxhw.Radio, stack sfxhw.Stack, cfg Config, logger logging.Logger) *Controller {
	return &Controller{
		radio:  radio,
		stack:  stack,
		cfg:    cfg,
		logger: logger,
	}
}

// Setup binds the capabilities, resolves the zone and opens the radio.
// Calling Setup on an initialized controller is a no-op.
func (c *Controller) Setup(ctx context.Context, caps Capabilities) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		c.logger.Debugf("sigfox already initialized")
		return StatusNoChange, nil
	}
	if err := caps.validate(); err != nil {
		return StatusNoChange, err
	}

	region := caps.CurrentRegion()
	zone := regions.ZoneForRegion(region)
	speed, err := regions.DefaultSpeed(zone)
	if err != nil {
		return StatusNoChange, fmt.Errorf("%w: %w: %v", ErrInitFailed, ErrUnsupportedRegion, region)
	}
	defaultPower, err := regions.DefaultPower(zone)
	if err != nil {
		return StatusNoChange, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	if err := c.radio.Init(ctx); err != nil {
		return StatusNoChange, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	power := caps.TxPower()
	if power == PowerDefault {
		power = defaultPower
	}
	if _, err := c.setPower(power, true); err != nil {
		if dErr := c.radio.Deinit(ctx); dErr != nil {
			c.logger.Warnf("failed to close the radio after a failed setup: %v", dErr)
		}
		return StatusNoChange, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	c.caps = caps
	c.zone = zone
	c.speed = speed
	c.initialized = true
	c.logger.Infof("sigfox initialized in %v for region %v, power %d speed %d", zone, region, c.power, c.speed)
	return StatusSuccess, nil
}

// Teardown closes the radio and marks the controller uninitialized.
func (c *Controller) Teardown(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return StatusNoChange, nil
	}
	err := c.radio.Deinit(ctx)
	c.initialized = false
	c.zone = regions.ZoneUnsupported
	c.power = 0
	c.speed = regions.SpeedDefault
	c.caps = Capabilities{}
	if err != nil {
		return StatusSuccess, fmt.Errorf("%w: %w", ErrDriver, err)
	}
	return StatusSuccess, nil
}

// Loop runs the timer hook registered at setup.
func (c *Controller) Loop() {
	c.mu.Lock()
	hook := c.caps.RunTimers
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
}

// SendFrame sends an uplink frame and, when Ack is set, waits for the downlink.
func (c *Controller) SendFrame(ctx context.Context, req FrameRequest) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return TransmitError, ErrNotInitialized
	}
	if len(req.Payload) > MaxPayloadSize {
		return TransmitError, fmt.Errorf("%w: payload is %d bytes, max is %d", ErrInvalidParameters, len(req.Payload), MaxPayloadSize)
	}
	repeat := clampRepeat(req.Repeat)
	power, speed, err := c.resolve(req.Power, req.Speed)
	if err != nil {
		return TransmitError, err
	}
	if err := checkDownlink(req.Ack, req.Downlink); err != nil {
		return TransmitError, err
	}
	if err := c.checkEncryption(req.Encrypt); err != nil {
		c.reportError(levelError, err)
		return TransmitError, err
	}
	if err := c.apply(power, speed); err != nil {
		return TransmitError, err
	}

	code := c.stack.SendFrame(ctx, req.Payload, req.Downlink, repeat, req.Ack)
	return c.txResult("send frame", code, req.Ack)
}

// SendBit sends a single bit uplink.
func (c *Controller) SendBit(ctx context.Context, req BitRequest) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return TransmitError, ErrNotInitialized
	}
	repeat := clampRepeat(req.Repeat)
	power, speed, err := c.resolve(req.Power, req.Speed)
	if err != nil {
		return TransmitError, err
	}
	if err := checkDownlink(req.Ack, req.Downlink); err != nil {
		return TransmitError, err
	}
	if err := c.apply(power, speed); err != nil {
		return TransmitError, err
	}

	code := c.stack.SendBit(ctx, req.Value, req.Downlink, repeat, req.Ack)
	return c.txResult("send bit", code, req.Ack)
}

// SendOutOfBand sends a service or rc sync message. There is no downlink.
func (c *Controller) SendOutOfBand(ctx context.Context, req OOBRequest) (TxResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return TransmitError, ErrNotInitialized
	}
	power, speed, err := c.resolve(req.Power, req.Speed)
	if err != nil {
		return TransmitError, err
	}

	var oob sfxhw.OOBType
	switch req.Kind {
	case OOBService:
		oob = sfxhw.OOBService
	case OOBRCSync:
		oob = sfxhw.OOBRCSync
	default:
		err := fmt.Errorf("%w: %d", ErrUnsupportedOobKind, req.Kind)
		c.reportError(levelError, err)
		return TransmitError, err
	}
	if err := c.apply(power, speed); err != nil {
		return TransmitError, err
	}

	code := c.stack.SendOutOfBand(ctx, oob)
	if code.Low() != sfxhw.CodeNone {
		err := driverError("send out of band", code)
		c.logger.Warnf("%v", err)
		return TransmitError, err
	}
	return TransmitSuccess, nil
}

// SetPower changes the output power. Setting the current power is a no-op unless forced.
// PowerDefault only has a meaning on sends and is rejected.
func (c *Controller) SetPower(power int8, force bool) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return StatusNoChange, ErrNotInitialized
	}
	if power == PowerDefault {
		return StatusNoChange, fmt.Errorf("%w: power %d", ErrInvalidParameters, power)
	}
	return c.setPower(power, force)
}

// SetSpeed is not supported by the stack yet, it always reports StatusNoChange.
func (c *Controller) SetSpeed(speed regions.Speed) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return StatusNoChange, ErrNotInitialized
	}
	c.logger.Warnf("sigfox speed change to %d is not supported yet", speed)
	return StatusNoChange, nil
}

// CurrentZone returns the radio configuration zone.
func (c *Controller) CurrentZone() (regions.Zone, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return regions.ZoneUnsupported, ErrNotInitialized
	}
	return c.zone, nil
}

// Power returns the current output power.
func (c *Controller) Power() (int8, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	return c.power, nil
}

// Speed returns the current speed.
func (c *Controller) Speed() (regions.Speed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return regions.SpeedDefault, ErrNotInitialized
	}
	return c.speed, nil
}

// LastRSSI returns the rssi of the last downlink.
func (c *Controller) LastRSSI() (int16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	return c.radio.RSSI(), nil
}

// LastSeqID returns the sequence id of the last uplink.
func (c *Controller) LastSeqID() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	return c.radio.SeqID() & seqMask, nil
}

// NextSeqID returns the sequence id the next uplink will use.
func (c *Controller) NextSeqID() (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	return (c.radio.SeqID() + 1) & seqMask, nil
}

// DeviceID returns the sigfox device id.
func (c *Controller) DeviceID() (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return 0, ErrNotInitialized
	}
	return c.caps.DeviceID(), nil
}

// InitialPAC returns the porting authorization code the device was provisioned with.
func (c *Controller) InitialPAC() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	return c.caps.InitialPAC(), nil
}

// DeviceKey returns the device private key.
func (c *Controller) DeviceKey() (types.AES128Key, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return types.AES128Key{}, ErrNotInitialized
	}
	return c.caps.DeviceKey(), nil
}

// LibVersion returns the protocol stack version.
func (c *Controller) LibVersion() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return "", ErrNotInitialized
	}
	return string(bytes.TrimRight(c.stack.Version(), "\x00")), nil
}

// SwitchKeySet selects the public key when public is set, the device key otherwise.
func (c *Controller) SwitchKeySet(public bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return ErrNotInitialized
	}
	c.stack.SwitchPublicKey(public)
	c.logger.Infof("sigfox public key enabled: %v", public)
	return nil
}

// StartContinuousTransmission starts the certification test signal on freqHz.
func (c *Controller) StartContinuousTransmission(ctx context.Context, freqHz uint32, speed regions.Speed, power int8) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return StatusNoChange, ErrNotInitialized
	}
	power, speed, err := c.resolve(power, speed)
	if err != nil {
		return StatusNoChange, err
	}
	var rate sfxhw.Rate
	switch speed {
	case regions.Speed100:
		rate = sfxhw.DBPSK100
	case regions.Speed600:
		rate = sfxhw.DBPSK600
	default:
		return StatusNoChange, fmt.Errorf("%w: continuous transmission speed %d", ErrInvalidParameters, speed)
	}
	if _, err := c.setPower(power, false); err != nil {
		return StatusNoChange, err
	}

	if code := c.stack.StartContinuousTransmission(ctx, freqHz, rate); code.Low() != sfxhw.CodeNone {
		return StatusNoChange, driverError("start continuous transmission", code)
	}
	return StatusSuccess, nil
}

// StopContinuousTransmission stops the certification test signal.
func (c *Controller) StopContinuousTransmission(ctx context.Context) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return StatusNoChange, ErrNotInitialized
	}
	if code := c.stack.StopContinuousTransmission(ctx); code.Low() != sfxhw.CodeNone {
		return StatusNoChange, driverError("stop continuous transmission", code)
	}
	return StatusSuccess, nil
}

// SetSyncPeriod sets how many frames are sent between payload encryption counter syncs.
func (c *Controller) SetSyncPeriod(frames uint16) (Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		return StatusNoChange, ErrNotInitialized
	}
	if frames > MaxSyncPeriod {
		return StatusNoChange, fmt.Errorf("%w: sync period %d is above %d", ErrInvalidParameters, frames, MaxSyncPeriod)
	}
	if code := c.stack.SetRCSyncPeriod(frames); code.Low() != sfxhw.CodeNone {
		return StatusNoChange, driverError("set rc sync period", code)
	}
	return StatusSuccess, nil
}

// setPower must be called with the lock held.
func (c *Controller) setPower(power int8, force bool) (Status, error) {
	if !force && power == c.power {
		return StatusNoChange, nil
	}
	if err := c.radio.SetPower(power); err != nil {
		return StatusNoChange, fmt.Errorf("%w: set power %d: %w", ErrDriver, power, err)
	}
	c.power = power
	return StatusSuccess, nil
}

// resolve replaces default power and speed with the runtime power and the zone speed.
func (c *Controller) resolve(power int8, speed regions.Speed) (int8, regions.Speed, error) {
	if power == PowerDefault {
		power = c.power
	}
	switch speed {
	case regions.SpeedDefault:
		zoneSpeed, err := regions.DefaultSpeed(c.zone)
		if err != nil {
			c.reportError(levelFatal, fmt.Errorf("initialized in %v: %w", c.zone, err))
		}
		speed = zoneSpeed
	case regions.Speed100, regions.Speed600:
	default:
		return 0, regions.SpeedDefault, fmt.Errorf("%w: speed %d", ErrInvalidParameters, speed)
	}
	return power, speed, nil
}

func (c *Controller) apply(power int8, speed regions.Speed) error {
	if _, err := c.setPower(power, false); err != nil {
		return err
	}
	if speed != c.speed {
		c.logger.Warnf("sigfox speed change to %d is not supported yet, sending at %d", speed, c.speed)
	}
	return nil
}

func (c *Controller) checkEncryption(flags EncryptFlags) error {
	requested := flags&EncryptSigfox != 0
	switch c.cfg.Encryption {
	case EncryptionSigfox:
		if !requested {
			return fmt.Errorf("%w: sigfox payload encryption is required", ErrConfigurationMismatch)
		}
	default:
		if requested {
			return fmt.Errorf("%w: sigfox payload encryption is disabled", ErrConfigurationMismatch)
		}
	}
	return nil
}

// txResult maps a stack code to a transmission result, the high byte of the code is ignored.
func (c *Controller) txResult(op string, code sfxhw.Code, ack bool) (TxResult, error) {
	switch code.Low() {
	case sfxhw.CodeNone:
		if ack {
			return DownlinkReceived, nil
		}
		return TransmitSuccess, nil
	case sfxhw.CodeDownlinkTimeout:
		return NoDownlinkReceived, nil
	default:
		err := driverError(op, code)
		c.logger.Warnf("%v", err)
		return TransmitError, err
	}
}

func clampRepeat(repeat uint8) uint8 {
	if repeat > MaxRepeat {
		return MaxRepeat
	}
	return repeat
}

func checkDownlink(ack bool, downlink []byte) error {
	if ack && len(downlink) < sfxhw.DownlinkSize {
		return fmt.Errorf("%w: an acknowledged uplink needs a %d byte downlink buffer", ErrInvalidParameters, sfxhw.DownlinkSize)
	}
	return nil
}
