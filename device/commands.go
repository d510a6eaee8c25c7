package device

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/viam-modules/sigfox/decoder"
	"github.com/viam-modules/sigfox/regions"
	"github.com/viam-modules/sigfox/sfxhw"
	"github.com/viam-modules/sigfox/sigfox"
	"go.uber.org/multierr"
)

// DoCommand keys.
const (
	ResetNVMKey          = "reset_nvm"
	QueueDownlinkKey     = "queue_downlink"
	SetPowerKey          = "set_power"
	SetSpeedKey          = "set_speed"
	SwitchKeyKey         = "switch_key"
	SetSyncPeriodKey     = "set_sync_period"
	SendFrameKey         = "send_frame"
	SendBitKey           = "send_bit"
	SendOOBKey           = "send_oob"
	StartContinuousKey   = "start_continuous"
	StopContinuousKey    = "stop_continuous"
	defaultRepeat        = 2
	oobKindService       = "service"
	oobKindRCSync        = "rc_sync"
	downlinkQueueMissing = "queue_downlink needs a hex payload"
)

type commandHandler func(d *Device, ctx context.Context, args map[string]interface{}) (interface{}, error)

// commands run in this order when a request carries several keys.
var commands = []struct {
	key     string
	handler commandHandler
}{
	{ResetNVMKey, (*Device).resetNVM},
	{QueueDownlinkKey, (*Device).queueDownlink},
	{SetPowerKey, (*Device).setPower},
	{SetSpeedKey, (*Device).setSpeed},
	{SwitchKeyKey, (*Device).switchKey},
	{SetSyncPeriodKey, (*Device).setSyncPeriod},
	{SendFrameKey, (*Device).sendFrame},
	{SendBitKey, (*Device).sendBit},
	{SendOOBKey, (*Device).sendOOB},
	{StartContinuousKey, (*Device).startContinuous},
	{StopContinuousKey, (*Device).stopContinuous},
}

// DoCommand runs sigfox operations on the device.
func (d *Device) DoCommand(ctx context.Context, cmd map[string]interface{}) (map[string]interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.controller == nil {
		return map[string]interface{}{}, errNotStarted
	}

	resp := map[string]interface{}{}
	for _, c := range commands {
		raw, ok := cmd[c.key]
		if !ok {
			continue
		}
		args, err := commandArgs(c.key, raw)
		if err != nil {
			return resp, err
		}
		out, err := c.handler(d, ctx, args)
		if err != nil {
			return resp, fmt.Errorf("%s: %w", c.key, err)
		}
		resp[c.key] = out
	}
	return resp, nil
}

// commandArgs accepts an object of arguments, or any other value for commands without arguments.
// A bare string is the payload of queue_downlink.
func commandArgs(key string, raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case string:
		return map[string]interface{}{"payload": v}, nil
	case bool, float64, int, nil:
		return map[string]interface{}{}, nil
	default:
		return nil, fmt.Errorf("%w: %s got %T", errUnexpectedFormat, key, raw)
	}
}

func (d *Device) resetNVM(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if _, err := d.controller.Teardown(ctx); err != nil {
		return nil, err
	}
	outcome, err := d.manager.ResetIfNeeded(ctx, true)
	if err != nil {
		// bring the radio back so the device stays usable.
		_, sErr := d.controller.Setup(ctx, d.caps)
		return nil, multierr.Combine(err, sErr)
	}
	if _, err := d.controller.Setup(ctx, d.caps); err != nil {
		return nil, err
	}
	d.readingsMu.Lock()
	d.lastDownlink = nil
	d.lastDecoded = nil
	d.readingsMu.Unlock()
	return outcome.String(), nil
}

func (d *Device) queueDownlink(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	queue, ok := d.transceiver.(interface{ QueueDownlink(payload []byte) })
	if !ok {
		return nil, errNoDownlinkQueue
	}
	payload, err := bytesArg(args, "payload", nil)
	if err != nil {
		return nil, err
	}
	if len(payload) != sfxhw.DownlinkSize {
		return nil, fmt.Errorf("%w: %s", errUnexpectedFormat, downlinkQueueMissing)
	}
	queue.QueueDownlink(payload)
	return "downlink queued", nil
}

func (d *Device) setPower(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	if _, ok := args["power"]; !ok {
		return nil, fmt.Errorf("%w: power is required", sigfox.ErrInvalidParameters)
	}
	power, err := intArg(args, "power", 0)
	if err != nil {
		return nil, err
	}
	if power < 0 || power > maxTxPower {
		return nil, fmt.Errorf("%w: %w", sigfox.ErrInvalidParameters, errTxPowerRange)
	}
	force, err := boolArg(args, "force", false)
	if err != nil {
		return nil, err
	}
	status, err := d.controller.SetPower(int8(power), force)
	if err != nil {
		return nil, err
	}
	return status.String(), nil
}

func (d *Device) setSpeed(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	speed, err := intArg(args, "speed", 0)
	if err != nil {
		return nil, err
	}
	status, err := d.controller.SetSpeed(regions.Speed(speed))
	if err != nil {
		return nil, err
	}
	return status.String(), nil
}

func (d *Device) switchKey(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	public, err := boolArg(args, "public", false)
	if err != nil {
		return nil, err
	}
	if err := d.controller.SwitchKeySet(public); err != nil {
		return nil, err
	}
	if public {
		return "public key", nil
	}
	return "private key", nil
}

func (d *Device) setSyncPeriod(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	frames, err := intArg(args, "frames", 0)
	if err != nil {
		return nil, err
	}
	if frames < 0 || frames > sigfox.MaxSyncPeriod {
		return nil, fmt.Errorf("%w: sync period %d", sigfox.ErrInvalidParameters, frames)
	}
	status, err := d.controller.SetSyncPeriod(uint16(frames))
	if err != nil {
		return nil, err
	}
	return status.String(), nil
}

func (d *Device) sendFrame(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	payload, err := bytesArg(args, "payload", []byte{})
	if err != nil {
		return nil, err
	}
	req := sigfox.FrameRequest{Payload: payload}
	if err := d.txArgs(args, &req.Repeat, &req.Speed, &req.Power, &req.Ack); err != nil {
		return nil, err
	}
	encrypt, err := intArg(args, "encrypt", int(d.defaultEncryptFlags()))
	if err != nil {
		return nil, err
	}
	req.Encrypt = sigfox.EncryptFlags(encrypt)
	if req.Ack {
		req.Downlink = make([]byte, sfxhw.DownlinkSize)
	}

	result, err := d.controller.SendFrame(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.uplinkResult(result, req.Downlink), nil
}

func (d *Device) sendBit(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	value, err := boolArg(args, "value", false)
	if err != nil {
		return nil, err
	}
	req := sigfox.BitRequest{Value: value}
	if err := d.txArgs(args, &req.Repeat, &req.Speed, &req.Power, &req.Ack); err != nil {
		return nil, err
	}
	if req.Ack {
		req.Downlink = make([]byte, sfxhw.DownlinkSize)
	}

	result, err := d.controller.SendBit(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.uplinkResult(result, req.Downlink), nil
}

func (d *Device) sendOOB(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	kindName, err := stringArg(args, "kind", oobKindService)
	if err != nil {
		return nil, err
	}
	req := sigfox.OOBRequest{}
	switch kindName {
	case oobKindService:
		req.Kind = sigfox.OOBService
	case oobKindRCSync:
		req.Kind = sigfox.OOBRCSync
	default:
		return nil, fmt.Errorf("%w: %q", sigfox.ErrUnsupportedOobKind, kindName)
	}
	var repeat uint8
	var ack bool
	if err := d.txArgs(args, &repeat, &req.Speed, &req.Power, &ack); err != nil {
		return nil, err
	}

	result, err := d.controller.SendOutOfBand(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.uplinkResult(result, nil), nil
}

func (d *Device) startContinuous(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	frequency, err := intArg(args, "frequency_hz", 0)
	if err != nil {
		return nil, err
	}
	if frequency <= 0 {
		return nil, fmt.Errorf("%w: frequency_hz is required", sigfox.ErrInvalidParameters)
	}
	var repeat uint8
	var speed regions.Speed
	var power int8
	var ack bool
	if err := d.txArgs(args, &repeat, &speed, &power, &ack); err != nil {
		return nil, err
	}
	status, err := d.controller.StartContinuousTransmission(ctx, uint32(frequency), speed, power)
	if err != nil {
		return nil, err
	}
	return status.String(), nil
}

func (d *Device) stopContinuous(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	status, err := d.controller.StopContinuousTransmission(ctx)
	if err != nil {
		return nil, err
	}
	return status.String(), nil
}

// txArgs reads the arguments shared by every uplink.
func (d *Device) txArgs(args map[string]interface{}, repeat *uint8, speed *regions.Speed, power *int8, ack *bool) error {
	r, err := intArg(args, "repeat", defaultRepeat)
	if err != nil {
		return err
	}
	s, err := intArg(args, "speed", int(regions.SpeedDefault))
	if err != nil {
		return err
	}
	p, err := intArg(args, "power", int(sigfox.PowerDefault))
	if err != nil {
		return err
	}
	a, err := boolArg(args, "ack", false)
	if err != nil {
		return err
	}
	if r < 0 || s < 0 {
		return fmt.Errorf("%w: repeat and speed cannot be negative", sigfox.ErrInvalidParameters)
	}
	// -1 keeps the current power.
	if p != int(sigfox.PowerDefault) && (p < 0 || p > maxTxPower) {
		return fmt.Errorf("%w: %w", sigfox.ErrInvalidParameters, errTxPowerRange)
	}
	*repeat = uint8(min(r, 255))
	*speed = regions.Speed(s)
	*power = int8(p)
	*ack = a
	return nil
}

func (d *Device) defaultEncryptFlags() sigfox.EncryptFlags {
	if d.encryption == sigfox.EncryptionSigfox {
		return sigfox.EncryptSigfox
	}
	return sigfox.EncryptNone
}

// uplinkResult records the uplink and decodes a received downlink.
func (d *Device) uplinkResult(result sigfox.TxResult, downlink []byte) map[string]interface{} {
	out := map[string]interface{}{"result": result.String()}
	if seq, err := d.controller.LastSeqID(); err == nil {
		out["seq_id"] = int(seq)
	}

	d.readingsMu.Lock()
	defer d.readingsMu.Unlock()
	d.uplinks++
	if result != sigfox.DownlinkReceived {
		return out
	}

	out["downlink"] = hex.EncodeToString(downlink)
	d.lastDownlink = append([]byte(nil), downlink...)
	d.lastDecoded = nil
	if d.decoderPath != "" {
		decoded, err := decoder.DecodeDownlink(d.decoderPath, downlink)
		if err != nil {
			d.logger.Warnf("error decoding downlink: %v", err)
		} else {
			d.lastDecoded = decoded
			out["decoded"] = decoded
		}
	}
	return out
}

func intArg(args map[string]interface{}, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("%w: %s must be a number", errUnexpectedFormat, key)
	}
}

func boolArg(args map[string]interface{}, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a bool", errUnexpectedFormat, key)
	}
	return b, nil
}

func stringArg(args map[string]interface{}, key, def string) (string, error) {
	v, ok := args[key]
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", errUnexpectedFormat, key)
	}
	return s, nil
}

func bytesArg(args map[string]interface{}, key string, def []byte) ([]byte, error) {
	s, err := stringArg(args, key, "")
	if err != nil {
		return nil, err
	}
	if s == "" {
		return def, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be hexadecimal", errUnexpectedFormat, key)
	}
	return b, nil
}
