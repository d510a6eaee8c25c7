package device

import (
	"encoding/hex"
	"errors"
	"strconv"

	"github.com/viam-modules/sigfox/regions"
	"github.com/viam-modules/sigfox/sigfox"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.viam.com/rdk/resource"
)

// Error variables for validation.
var (
	errInvalidRegion     = errors.New("unrecognized region code, valid options are EU868, MEA868, US915, SA915, JP923, AU915, SA920, AP920, KR920")
	errUnsupportedRegion = errors.New("region has no sigfox radio configuration zone")
	errDeviceIDLength    = errors.New("device id must be 4 bytes")
	errPACLength         = errors.New("pac must be 8 bytes")
	errDeviceKeyLength   = errors.New("device key must be 16 bytes")
	errInvalidHex        = errors.New("value must be hexadecimal")
	errTxPowerRange      = errors.New("tx_power must be between 0 and 30 dBm")
	errInvalidEncryption = errors.New("encryption is none or sigfox - defaults to none")
	errResetPinNoBoard   = errors.New("board is required when a reset pin is configured")
	errBoardNoResetPin   = errors.New("reset_pin is required when a board is configured")
	errLoopInterval      = errors.New("loop_interval_ms must be positive")
)

const (
	deviceIDLength  = 8
	pacLength       = 16
	deviceKeyLength = 32

	defaultLoopInterval = 100
	maxTxPower          = 30
)

// Config defines the sigfox device's config.
type Config struct {
	RegionCode     string `json:"region_code"`
	DeviceID       string `json:"device_id"`
	PAC            string `json:"pac"`
	DeviceKey      string `json:"device_key"`
	TxPower        *int   `json:"tx_power,omitempty"`
	Encryption     string `json:"encryption,omitempty"`
	DecoderPath    string `json:"downlink_decoder_path,omitempty"`
	BoardName      string `json:"board,omitempty"`
	ResetPin       string `json:"reset_pin,omitempty"`
	PowerPin       string `json:"power_en_pin,omitempty"`
	LoopIntervalMs *int   `json:"loop_interval_ms,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) ([]string, error) {
	var deps []string

	if conf.RegionCode == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "region_code")
	}
	region := regions.GetRegion(conf.RegionCode)
	if region == regions.Unspecified {
		return nil, resource.NewConfigValidationError(path, errInvalidRegion)
	}
	if !regions.ZoneForRegion(region).Valid() {
		return nil, resource.NewConfigValidationError(path, errUnsupportedRegion)
	}

	if conf.DeviceID == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "device_id")
	}
	if len(conf.DeviceID) != deviceIDLength {
		return nil, resource.NewConfigValidationError(path, errDeviceIDLength)
	}
	if conf.PAC == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "pac")
	}
	if len(conf.PAC) != pacLength {
		return nil, resource.NewConfigValidationError(path, errPACLength)
	}
	if conf.DeviceKey == "" {
		return nil, resource.NewConfigValidationFieldRequiredError(path, "device_key")
	}
	if len(conf.DeviceKey) != deviceKeyLength {
		return nil, resource.NewConfigValidationError(path, errDeviceKeyLength)
	}
	for _, s := range []string{conf.DeviceID, conf.PAC, conf.DeviceKey} {
		if _, err := hex.DecodeString(s); err != nil {
			return nil, resource.NewConfigValidationError(path, errInvalidHex)
		}
	}

	if conf.TxPower != nil && (*conf.TxPower < 0 || *conf.TxPower > maxTxPower) {
		return nil, resource.NewConfigValidationError(path, errTxPowerRange)
	}
	if _, err := sigfox.ParseEncryption(conf.Encryption); err != nil {
		return nil, resource.NewConfigValidationError(path, errInvalidEncryption)
	}
	if conf.LoopIntervalMs != nil && *conf.LoopIntervalMs <= 0 {
		return nil, resource.NewConfigValidationError(path, errLoopInterval)
	}

	switch {
	case conf.BoardName == "" && conf.ResetPin != "":
		return nil, resource.NewConfigValidationError(path, errResetPinNoBoard)
	case conf.BoardName != "" && conf.ResetPin == "":
		return nil, resource.NewConfigValidationError(path, errBoardNoResetPin)
	case conf.BoardName != "":
		deps = append(deps, conf.BoardName)
	}

	return deps, nil
}

// credentials are the parsed device identity.
type credentials struct {
	deviceID uint32
	pac      []byte
	key      types.AES128Key
}

func parseCredentials(conf *Config) (credentials, error) {
	var creds credentials
	id, err := strconv.ParseUint(conf.DeviceID, 16, 32)
	if err != nil {
		return creds, err
	}
	creds.deviceID = uint32(id)

	creds.pac, err = hex.DecodeString(conf.PAC)
	if err != nil {
		return creds, err
	}
	key, err := hex.DecodeString(conf.DeviceKey)
	if err != nil {
		return creds, err
	}
	if len(key) != len(creds.key) {
		return creds, errDeviceKeyLength
	}
	copy(creds.key[:], key)
	return creds, nil
}

func (conf *Config) txPower() int8 {
	if conf.TxPower == nil {
		return sigfox.PowerDefault
	}
	return int8(*conf.TxPower)
}

func (conf *Config) loopInterval() int {
	if conf.LoopIntervalMs == nil {
		return defaultLoopInterval
	}
	return *conf.LoopIntervalMs
}
