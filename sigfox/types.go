package sigfox

import (
	"context"
	"fmt"

	"github.com/viam-modules/sigfox/regions"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
)

const (
	// MaxPayloadSize is the largest uplink payload in bytes.
	MaxPayloadSize = 12
	// MaxRepeat is the largest number of frame repetitions.
	MaxRepeat = 2
	// MaxSyncPeriod is the largest rc sync period in frames.
	MaxSyncPeriod = 4096
	// PowerDefault requests the current runtime power.
	PowerDefault int8 = -1
	// seqMask wraps the sequence id counter.
	seqMask = 0x0FFF
)

// Status is the result of a configuration operation.
type Status int

const (
	// StatusNoChange means the operation had no effect.
	StatusNoChange Status = iota
	// StatusSuccess means the operation was applied.
	StatusSuccess
)

func (s Status) String() string {
	if s == StatusSuccess {
		return "success"
	}
	return "no change"
}

// TxResult is the result of a transmission.
type TxResult int

const (
	// TransmitError means the stack failed to send.
	TransmitError TxResult = iota
	// TransmitSuccess means the uplink was sent.
	TransmitSuccess
	// DownlinkReceived means the uplink was sent and a downlink was received.
	DownlinkReceived
	// NoDownlinkReceived means the uplink was sent but the downlink wait timed out.
	NoDownlinkReceived
)

func (r TxResult) String() string {
	switch r {
	case TransmitSuccess:
		return "transmit success"
	case DownlinkReceived:
		return "downlink received"
	case NoDownlinkReceived:
		return "no downlink received"
	default:
		return "transmit error"
	}
}

// EncryptFlags selects payload encryption. Only EncryptSigfox is handled by the stack,
// the other flags are applied by the application and passed through.
type EncryptFlags uint8

// Encryption flags.
const (
	EncryptNone   EncryptFlags = 0
	EncryptSigfox EncryptFlags = 1
	EncryptSpeck  EncryptFlags = 2
	EncryptAESCTR EncryptFlags = 4
)

// Encryption is the payload encryption policy of the device.
type Encryption int

const (
	// EncryptionNone forbids sigfox payload encryption.
	EncryptionNone Encryption = iota
	// EncryptionSigfox requires sigfox payload encryption on every frame.
	EncryptionSigfox
)

// ParseEncryption parses "none" or "sigfox", empty defaults to none.
func ParseEncryption(s string) (Encryption, error) {
	switch s {
	case "", "none":
		return EncryptionNone, nil
	case "sigfox":
		return EncryptionSigfox, nil
	default:
		return EncryptionNone, fmt.Errorf("%w: unknown encryption %q", ErrInvalidParameters, s)
	}
}

// Config holds the controller policies.
type Config struct {
	Encryption Encryption
}

// OOBKind is an out of band message kind.
type OOBKind int

// Out of band message kinds.
const (
	OOBService OOBKind = iota
	OOBRCSync
)

// FrameRequest is an uplink frame.
type FrameRequest struct {
	Payload []byte
	Repeat  uint8
	Speed   regions.Speed
	Power   int8
	Encrypt EncryptFlags
	Ack     bool
	// Downlink receives the 8 byte downlink when Ack is set.
	Downlink []byte
}

// BitRequest is a single bit uplink.
type BitRequest struct {
	Value    bool
	Repeat   uint8
	Speed    regions.Speed
	Power    int8
	Ack      bool
	Downlink []byte
}

// OOBRequest is an out of band uplink.
type OOBRequest struct {
	Kind  OOBKind
	Speed regions.Speed
	Power int8
}

// Capabilities are the platform functions bound at setup.
// All are required except RunTimers.
type Capabilities struct {
	CurrentRegion   func() regions.Region
	DeviceID        func() uint32
	InitialPAC      func() []byte
	DeviceKey       func() types.AES128Key
	CurrentSeqID    func(ctx context.Context) (uint16, error)
	SetCurrentSeqID func(ctx context.Context, seq uint16) error
	// TxPower returns the power to use after setup, PowerDefault for the zone default.
	TxPower func() int8
	// RunTimers is called from Loop.
	RunTimers func()
}

func (c Capabilities) validate() error {
	missing := ""
	switch {
	case c.CurrentRegion == nil:
		missing = "CurrentRegion"
	case c.DeviceID == nil:
		missing = "DeviceID"
	case c.InitialPAC == nil:
		missing = "InitialPAC"
	case c.DeviceKey == nil:
		missing = "DeviceKey"
	case c.CurrentSeqID == nil:
		missing = "CurrentSeqID"
	case c.SetCurrentSeqID == nil:
		missing = "SetCurrentSeqID"
	case c.TxPower == nil:
		missing = "TxPower"
	default:
		return nil
	}
	return fmt.Errorf("%w: missing capability %s", ErrInvalidParameters, missing)
}
