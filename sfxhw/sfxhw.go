// Package sfxhw defines the boundary to the sigfox radio driver and protocol stack.
package sfxhw

import (
	"context"
	"errors"
	"fmt"
)

// Code is a raw return code of the protocol stack.
// Only the low byte carries the error, the high byte is manufacturer specific.
type Code uint16

// Protocol stack return codes.
const (
	CodeNone            Code = 0x00
	CodeOpenFailed      Code = 0x10
	CodeCloseFailed     Code = 0x11
	CodeSendFrameFailed Code = 0x20
	CodeSendBitFailed   Code = 0x21
	CodeSendOOBFailed   Code = 0x22
	CodeDownlinkTimeout Code = 0x3E
	CodeContinuousMode  Code = 0x40
	CodeSyncPeriod      Code = 0x50
	CodeBusy            Code = 0x60
)

// Error variables for stack codes.
var (
	errOpenFailed      = errors.New("error opening the sigfox library")
	errCloseFailed     = errors.New("error closing the sigfox library")
	errSendFrame       = errors.New("error sending the frame")
	errSendBit         = errors.New("error sending the bit")
	errSendOOB         = errors.New("error sending the out of band message")
	errDownlinkTimeout = errors.New("timed out waiting for the downlink")
	errContinuousMode  = errors.New("error in continuous transmission mode")
	errSyncPeriod      = errors.New("error setting the rc sync period")
	errBusy            = errors.New("radio is busy")
	errUnknown         = errors.New("unknown error")
)

// Low returns the stack error carried in the low byte of the code.
func (c Code) Low() Code {
	return c & 0xFF
}

// ParseCode converts a stack return code into an error, nil for CodeNone.
func ParseCode(code Code) error {
	switch code.Low() {
	case CodeNone:
		return nil
	case CodeOpenFailed:
		return errOpenFailed
	case CodeCloseFailed:
		return errCloseFailed
	case CodeSendFrameFailed:
		return errSendFrame
	case CodeSendBitFailed:
		return errSendBit
	case CodeSendOOBFailed:
		return errSendOOB
	case CodeDownlinkTimeout:
		return errDownlinkTimeout
	case CodeContinuousMode:
		return errContinuousMode
	case CodeSyncPeriod:
		return errSyncPeriod
	case CodeBusy:
		return errBusy
	default:
		return fmt.Errorf("%w: 0x%02X", errUnknown, uint16(code.Low()))
	}
}

// OOBType is an out of band message type understood by the stack.
type OOBType uint8

const (
	// OOBService is the service status message.
	OOBService OOBType = iota
	// OOBRCSync is the rc synchronization message.
	OOBRCSync
)

// Rate is the modulation used in continuous transmission.
type Rate uint8

const (
	// DBPSK100 is 100bps DBPSK.
	DBPSK100 Rate = iota
	// DBPSK600 is 600bps DBPSK.
	DBPSK600
)

// DownlinkSize is the size of a downlink payload.
const DownlinkSize = 8

// Radio is the physical radio driver.
type Radio interface {
	Init(ctx context.Context) error
	Deinit(ctx context.Context) error
	SetPower(power int8) error
	// RSSI returns the rssi of the last received downlink.
	RSSI() int16
	// SeqID returns the last used sequence id.
	SeqID() uint16
}

// Stack is the vendor sigfox protocol stack.
type Stack interface {
	// SendFrame sends payload and, when ack is set, waits for a downlink written into downlink.
	SendFrame(ctx context.Context, payload, downlink []byte, repeat uint8, ack bool) Code
	SendBit(ctx context.Context, value bool, downlink []byte, repeat uint8, ack bool) Code
	SendOutOfBand(ctx context.Context, oob OOBType) Code
	SwitchPublicKey(public bool)
	StartContinuousTransmission(ctx context.Context, frequency uint32, rate Rate) Code
	StopContinuousTransmission(ctx context.Context) Code
	SetRCSyncPeriod(frames uint16) Code
	Version() []byte
}

// SeqStore persists the last used sequence id across power cycles.
type SeqStore interface {
	CurrentSeqID(ctx context.Context) (uint16, error)
	SetCurrentSeqID(ctx context.Context, seq uint16) error
}
