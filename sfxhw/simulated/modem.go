// Package simulated implements the sigfox radio driver and protocol stack on the host.
// No RF is emitted: uplinks are recorded in a bounded log and downlinks are queued by the caller.
package simulated

import (
	"context"
	"sync"

	"github.com/viam-modules/sigfox/sfxhw"
	"go.viam.com/rdk/logging"
)

// Version is reported as the library version of the simulated stack.
const Version = "SIM-2.0.0"

// DefaultDownlinkRSSI is the rssi reported for a queued downlink.
const DefaultDownlinkRSSI int16 = -110

const (
	factorySeqID = 0x0FFF
	seqMask      = 0x0FFF
)

// Kind is the kind of a recorded transmission.
type Kind string

// Recorded transmission kinds.
const (
	KindFrame      Kind = "frame"
	KindBit        Kind = "bit"
	KindOOB        Kind = "oob"
	KindContinuous Kind = "continuous"
)

// Transmission is an uplink recorded by the modem.
type Transmission struct {
	Kind      Kind
	Payload   []byte
	Repeat    uint8
	Ack       bool
	Power     int8
	SeqID     uint16
	PublicKey bool
	OOB       sfxhw.OOBType
	Frequency uint32
	Rate      sfxhw.Rate
}

// Modem is a host side sigfox transceiver implementing both sfxhw.Radio and sfxhw.Stack.
type Modem struct {
	mu     sync.Mutex
	logger logging.Logger
	store  sfxhw.SeqStore

	open       bool
	power      int8
	seqID      uint16
	rssi       int16
	publicKey  bool
	continuous bool
	syncPeriod uint16

	txLog     ringBuffer
	downlinks [][]byte
	codes     []sfxhw.Code
	initErr   error
}

var (
	_ sfxhw.Radio = (*Modem)(nil)
	_ sfxhw.Stack = (*Modem)(nil)
)

// NewModem returns a closed modem. A nil store keeps the sequence id in memory only.
func NewModem(store sfxhw.SeqStore, logger logging.Logger) *Modem {
	return &Modem{
		store:  store,
		logger: logger,
		seqID:  factorySeqID,
	}
}

// Init opens the modem and loads the persisted sequence id.
func (m *Modem) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initErr != nil {
		return m.initErr
	}
	if m.store != nil {
		seq, err := m.store.CurrentSeqID(ctx)
		if err != nil {
			return err
		}
		m.seqID = seq & seqMask
	}
	m.open = true
	m.logger.Debugf("simulated modem opened, last sequence id %d", m.seqID)
	return nil
}

// Deinit closes the modem.
func (m *Modem) Deinit(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	m.continuous = false
	return nil
}

// SetPower sets the output power.
func (m *Modem) SetPower(power int8) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.power = power
	return nil
}

// RSSI returns the rssi of the last received downlink.
func (m *Modem) RSSI() int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rssi
}

// SeqID returns the last used sequence id.
func (m *Modem) SeqID() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seqID
}

// SendFrame records the frame and answers from the downlink queue when ack is set.
func (m *Modem) SendFrame(ctx context.Context, payload, downlink []byte, repeat uint8, ack bool) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.precheck(ctx, sfxhw.CodeSendFrameFailed); !ok {
		return code
	}
	if err := m.nextSeq(ctx); err != nil {
		m.logger.Errorf("failed to persist the sequence id: %v", err)
		return sfxhw.CodeSendFrameFailed
	}
	m.record(Transmission{Kind: KindFrame, Payload: payload, Repeat: repeat, Ack: ack})
	if !ack {
		return sfxhw.CodeNone
	}
	return m.receive(downlink)
}

// SendBit records a single bit frame.
func (m *Modem) SendBit(ctx context.Context, value bool, downlink []byte, repeat uint8, ack bool) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.precheck(ctx, sfxhw.CodeSendBitFailed); !ok {
		return code
	}
	if err := m.nextSeq(ctx); err != nil {
		m.logger.Errorf("failed to persist the sequence id: %v", err)
		return sfxhw.CodeSendBitFailed
	}
	var bit byte
	if value {
		bit = 1
	}
	m.record(Transmission{Kind: KindBit, Payload: []byte{bit}, Repeat: repeat, Ack: ack})
	if !ack {
		return sfxhw.CodeNone
	}
	return m.receive(downlink)
}

// SendOutOfBand records an out of band message.
func (m *Modem) SendOutOfBand(ctx context.Context, oob sfxhw.OOBType) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.precheck(ctx, sfxhw.CodeSendOOBFailed); !ok {
		return code
	}
	if err := m.nextSeq(ctx); err != nil {
		m.logger.Errorf("failed to persist the sequence id: %v", err)
		return sfxhw.CodeSendOOBFailed
	}
	m.record(Transmission{Kind: KindOOB, OOB: oob})
	return sfxhw.CodeNone
}

// SwitchPublicKey selects the public key instead of the device key.
func (m *Modem) SwitchPublicKey(public bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKey = public
}

// StartContinuousTransmission starts emitting an unmodulated test signal.
func (m *Modem) StartContinuousTransmission(ctx context.Context, frequency uint32, rate sfxhw.Rate) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.precheck(ctx, sfxhw.CodeContinuousMode); !ok {
		return code
	}
	if m.continuous {
		return sfxhw.CodeBusy
	}
	m.continuous = true
	m.record(Transmission{Kind: KindContinuous, Frequency: frequency, Rate: rate})
	return sfxhw.CodeNone
}

// StopContinuousTransmission stops the test signal.
func (m *Modem) StopContinuousTransmission(ctx context.Context) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.popCode(); ok {
		return code
	}
	if !m.continuous {
		return sfxhw.CodeContinuousMode
	}
	m.continuous = false
	return sfxhw.CodeNone
}

// SetRCSyncPeriod sets how many frames are sent between rc sync messages.
func (m *Modem) SetRCSyncPeriod(frames uint16) sfxhw.Code {
	m.mu.Lock()
	defer m.mu.Unlock()
	if code, ok := m.popCode(); ok {
		return code
	}
	m.syncPeriod = frames
	return sfxhw.CodeNone
}

// Version returns the library version.
func (m *Modem) Version() []byte {
	return []byte(Version)
}

// QueueDownlink queues the answer to the next acknowledged uplink.
func (m *Modem) QueueDownlink(payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	frame := make([]byte, len(payload))
	copy(frame, payload)
	m.downlinks = append(m.downlinks, frame)
}

// FailNext makes the next stack call return code without transmitting.
func (m *Modem) FailNext(code sfxhw.Code) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes = append(m.codes, code)
}

// FailInit makes Init return err.
func (m *Modem) FailInit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initErr = err
}

// TxLog returns the recorded transmissions, oldest first.
func (m *Modem) TxLog() []Transmission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txLog.snapshot()
}

// Power returns the output power last set.
func (m *Modem) Power() int8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.power
}

// SyncPeriod returns the rc sync period last set.
func (m *Modem) SyncPeriod() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncPeriod
}

// Continuous reports whether continuous transmission is running.
func (m *Modem) Continuous() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.continuous
}

// precheck must be called with the lock held.
func (m *Modem) precheck(ctx context.Context, closed sfxhw.Code) (sfxhw.Code, bool) {
	if code, ok := m.popCode(); ok {
		return code, false
	}
	if !m.open || ctx.Err() != nil {
		return closed, false
	}
	if m.continuous {
		return sfxhw.CodeBusy, false
	}
	return sfxhw.CodeNone, true
}

func (m *Modem) popCode() (sfxhw.Code, bool) {
	if len(m.codes) == 0 {
		return sfxhw.CodeNone, false
	}
	code := m.codes[0]
	m.codes = m.codes[1:]
	return code, true
}

func (m *Modem) nextSeq(ctx context.Context) error {
	next := (m.seqID + 1) & seqMask
	if m.store != nil {
		if err := m.store.SetCurrentSeqID(ctx, next); err != nil {
			return err
		}
	}
	m.seqID = next
	return nil
}

func (m *Modem) record(tx Transmission) {
	payload := make([]byte, len(tx.Payload))
	copy(payload, tx.Payload)
	tx.Payload = payload
	tx.Power = m.power
	tx.SeqID = m.seqID
	tx.PublicKey = m.publicKey
	m.txLog.push(tx)
}

func (m *Modem) receive(downlink []byte) sfxhw.Code {
	if len(m.downlinks) == 0 {
		return sfxhw.CodeDownlinkTimeout
	}
	frame := m.downlinks[0]
	m.downlinks = m.downlinks[1:]
	copy(downlink, frame)
	m.rssi = DefaultDownlinkRSSI
	return sfxhw.CodeNone
}

const ringCapacity = 64

// ringBuffer keeps the most recent transmissions, overwriting the oldest when full.
type ringBuffer struct {
	data       [ringCapacity]Transmission
	head, tail int
	count      int
}

func (rb *ringBuffer) push(tx Transmission) {
	if rb.count == ringCapacity {
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = tx
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) snapshot() []Transmission {
	out := make([]Transmission, 0, rb.count)
	for c, i := 0, rb.head; c < rb.count; c, i = c+1, (i+1)%ringCapacity {
		out = append(out, rb.data[i])
	}
	return out
}
