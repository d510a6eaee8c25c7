// Package nvm manages the non-volatile area holding the sigfox stack and secure element state.
package nvm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.viam.com/rdk/logging"
)

// Bank is an eeprom bank.
type Bank uint8

// Bank0 is the bank the sigfox area lives in.
const Bank0 Bank = 0

const (
	// Magic identifies an initialized sigfox area.
	Magic uint32 = 0x5F5F5846
	// HeaderSize is the encoded size of Header.
	HeaderSize = 12
	// DefaultStackBlockSize is the size of the protocol stack block.
	DefaultStackBlockSize = 4
	// DefaultSEBlockSize is the size of the secure element block.
	DefaultSEBlockSize = 5

	alignment = 4
)

// seFactory is the factory content of the secure element block, the remaining bytes are zero.
var seFactory = []byte{0x00, 0x00, 0x00, 0x0F, 0xFF}

var (
	errShortHeader = errors.New("sigfox area header is truncated")
	errBlockSize   = errors.New("block size mismatch")
)

// Storage reads and writes raw bytes of the non-volatile memory.
type Storage interface {
	Read(ctx context.Context, bank Bank, offset, length uint32) ([]byte, error)
	Write(ctx context.Context, bank Bank, offset uint32, data []byte) error
}

// Area is a storage area owned by another subsystem that precedes the sigfox area.
type Area interface {
	AreaSize() uint32
}

// FixedArea is an Area of constant size.
type FixedArea uint32

// AreaSize returns the size of the area.
func (a FixedArea) AreaSize() uint32 {
	return uint32(a)
}

// Header is stored at the start of the sigfox area.
type Header struct {
	Magic    uint32
	Size     uint32
	Reserved uint32
}

func (h Header) encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint32(buf[8:12], h.Reserved)
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errShortHeader
	}
	return Header{
		Magic:    binary.LittleEndian.Uint32(buf[0:4]),
		Size:     binary.LittleEndian.Uint32(buf[4:8]),
		Reserved: binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// Layout describes the blocks stored in the sigfox area.
type Layout struct {
	StackBlockSize uint32
	SEBlockSize    uint32
	// Preceding are the areas stored before the sigfox area, such as the secure store
	// and the error log.
	Preceding []Area
}

// DefaultLayout returns the layout used by the sigfox stack.
func DefaultLayout(preceding ...Area) Layout {
	return Layout{
		StackBlockSize: DefaultStackBlockSize,
		SEBlockSize:    DefaultSEBlockSize,
		Preceding:      preceding,
	}
}

func align(size uint32) uint32 {
	return (size + alignment - 1) &^ (alignment - 1)
}

// Outcome tells what ResetIfNeeded did.
type Outcome int

const (
	// OutcomeSkipped means the area was valid and nothing was written.
	OutcomeSkipped Outcome = iota
	// OutcomeReset means the area was reset to factory defaults.
	OutcomeReset
)

func (o Outcome) String() string {
	if o == OutcomeReset {
		return "reset"
	}
	return "skipped"
}

// Manager computes the sigfox area layout and keeps it consistent.
type Manager struct {
	mu      sync.Mutex
	storage Storage
	layout  Layout
	logger  logging.Logger
}

// NewManager creates a Manager over the given storage.
func NewManager(storage Storage, layout Layout, logger logging.Logger) *Manager {
	return &Manager{
		storage: storage,
		layout:  layout,
		logger:  logger,
	}
}

// RequiredSize returns the total size of the sigfox area.
func (m *Manager) RequiredSize() uint32 {
	return HeaderSize + align(m.layout.StackBlockSize) + align(m.layout.SEBlockSize)
}

// BaseOffset returns the offset of the sigfox area.
func (m *Manager) BaseOffset() uint32 {
	var offset uint32
	for _, area := range m.layout.Preceding {
		offset += area.AreaSize()
	}
	return offset
}

// StackBlockOffset returns the offset of the protocol stack block.
func (m *Manager) StackBlockOffset() uint32 {
	return m.BaseOffset() + HeaderSize
}

// SEBlockOffset returns the offset of the secure element block.
func (m *Manager) SEBlockOffset() uint32 {
	return m.StackBlockOffset() + align(m.layout.StackBlockSize)
}

// ReadHeader reads the header of the sigfox area.
func (m *Manager) ReadHeader(ctx context.Context) (Header, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readHeader(ctx)
}

func (m *Manager) readHeader(ctx context.Context) (Header, error) {
	buf, err := m.storage.Read(ctx, Bank0, m.BaseOffset(), HeaderSize)
	if err != nil {
		return Header{}, fmt.Errorf("failed to read the sigfox area header: %w", err)
	}
	return decodeHeader(buf)
}

// ResetIfNeeded resets the sigfox area to factory defaults when forced, on first boot, when
// the area is corrupted or when the block sizes changed.
func (m *Manager) ResetIfNeeded(ctx context.Context, force bool) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	header, err := m.readHeader(ctx)
	if err != nil {
		return OutcomeSkipped, err
	}

	expected := m.RequiredSize()
	if !force && header.Magic == Magic && header.Size == expected {
		m.logger.Debugf("sigfox nvm area is valid, skipped reset")
		return OutcomeSkipped, nil
	}

	m.logger.Infof("resetting sigfox nvm area to factory defaults (force=%v magic=0x%08X size=%d expected=%d)",
		force, header.Magic, header.Size, expected)

	// the header goes last so an interrupted reset is retried on the next boot.
	if header.Magic == Magic {
		if err := m.storage.Write(ctx, Bank0, m.BaseOffset(), Header{}.encode()); err != nil {
			return OutcomeSkipped, fmt.Errorf("failed to invalidate the sigfox area header: %w", err)
		}
	}
	se := make([]byte, m.layout.SEBlockSize)
	copy(se, seFactory)
	if err := m.storage.Write(ctx, Bank0, m.SEBlockOffset(), se); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to reset the secure element block: %w", err)
	}

	if err := m.storage.Write(ctx, Bank0, m.StackBlockOffset(), make([]byte, m.layout.StackBlockSize)); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to reset the stack block: %w", err)
	}

	header = Header{Magic: Magic, Size: expected}
	if err := m.storage.Write(ctx, Bank0, m.BaseOffset(), header.encode()); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to write the sigfox area header: %w", err)
	}
	return OutcomeReset, nil
}

// ReadStackBlock returns the protocol stack block.
func (m *Manager) ReadStackBlock(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Read(ctx, Bank0, m.StackBlockOffset(), m.layout.StackBlockSize)
}

// WriteStackBlock replaces the protocol stack block.
func (m *Manager) WriteStackBlock(ctx context.Context, block []byte) error {
	if uint32(len(block)) != m.layout.StackBlockSize {
		return fmt.Errorf("%w: stack block is %d bytes, got %d", errBlockSize, m.layout.StackBlockSize, len(block))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Write(ctx, Bank0, m.StackBlockOffset(), block)
}

// ReadSEBlock returns the secure element block.
func (m *Manager) ReadSEBlock(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Read(ctx, Bank0, m.SEBlockOffset(), m.layout.SEBlockSize)
}

// WriteSEBlock replaces the secure element block.
func (m *Manager) WriteSEBlock(ctx context.Context, block []byte) error {
	if uint32(len(block)) != m.layout.SEBlockSize {
		return fmt.Errorf("%w: secure element block is %d bytes, got %d", errBlockSize, m.layout.SEBlockSize, len(block))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.storage.Write(ctx, Bank0, m.SEBlockOffset(), block)
}
