package device

import (
	"context"
	"encoding/binary"

	"github.com/viam-modules/sigfox/nvm"
)

// seqOffset is where the sequence id lives in the secure element block, big endian.
// The factory pattern leaves 0x0FFF there so the first uplink uses sequence id 0.
const seqOffset = 3

// nvmSeqStore persists the sequence id in the secure element block.
type nvmSeqStore struct {
	m *nvm.Manager
}

func (s nvmSeqStore) CurrentSeqID(ctx context.Context) (uint16, error) {
	block, err := s.m.ReadSEBlock(ctx)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(block[seqOffset : seqOffset+2]), nil
}

func (s nvmSeqStore) SetCurrentSeqID(ctx context.Context, seq uint16) error {
	block, err := s.m.ReadSEBlock(ctx)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(block[seqOffset:seqOffset+2], seq)
	return s.m.WriteSEBlock(ctx, block)
}
