// Package testutils creates helper functions for tests
package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"
)

const (
	// TestRegion is the region used by device tests.
	TestRegion = "EU868"
	// TestDeviceID is a fake sigfox device id for tests.
	TestDeviceID = "0012ABCD"
	// TestPAC is a fake porting authorization code for tests.
	TestPAC = "A1B2C3D4E5F60718"
	// TestDeviceKey is a fake device key for tests.
	TestDeviceKey = "0123456789ABCDEF0123456789ABCDEF"
)

// TestDecoder turns the first two downlink bytes into a temperature and the third into a flag.
const TestDecoder = `function Decode(bytes) {
	return {
		temperature: ((bytes[0] << 8) | bytes[1]) / 10,
		led: bytes[2] === 1,
	};
}
`

// NewDeviceTestEnv sets VIAM_MODULE_DATA to a temp dir and writes a downlink decoder there.
// It returns the data dir and the decoder path.
func NewDeviceTestEnv(t *testing.T, decoderFilename, decoder string) (string, string) {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("VIAM_MODULE_DATA", tmpDir)

	decoderPath := filepath.Clean(fmt.Sprintf("%s/%s", tmpDir, decoderFilename))
	err := os.MkdirAll(filepath.Dir(decoderPath), 0o700)
	test.That(t, err, test.ShouldBeNil)
	err = os.WriteFile(decoderPath, []byte(decoder), 0o600)
	test.That(t, err, test.ShouldBeNil)
	return tmpDir, decoderPath
}

// PinRecorder records the levels set on fake gpio pins.
type PinRecorder struct {
	mu   sync.Mutex
	sets map[string][]bool
}

// Sets returns the levels set on the pin, oldest first.
func (p *PinRecorder) Sets(pin string) []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.sets[pin]...)
}

// NewTestBoard returns a fake board exposing the named pins. Every level set is recorded.
func NewTestBoard(pins ...string) (*inject.Board, *PinRecorder) {
	rec := &PinRecorder{sets: map[string][]bool{}}
	fakePins := map[string]*inject.GPIOPin{}
	for _, name := range pins {
		pin := &inject.GPIOPin{}
		pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
			rec.mu.Lock()
			defer rec.mu.Unlock()
			rec.sets[name] = append(rec.sets[name], high)
			return nil
		}
		fakePins[name] = pin
	}

	b := &inject.Board{}
	b.GPIOPinByNameFunc = func(name string) (board.GPIOPin, error) {
		pin, ok := fakePins[name]
		if !ok {
			return nil, fmt.Errorf("unknown pin %s", name)
		}
		return pin, nil
	}
	return b, rec
}
