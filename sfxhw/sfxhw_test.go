package sfxhw

import (
	"context"
	"errors"
	"testing"

	"go.viam.com/rdk/testutils/inject"
	"go.viam.com/test"
)

func TestParseCode(t *testing.T) {
	tests := []struct {
		name     string
		code     Code
		expected error
	}{
		{
			name:     "open failed",
			code:     CodeOpenFailed,
			expected: errOpenFailed,
		},
		{
			name:     "send frame failed",
			code:     CodeSendFrameFailed,
			expected: errSendFrame,
		},
		{
			name:     "send bit failed",
			code:     CodeSendBitFailed,
			expected: errSendBit,
		},
		{
			name:     "oob failed",
			code:     CodeSendOOBFailed,
			expected: errSendOOB,
		},
		{
			name:     "downlink timeout",
			code:     CodeDownlinkTimeout,
			expected: errDownlinkTimeout,
		},
		{
			name:     "manufacturer byte is ignored",
			code:     0x1A00 | CodeBusy,
			expected: errBusy,
		},
		{
			name:     "unknown code",
			code:     0x7F,
			expected: errUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseCode(tt.code)
			test.That(t, errors.Is(err, tt.expected), test.ShouldBeTrue)
		})
	}

	test.That(t, ParseCode(CodeNone), test.ShouldBeNil)
	test.That(t, ParseCode(0x4200), test.ShouldBeNil)
	test.That(t, ParseCode(0x7F).Error(), test.ShouldContainSubstring, "0x7F")
}

func TestResetRadio(t *testing.T) {
	type level struct {
		pin  string
		high bool
	}
	var levels []level

	newPin := func(name string) *inject.GPIOPin {
		pin := &inject.GPIOPin{}
		pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
			levels = append(levels, level{pin: name, high: high})
			return nil
		}
		return pin
	}

	t.Run("reset only", func(t *testing.T) {
		levels = nil
		err := ResetRadio(context.Background(), newPin("rst"), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, levels, test.ShouldResemble, []level{{"rst", true}, {"rst", false}})
	})

	t.Run("power then reset", func(t *testing.T) {
		levels = nil
		err := ResetRadio(context.Background(), newPin("rst"), newPin("pwr"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, levels, test.ShouldResemble, []level{{"pwr", true}, {"rst", true}, {"rst", false}})
	})

	t.Run("missing reset pin", func(t *testing.T) {
		err := ResetRadio(context.Background(), nil, newPin("pwr"))
		test.That(t, err, test.ShouldBeError, errNoResetPin)
	})

	t.Run("pin error", func(t *testing.T) {
		pinErr := errors.New("gpio failure")
		pin := &inject.GPIOPin{}
		pin.SetFunc = func(ctx context.Context, high bool, extra map[string]interface{}) error {
			return pinErr
		}
		err := ResetRadio(context.Background(), pin, nil)
		test.That(t, err, test.ShouldBeError, pinErr)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := ResetRadio(ctx, newPin("rst"), nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
