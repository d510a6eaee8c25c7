package sfxhw

import (
	"context"
	"errors"
	"time"

	"go.viam.com/rdk/components/board"
	"go.viam.com/utils"
)

// ResetHold is how long each pin level is held while resetting the radio.
const ResetHold = 100 * time.Millisecond

var errNoResetPin = errors.New("reset pin is required to reset the radio")

type pinLevel struct {
	pin  board.GPIOPin
	high bool
}

// ResetRadio powers the radio if a power pin is given, then pulses its reset line.
// The transceiver does not come out of reset correctly without a pause after every level change.
func ResetRadio(ctx context.Context, rst, pwr board.GPIOPin) error {
	if rst == nil {
		return errNoResetPin
	}

	sequence := make([]pinLevel, 0, 3)
	if pwr != nil {
		sequence = append(sequence, pinLevel{pin: pwr, high: true})
	}
	sequence = append(sequence, pinLevel{pin: rst, high: true}, pinLevel{pin: rst, high: false})

	for _, step := range sequence {
		if err := step.pin.Set(ctx, step.high, nil); err != nil {
			return err
		}
		if !utils.SelectContextOrWait(ctx, ResetHold) {
			return ctx.Err()
		}
	}
	return nil
}
