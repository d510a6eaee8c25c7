// Package main sends the uplinks of a yaml profile through a simulated sigfox device.
package main

import (
	"context"
	"errors"
	"os"

	"github.com/viam-modules/sigfox/device"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"
)

var errUsage = errors.New("usage: sigfox-cli <profile.yaml>")

func main() {
	utils.ContextualMain(mainWithArgs, logging.NewLogger("sigfox-cli"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	if len(args) != 2 {
		return errUsage
	}
	p, err := loadProfile(args[1])
	if err != nil {
		return err
	}
	if p.DataDir != "" {
		if err := os.Setenv("VIAM_MODULE_DATA", p.DataDir); err != nil {
			return err
		}
	}
	return run(ctx, p, logger)
}

func run(ctx context.Context, p *Profile, logger logging.Logger) (err error) {
	cfg := resource.Config{
		Name:                p.Name,
		ConvertedAttributes: p.config(),
	}
	d, err := device.NewDevice(ctx, nil, cfg, logger, device.SimulatedTransceiver)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := d.Close(ctx); cErr != nil {
			logger.Error(cErr)
			if err == nil {
				err = cErr
			}
		}
	}()

	for i, u := range p.Uplinks {
		resp, err := d.DoCommand(ctx, u.command())
		if err != nil {
			return err
		}
		logger.Infof("uplink %d: %v", i, resp)
	}

	r, err := d.Readings(ctx, nil)
	if err != nil {
		return err
	}
	logger.Info(r)
	return nil
}
