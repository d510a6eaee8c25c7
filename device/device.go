// Package device implements a sigfox end device as a sensor component.
package device

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/viam-modules/sigfox/decoder"
	"github.com/viam-modules/sigfox/nvm"
	"github.com/viam-modules/sigfox/regions"
	"github.com/viam-modules/sigfox/sfxhw"
	"github.com/viam-modules/sigfox/sfxhw/simulated"
	"github.com/viam-modules/sigfox/sigfox"
	"go.thethings.network/lorawan-stack/v3/pkg/types"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/sensor"
	"go.viam.com/rdk/data"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"
)

// Model represents a sigfox device model.
var Model = resource.NewModel("viam", "sigfox", "device")

var (
	errNotStarted       = errors.New("sigfox device is not started")
	errNoDataDir        = errors.New("VIAM_MODULE_DATA must be set to download a decoder")
	errNoDownlinkQueue  = errors.New("transceiver does not accept queued downlinks")
	errUnexpectedFormat = errors.New("unexpected command format")
)

const decoderDownloadTimeout = 30 * time.Second

// Transceiver is a sigfox radio driver together with its protocol stack.
type Transceiver interface {
	sfxhw.Radio
	sfxhw.Stack
}

// TransceiverFactory creates the transceiver of a device. The store persists the sequence id.
type TransceiverFactory func(store sfxhw.SeqStore, logger logging.Logger) (Transceiver, error)

// SimulatedTransceiver is the default TransceiverFactory.
func SimulatedTransceiver(store sfxhw.SeqStore, logger logging.Logger) (Transceiver, error) {
	return simulated.NewModem(store, logger), nil
}

func init() {
	resource.RegisterComponent(
		sensor.API,
		Model,
		resource.Registration[sensor.Sensor, *Config]{
			Constructor: newDevice,
		})
}

// Device is a sigfox end device.
type Device struct {
	resource.Named
	logger logging.Logger
	mu     sync.Mutex

	newTransceiver TransceiverFactory
	transceiver    Transceiver
	controller     *sigfox.Controller
	manager        *nvm.Manager
	storage        nvm.Storage
	caps           sigfox.Capabilities
	encryption     sigfox.Encryption
	region         regions.Region
	decoderPath    string
	worker         *utils.StoppableWorkers
	started        bool

	rstPin board.GPIOPin
	pwrPin board.GPIOPin

	readingsMu   sync.Mutex
	uplinks      int
	loopTicks    int
	lastDownlink []byte
	lastDecoded  map[string]interface{}
}

func newDevice(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (sensor.Sensor, error) {
	d, err := NewDevice(ctx, deps, conf, logger, SimulatedTransceiver)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewDevice creates a Device driving the transceiver built by factory.
// This can be used by implementers of real radio drivers.
func NewDevice(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
	factory TransceiverFactory,
) (*Device, error) {
	d := &Device{
		Named:          conf.ResourceName().AsNamed(),
		logger:         logger,
		newTransceiver: factory,
	}

	if err := d.Reconfigure(ctx, deps, conf); err != nil {
		return nil, err
	}
	return d, nil
}

// Reconfigure reconfigures the device. The sigfox area survives reconfigure.
func (d *Device) Reconfigure(ctx context.Context, deps resource.Dependencies, conf resource.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return err
	}
	creds, err := parseCredentials(cfg)
	if err != nil {
		return err
	}
	encryption, err := sigfox.ParseEncryption(cfg.Encryption)
	if err != nil {
		return err
	}

	if d.started {
		if err := d.reset(ctx); err != nil {
			return err
		}
	}

	d.rstPin, d.pwrPin = nil, nil
	if cfg.BoardName != "" {
		if err := d.setupPins(ctx, deps, cfg); err != nil {
			return fmt.Errorf("error resetting the sigfox radio: %w", err)
		}
	}

	dataDir := os.Getenv("VIAM_MODULE_DATA")
	storage, err := d.openStorage(ctx, dataDir)
	if err != nil {
		return err
	}
	manager := nvm.NewManager(storage, nvm.DefaultLayout(), d.logger)
	outcome, err := manager.ResetIfNeeded(ctx, false)
	if err != nil {
		return multierr.Combine(err, closeStorage(storage))
	}
	d.logger.Debugf("sigfox nvm area check: %v", outcome)

	seq := nvmSeqStore{m: manager}
	transceiver, err := d.newTransceiver(seq, d.logger)
	if err != nil {
		return multierr.Combine(err, closeStorage(storage))
	}

	region := regions.GetRegion(cfg.RegionCode)
	caps := sigfox.Capabilities{
		CurrentRegion:   func() regions.Region { return region },
		DeviceID:        func() uint32 { return creds.deviceID },
		InitialPAC:      func() []byte { return creds.pac },
		DeviceKey:       func() types.AES128Key { return creds.key },
		CurrentSeqID:    seq.CurrentSeqID,
		SetCurrentSeqID: seq.SetCurrentSeqID,
		TxPower:         cfg.txPower,
		RunTimers:       d.tick,
	}
	controller := sigfox.NewController(transceiver, transceiver, sigfox.Config{Encryption: encryption}, d.logger)
	if _, err := controller.Setup(ctx, caps); err != nil {
		return multierr.Combine(err, closeStorage(storage))
	}

	decoderPath := cfg.DecoderPath
	if decoder.IsURL(decoderPath) {
		decoderPath, err = d.fetchDecoder(ctx, dataDir, decoderPath)
		if err != nil {
			_, tErr := controller.Teardown(ctx)
			return multierr.Combine(err, tErr, closeStorage(storage))
		}
	}

	d.storage = storage
	d.manager = manager
	d.transceiver = transceiver
	d.controller = controller
	d.caps = caps
	d.encryption = encryption
	d.region = region
	d.decoderPath = decoderPath

	interval := time.Duration(cfg.loopInterval()) * time.Millisecond
	d.worker = utils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		for {
			if !utils.SelectContextOrWait(ctx, interval) {
				return
			}
			controller.Loop()
		}
	})
	d.started = true
	return nil
}

func (d *Device) setupPins(ctx context.Context, deps resource.Dependencies, cfg *Config) error {
	b, err := board.FromDependencies(deps, cfg.BoardName)
	if err != nil {
		return err
	}
	rstPin, err := b.GPIOPinByName(cfg.ResetPin)
	if err != nil {
		return err
	}
	// not every radio has a power enable pin so it is optional.
	var pwrPin board.GPIOPin
	if cfg.PowerPin != "" {
		pwrPin, err = b.GPIOPinByName(cfg.PowerPin)
		if err != nil {
			return err
		}
	}
	if err := sfxhw.ResetRadio(ctx, rstPin, pwrPin); err != nil {
		return err
	}
	d.rstPin, d.pwrPin = rstPin, pwrPin
	return nil
}

// openStorage opens the eeprom emulation of this device, volatile when there is no data dir.
func (d *Device) openStorage(ctx context.Context, dataDir string) (nvm.Storage, error) {
	if dataDir == "" {
		d.logger.Warn("VIAM_MODULE_DATA is not set, the sigfox state will not survive a restart")
		return nvm.NewMemStorage(), nil
	}
	dir := filepath.Join(dataDir, d.Name().Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	storage, err := nvm.NewSqliteStorage(ctx, dir)
	if err != nil {
		return nil, err
	}
	return storage, nil
}

func closeStorage(storage nvm.Storage) error {
	if c, ok := storage.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (d *Device) fetchDecoder(ctx context.Context, dataDir, url string) (string, error) {
	if dataDir == "" {
		return "", errNoDataDir
	}
	client := &http.Client{Timeout: decoderDownloadTimeout}
	return decoder.FetchDecoder(ctx, dataDir, d.Name().Name+"-downlink.js", url, client, d.logger)
}

// tick runs from the controller loop.
func (d *Device) tick() {
	d.readingsMu.Lock()
	defer d.readingsMu.Unlock()
	d.loopTicks++
}

// Readings returns the state of the sigfox device and the last downlink.
func (d *Device) Readings(ctx context.Context, extra map[string]interface{}) (map[string]interface{}, error) {
	d.mu.Lock()
	controller := d.controller
	region := d.region
	d.mu.Unlock()
	if controller == nil {
		return map[string]interface{}{}, errNotStarted
	}

	d.readingsMu.Lock()
	uplinks := d.uplinks
	ticks := d.loopTicks
	lastDownlink := d.lastDownlink
	lastDecoded := d.lastDecoded
	d.readingsMu.Unlock()

	// Tell the collector not to capture the device state before anything was sent.
	if uplinks == 0 && extra[data.FromDMString] == true {
		return map[string]interface{}{}, data.ErrNoCaptureToStore
	}

	zone, err := controller.CurrentZone()
	if err != nil {
		return map[string]interface{}{}, err
	}
	power, err := controller.Power()
	if err != nil {
		return map[string]interface{}{}, err
	}
	speed, err := controller.Speed()
	if err != nil {
		return map[string]interface{}{}, err
	}
	rssi, err := controller.LastRSSI()
	if err != nil {
		return map[string]interface{}{}, err
	}
	last, err := controller.LastSeqID()
	if err != nil {
		return map[string]interface{}{}, err
	}
	next, err := controller.NextSeqID()
	if err != nil {
		return map[string]interface{}{}, err
	}
	version, err := controller.LibVersion()
	if err != nil {
		return map[string]interface{}{}, err
	}
	id, err := controller.DeviceID()
	if err != nil {
		return map[string]interface{}{}, err
	}

	readings := map[string]interface{}{
		"region":      region.String(),
		"zone":        zone.String(),
		"power_dbm":   int(power),
		"speed_bps":   int(speed),
		"rssi":        int(rssi),
		"last_seq_id": int(last),
		"next_seq_id": int(next),
		"lib_version": version,
		"device_id":   fmt.Sprintf("%08X", id),
		"uplinks":     uplinks,
		"loop_ticks":  ticks,
	}
	if lastDownlink != nil {
		readings["last_downlink"] = hex.EncodeToString(lastDownlink)
	}
	if lastDecoded != nil {
		readings["downlink"] = lastDecoded
	}
	return readings, nil
}

// Close stops the device. The sigfox area is kept.
func (d *Device) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return nil
	}
	return d.reset(ctx)
}

// reset must be called with the lock held.
func (d *Device) reset(ctx context.Context) error {
	if d.worker != nil {
		d.worker.Stop()
		d.worker = nil
	}
	var err error
	if d.controller != nil {
		_, tErr := d.controller.Teardown(ctx)
		err = multierr.Append(err, tErr)
	}
	if d.storage != nil {
		err = multierr.Append(err, closeStorage(d.storage))
	}
	if d.rstPin != nil {
		if rErr := sfxhw.ResetRadio(ctx, d.rstPin, d.pwrPin); rErr != nil {
			d.logger.Errorf("error resetting the sigfox radio: %v", rErr)
		}
	}
	d.controller = nil
	d.storage = nil
	d.manager = nil
	d.transceiver = nil
	d.started = false
	return err
}
