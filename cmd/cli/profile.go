package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/viam-modules/sigfox/device"
	"gopkg.in/yaml.v2"
)

var errNoUplinks = errors.New("profile has no uplinks")

// Profile describes a simulated device and the uplinks it sends.
type Profile struct {
	Name    string        `yaml:"name"`
	DataDir string        `yaml:"dataDir"`
	Device  DeviceProfile `yaml:"device"`
	Uplinks []Uplink      `yaml:"uplinks"`
}

// DeviceProfile holds the device attributes.
type DeviceProfile struct {
	Region      string `yaml:"region"`
	DeviceID    string `yaml:"deviceId"`
	PAC         string `yaml:"pac"`
	DeviceKey   string `yaml:"deviceKey"`
	TxPower     *int   `yaml:"txPower"`
	Encryption  string `yaml:"encryption"`
	DecoderPath string `yaml:"decoderPath"`
}

// Uplink is one send_frame, send_bit or send_oob call.
type Uplink struct {
	Payload  string `yaml:"payload"`
	Bit      *bool  `yaml:"bit"`
	OOB      string `yaml:"oob"`
	Repeat   *int   `yaml:"repeat"`
	Ack      bool   `yaml:"ack"`
	Downlink string `yaml:"downlink"` // queued before the uplink is sent
}

func loadProfile(path string) (*Profile, error) {
	//nolint:gosec
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	p := &Profile{Name: "sigfox-cli"}
	if err := yaml.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	if len(p.Uplinks) == 0 {
		return nil, errNoUplinks
	}
	if _, err := p.config().Validate(""); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Profile) config() *device.Config {
	return &device.Config{
		RegionCode:  p.Device.Region,
		DeviceID:    p.Device.DeviceID,
		PAC:         p.Device.PAC,
		DeviceKey:   p.Device.DeviceKey,
		TxPower:     p.Device.TxPower,
		Encryption:  p.Device.Encryption,
		DecoderPath: p.Device.DecoderPath,
	}
}

// command turns the uplink into a DoCommand request.
func (u Uplink) command() map[string]interface{} {
	args := map[string]interface{}{"ack": u.Ack}
	if u.Repeat != nil {
		args["repeat"] = *u.Repeat
	}
	cmd := map[string]interface{}{}
	if u.Downlink != "" {
		cmd[device.QueueDownlinkKey] = u.Downlink
	}
	switch {
	case u.OOB != "":
		args["kind"] = u.OOB
		cmd[device.SendOOBKey] = args
	case u.Bit != nil:
		args["value"] = *u.Bit
		cmd[device.SendBitKey] = args
	default:
		args["payload"] = u.Payload
		cmd[device.SendFrameKey] = args
	}
	return cmd
}
