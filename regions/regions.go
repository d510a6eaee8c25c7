// Package regions defines regional information
package regions

import (
	"errors"
	"strings"
)

// ErrUnsupportedZone is returned when defaults are requested for a zone that has none.
var ErrUnsupportedZone = errors.New("radio configuration zone is not supported")

// Region represents the regulatory region the device operates in.
type Region int

const (
	// Unspecified represents an unspecified region.
	Unspecified Region = iota
	// EU868 represents the European 868MHz band.
	EU868
	// MEA868 represents the Middle East and Africa 868MHz band.
	MEA868
	// US915 represents the North American 915MHz band.
	US915
	// SA915 represents the South American 915MHz band.
	SA915
	// JP923 represents the Japanese 923MHz band.
	JP923
	// AU915 represents the Australian 915MHz band.
	AU915
	// SA920 represents the South American 920MHz band.
	SA920
	// AP920 represents the Asia Pacific 920MHz band.
	AP920
	// KR920 represents the Korean 920MHz band.
	KR920
	// IN865 represents the Indian 865MHz band.
	IN865
)

var regionNames = map[Region]string{
	Unspecified: "unspecified",
	EU868:       "EU868",
	MEA868:      "MEA868",
	US915:       "US915",
	SA915:       "SA915",
	JP923:       "JP923",
	AU915:       "AU915",
	SA920:       "SA920",
	AP920:       "AP920",
	KR920:       "KR920",
	IN865:       "IN865",
}

func (r Region) String() string {
	if name, ok := regionNames[r]; ok {
		return name
	}
	return "unknown"
}

// Zone is a sigfox radio configuration zone (RC).
type Zone uint8

const (
	// ZoneUnsupported is never a valid operating zone.
	ZoneUnsupported Zone = iota
	// Zone1 is RC1.
	Zone1
	// Zone2 is RC2.
	Zone2
	// Zone3C is RC3c.
	Zone3C
	// Zone4 is RC4.
	Zone4
	// Zone5 is RC5.
	Zone5
)

func (z Zone) String() string {
	switch z {
	case Zone1:
		return "RC1"
	case Zone2:
		return "RC2"
	case Zone3C:
		return "RC3C"
	case Zone4:
		return "RC4"
	case Zone5:
		return "RC5"
	default:
		return "unsupported"
	}
}

// Valid reports whether the zone has defaults and can be operated in.
func (z Zone) Valid() bool {
	_, ok := zoneInfos[z]
	return ok
}

// Speed is an uplink modulation bit rate in bps.
type Speed uint16

const (
	// SpeedDefault asks for the zone default.
	SpeedDefault Speed = 0
	// Speed100 is 100bps DBPSK.
	Speed100 Speed = 100
	// Speed600 is 600bps DBPSK.
	Speed600 Speed = 600
)

// ZoneInfo holds the default transmit parameters of a zone.
type ZoneInfo struct {
	Power int8
	Speed Speed
}

// regionZones maps every supported region to its zone.
// IN865 would be RC6, which the radio stack does not support yet.
var regionZones = map[Region]Zone{
	EU868:  Zone1,
	MEA868: Zone1,
	US915:  Zone2,
	SA915:  Zone2,
	JP923:  Zone3C, // RC3a may be the better fit
	AU915:  Zone4,
	SA920:  Zone4,
	AP920:  Zone4,
	KR920:  Zone5,
}

var zoneInfos = map[Zone]ZoneInfo{
	Zone1:  {Power: 14, Speed: Speed100},
	Zone2:  {Power: 24, Speed: Speed600},
	Zone3C: {Power: 16, Speed: Speed100},
	Zone4:  {Power: 24, Speed: Speed600},
	Zone5:  {Power: 14, Speed: Speed100},
}

// ZoneForRegion returns the zone of a region, ZoneUnsupported if it has none.
func ZoneForRegion(region Region) Zone {
	if zone, ok := regionZones[region]; ok {
		return zone
	}
	return ZoneUnsupported
}

// ZoneDefaults returns the default transmit parameters of a zone.
func ZoneDefaults(zone Zone) (ZoneInfo, error) {
	info, ok := zoneInfos[zone]
	if !ok {
		return ZoneInfo{}, ErrUnsupportedZone
	}
	return info, nil
}

// DefaultPower returns the default transmit power of a zone.
func DefaultPower(zone Zone) (int8, error) {
	info, err := ZoneDefaults(zone)
	if err != nil {
		return 0, err
	}
	return info.Power, nil
}

// DefaultSpeed returns the default uplink speed of a zone.
func DefaultSpeed(zone Zone) (Speed, error) {
	info, err := ZoneDefaults(zone)
	if err != nil {
		return SpeedDefault, err
	}
	return info.Speed, nil
}

// GetRegion returns the region.
func GetRegion(region string) Region {
	region = strings.ToUpper(region)
	switch region {
	case "EU", "EU868", "868":
		return EU868
	case "MEA", "MEA868":
		return MEA868
	case "US", "US915", "915":
		return US915
	case "SA915":
		return SA915
	case "JP", "JP923", "923":
		return JP923
	case "AU", "AU915":
		return AU915
	case "SA920":
		return SA920
	case "AP", "AP920":
		return AP920
	case "KR", "KR920":
		return KR920
	case "IN", "IN865", "865":
		return IN865
	default:
		return Unspecified
	}
}
