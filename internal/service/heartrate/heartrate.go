// Package heartrate is a sample peer profile: a heart rate sensor that
// streams measurements once notifications are on and the sensor has been
// told to start.
package heartrate

import (
	"encoding/binary"
	"fmt"

	log "github.com/sirupsen/logrus"

	"bleq/internal/connection"
	"bleq/internal/transport"
)

// const ...
const (
	MeasurementChar  = "hr_measurement"
	ControlPointChar = "hr_control_point"
	SensorLocation   = "body_sensor_location"

	// resetEnergyExpended is the only control point command the
	// heart rate service defines.
	resetEnergyExpended byte = 0x01
)

const (
	flagUint16Value     = 0x01
	flagEnergyExpended  = 0x08
	flagRRIntervals     = 0x10
	rrIntervalPerSecond = 1024
)

// Measurement is a decoded heart rate measurement.
type Measurement struct {
	BPM            uint16    `json:"bpm" yaml:"bpm"`
	EnergyExpended *uint16   `json:"energy_expended,omitempty" yaml:"energy_expended,omitempty"`
	RRIntervals    []float64 `json:"rr_intervals,omitempty" yaml:"rr_intervals,omitempty"`
}

// Svc ...
type Svc struct {
	resetEnergy bool
}

// Profile returns the steps bringing a sensor to READY: subscribe to
// measurements, read the sensor location and optionally reset the energy
// counter.
func (s *Svc) Profile() connection.Profile {
	steps := []transport.Request{
		{Op: transport.OpRead, Characteristic: SensorLocation},
	}
	if s.resetEnergy {
		steps = append(steps, transport.Request{
			Op:             transport.OpWrite,
			Characteristic: ControlPointChar,
			Data:           []byte{resetEnergyExpended},
		})
	}
	return connection.Profile{
		Notifications: []string{MeasurementChar},
		Steps:         steps,
	}
}

// ParseMeasurement decodes a heart rate measurement payload.
func (s *Svc) ParseMeasurement(payload []byte) (Measurement, error) {
	if len(payload) < 2 {
		return Measurement{}, fmt.Errorf("measurement too short: %d bytes", len(payload))
	}
	flags := payload[0]
	rest := payload[1:]

	var m Measurement
	if flags&flagUint16Value != 0 {
		if len(rest) < 2 {
			return Measurement{}, fmt.Errorf("measurement truncated in 16-bit value")
		}
		m.BPM = binary.LittleEndian.Uint16(rest)
		rest = rest[2:]
	} else {
		m.BPM = uint16(rest[0])
		rest = rest[1:]
	}

	if flags&flagEnergyExpended != 0 {
		if len(rest) < 2 {
			return Measurement{}, fmt.Errorf("measurement truncated in energy expended")
		}
		energy := binary.LittleEndian.Uint16(rest)
		m.EnergyExpended = &energy
		rest = rest[2:]
	}

	if flags&flagRRIntervals != 0 {
		if len(rest)%2 != 0 {
			return Measurement{}, fmt.Errorf("measurement has odd rr-interval length %d", len(rest))
		}
		for ; len(rest) >= 2; rest = rest[2:] {
			m.RRIntervals = append(m.RRIntervals, float64(binary.LittleEndian.Uint16(rest))/rrIntervalPerSecond)
		}
	}

	log.WithField("bpm", m.BPM).Debug("Parsed heart rate measurement")
	return m, nil
}

// NewHeartRateSvc ...
func NewHeartRateSvc(resetEnergy bool) *Svc {
	return &Svc{resetEnergy: resetEnergy}
}
