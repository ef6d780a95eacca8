// Package sensor implements the periodic analog sampler (C6): reads the
// voltage and two current channels from an I2C ADC at a fixed cadence,
// applies per-channel linear calibration, and exposes the latest readings
// through a single-producer/single-reader snapshot.
package sensor

import (
	"context"
	"fmt"

	"periph.io/x/periph/conn/i2c"

	"github.com/shimmerlabs/animacore/internal/model"
)

// ADC is the narrow capability interface the sampler reads through; it is
// satisfied by an I2CADC talking to real hardware or a FakeADC in tests,
// mirroring internal/gpio's Pin/FakePin split.
type ADC interface {
	ReadRaw(ctx context.Context, channel model.SensorChannel) (uint16, error)
}

// I2CADC drives an ADS1115-style ADC over periph.io's i2c.Dev: write the
// config register selecting the channel's input mux and start a single
// conversion, then read back the two-byte conversion register.
type I2CADC struct {
	dev *i2c.Dev
}

// NewI2CADC opens an I2CADC at addr on bus.
func NewI2CADC(bus i2c.Bus, addr uint16) *I2CADC {
	return &I2CADC{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

const (
	regConversion = 0x00
	regConfig     = 0x01

	// configBase starts a single-shot single-ended conversion at the
	// ±6.144 V range and 128 SPS; only the mux bits vary per channel.
	configBase = 0x8183
)

// muxForChannel returns the config register's input-mux select bits for one
// single-ended channel (AINx vs GND).
func muxForChannel(ch model.SensorChannel) (uint16, error) {
	switch ch {
	case model.ChannelVoltage:
		return 0x4000, nil // AIN0
	case model.ChannelCurrent1:
		return 0x5000, nil // AIN1
	case model.ChannelCurrent2:
		return 0x6000, nil // AIN2
	default:
		return 0, fmt.Errorf("sensor: unknown channel %v", ch)
	}
}

func (a *I2CADC) ReadRaw(ctx context.Context, ch model.SensorChannel) (uint16, error) {
	mux, err := muxForChannel(ch)
	if err != nil {
		return 0, err
	}
	cfg := configBase | mux
	write := []byte{regConfig, byte(cfg >> 8), byte(cfg)}
	if err := a.dev.Tx(write, nil); err != nil {
		return 0, fmt.Errorf("sensor: writing config register: %w", err)
	}

	read := make([]byte, 2)
	if err := a.dev.Tx([]byte{regConversion}, read); err != nil {
		return 0, fmt.Errorf("sensor: reading conversion register: %w", err)
	}
	return uint16(read[0])<<8 | uint16(read[1]), nil
}
