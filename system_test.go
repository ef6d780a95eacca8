package animacore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shimmerlabs/animacore/internal/audio"
	"github.com/shimmerlabs/animacore/internal/config"
	"github.com/shimmerlabs/animacore/internal/gpio"
	"github.com/shimmerlabs/animacore/internal/model"
)

func testBundle() config.Bundle {
	return config.Bundle{
		Hardware: config.HardwareConfig{
			SerialPort: "/dev/null",
			BaudRate:   9600,
			Stepper: config.StepperSpec{
				StepsPerRev:  200,
				LeadPitchMm:  8,
				MaxTravelCm:  50,
				HomingSps:    400,
				NormalSps:    1000,
				MaxSps:       2000,
				AccelSps2:    2000,
				StepPin:      "step",
				DirPin:       "dir",
				EnablePin:    "enable",
				LimitPin:     "limit",
				MaxHomeSteps: 100000,
				SoftMinSteps: 0,
				SoftMaxSteps: 50000,
			},
			VLow:                    10,
			IMax:                    5,
			FailsafeWithheldDevices: []string{"d2"},
		},
		Servo: config.ServoConfig{
			Channels: []config.ChannelSpec{
				{Device: "d1", Channel: 0, Name: "eye_left", MinUs: 1000, MaxUs: 2000, HomeUs: 1500},
				{Device: "d2", Channel: 0, Name: "arm_right", MinUs: 1000, MaxUs: 2000, HomeUs: 1500},
			},
		},
		Scenes: config.SceneCatalog{
			Scenes: []config.SceneSpec{
				{
					Name:      "greeting",
					DurationS: 1,
					ServoMoves: map[string]model.SceneMove{
						"d1_ch0": {TargetUs: 1800},
					},
				},
			},
		},
	}
}

func testDependencies() Dependencies {
	return Dependencies{
		Transport: NewMockSerial(),
		GPIO:      NewMockGPIOBank(),
		ADC:       NewMockADC(),
		Audio:     audio.Config{ClipsDir: "/tmp/clips"},
	}
}

func TestNewSystemWiresEveryComponent(t *testing.T) {
	sys, err := NewSystem("/tmp/config", testBundle(), testDependencies())
	require.NoError(t, err)
	assert.NotNil(t, sys.Scheduler)
	assert.NotNil(t, sys.Stepper)
	assert.NotNil(t, sys.Sensors)
	assert.NotNil(t, sys.Safety)
	assert.NotNil(t, sys.Audio)
	assert.NotNil(t, sys.Scenes)
	assert.NotNil(t, sys.Telemetry)
	assert.NotNil(t, sys.Metrics)
	assert.Len(t, sys.Servos, 2)
	_, ok := sys.SceneCatalog()["greeting"]
	assert.True(t, ok, "expected the greeting scene to be loaded")
}

func TestSystemStartStop(t *testing.T) {
	sys, err := NewSystem("/tmp/config", testBundle(), testDependencies())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sys.Start(ctx)
	sys.Stop()
}

func TestReloadRejectsHardwareConfig(t *testing.T) {
	sys, err := NewSystem("/tmp/config", testBundle(), testDependencies())
	require.NoError(t, err)
	assert.Error(t, sys.Reload("hardware_config.json", "/tmp/config"))
}

func TestReloadUnknownFile(t *testing.T) {
	sys, err := NewSystem("/tmp/config", testBundle(), testDependencies())
	require.NoError(t, err)
	assert.Error(t, sys.Reload("nonsense.json", "/tmp/config"))
}

func TestFailsafeWithholdsConfiguredDeviceAndDisablesStepper(t *testing.T) {
	deps := testDependencies()
	sys, err := NewSystem("/tmp/config", testBundle(), deps)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sys.Scheduler.Start(ctx)
	defer sys.Scheduler.Stop()
	sys.Stepper.Start(ctx)
	defer sys.Stepper.StopLoop()

	require.NoError(t, sys.Stepper.SetEnabled(ctx, true))
	enablePin, err := deps.GPIO.Pin("enable")
	require.NoError(t, err)
	lvl, err := enablePin.Read()
	require.NoError(t, err)
	require.Equal(t, gpio.High, lvl)

	sys.Safety.ForceFailsafe()

	lvl, err = enablePin.Read()
	require.NoError(t, err)
	assert.Equal(t, gpio.Low, lvl, "stepper enable pin should be forced low on failsafe entry")

	err = sys.Servos[model.DeviceD2].SetTarget(ctx, model.ServoCommand{
		Address:  model.ActuatorAddress{Device: model.DeviceD2, Channel: 0},
		TargetUs: 1600,
		Priority: model.PriorityNormal,
	})
	assert.Error(t, err, "the configured withheld device should reject writes in failsafe")

	err = sys.Servos[model.DeviceD1].SetTarget(ctx, model.ServoCommand{
		Address:  model.ActuatorAddress{Device: model.DeviceD1, Channel: 0},
		TargetUs: 1600,
		Priority: model.PriorityNormal,
	})
	assert.NoError(t, err, "a device not listed in failsafe_withheld_devices should stay commandable")
}
