package animacore

import (
	"context"
	"fmt"

	"github.com/shimmerlabs/animacore/internal/model"
)

// CommandType discriminates the command envelope's type field, one of the
// servo/scene/stepper/failsafe/telemetry/config operations the core
// exposes at its edge.
type CommandType string

const (
	CmdServo            CommandType = "servo"
	CmdScene            CommandType = "scene"
	CmdSceneStop        CommandType = "scene_stop"
	CmdStepperMove      CommandType = "stepper_move"
	CmdStepperHome      CommandType = "stepper_home"
	CmdStepperEnable    CommandType = "stepper_enable"
	CmdStepperDisable   CommandType = "stepper_disable"
	CmdEmergencyStop    CommandType = "emergency_stop"
	CmdEnableFailsafe   CommandType = "enable_failsafe"
	CmdDisableFailsafe  CommandType = "disable_failsafe"
	CmdGetTelemetry     CommandType = "get_telemetry"
	CmdGetSceneList     CommandType = "get_scene_list"
	CmdGetServoConfig   CommandType = "get_servo_config"
	CmdSetServoConfig   CommandType = "set_servo_config"
)

// Command is the decoded JSON envelope a transport-agnostic adapter (a
// websocket handler, a local gamepad bridge, a test harness) hands to
// Dispatch. Fields not relevant to Type are left at their zero value.
type Command struct {
	ID   string      `json:"id,omitempty"`
	Type CommandType `json:"type"`

	// servo
	Channel      string  `json:"channel,omitempty"`
	Position     uint16  `json:"position,omitempty"`
	Speed        *uint8  `json:"speed,omitempty"`
	Acceleration *uint8  `json:"acceleration,omitempty"`
	Priority     string  `json:"priority,omitempty"`

	// scene / scene_stop
	SceneName string `json:"scene_name,omitempty"`
	Replace   bool   `json:"replace,omitempty"`

	// stepper_move
	PositionCm *float64 `json:"position_cm,omitempty"`
	DistanceCm *float64 `json:"distance_cm,omitempty"`

	// set_servo_config
	Limits *model.ChannelLimits `json:"limits,omitempty"`
}

// Response is the dispatcher's reply to one Command. Exactly one of Result
// or Err is meaningful: the dispatcher attaches the offending message id
// and returns a structured error rather than translating it.
type Response struct {
	ID     string `json:"id,omitempty"`
	Result any    `json:"result,omitempty"`
	Err    *Error `json:"error,omitempty"`
}

func errResponse(id string, err error) Response {
	var ae *Error
	if e, ok := err.(*Error); ok {
		ae = e
	} else {
		ae = ClassifyWrap("dispatch", err)
	}
	return Response{ID: id, Err: ae}
}

func okResponse(id string, result any) Response {
	return Response{ID: id, Result: result}
}

func parsePriority(s string) model.Priority {
	switch s {
	case "background":
		return model.PriorityBackground
	case "high":
		return model.PriorityHigh
	case "emergency":
		return model.PriorityEmergency
	default:
		return model.PriorityNormal
	}
}

// Dispatch routes cmd to the owning component, after letting the safety
// supervisor's Gate implicitly authorize any write (each driver consults it
// itself; Dispatch never duplicates that check). It classifies whichever
// sentinel the component returned into the matching Code (ClassifyWrap/
// ClassifyWrapAt) rather than reinterpreting the failure itself, and lets
// the System's own subscribers observe any safety-critical condition
// independently via their broadcast channels.
func (s *System) Dispatch(ctx context.Context, cmd Command) Response {
	switch cmd.Type {
	case CmdServo:
		return s.dispatchServo(ctx, cmd)
	case CmdScene:
		return s.dispatchScene(ctx, cmd)
	case CmdSceneStop:
		if err := s.Scenes.Cancel("requested"); err != nil {
			return errResponse(cmd.ID, err)
		}
		return okResponse(cmd.ID, nil)
	case CmdStepperMove:
		return s.dispatchStepperMove(ctx, cmd)
	case CmdStepperHome:
		if err := s.Stepper.Home(ctx); err != nil {
			return errResponse(cmd.ID, err)
		}
		return okResponse(cmd.ID, nil)
	case CmdStepperEnable:
		if err := s.Stepper.SetEnabled(ctx, true); err != nil {
			return errResponse(cmd.ID, err)
		}
		return okResponse(cmd.ID, nil)
	case CmdStepperDisable:
		if err := s.Stepper.SetEnabled(ctx, false); err != nil {
			return errResponse(cmd.ID, err)
		}
		return okResponse(cmd.ID, nil)
	case CmdEmergencyStop:
		// Always reports success after halting actuators, even if some
		// commands were in flight.
		_ = s.Safety.RequestEmergencyStop(ctx, "operator command")
		return okResponse(cmd.ID, nil)
	case CmdEnableFailsafe:
		s.Safety.ForceFailsafe()
		return okResponse(cmd.ID, nil)
	case CmdDisableFailsafe:
		if err := s.Safety.ClearFailsafe(); err != nil {
			return errResponse(cmd.ID, err)
		}
		return okResponse(cmd.ID, nil)
	case CmdGetTelemetry:
		return okResponse(cmd.ID, s.Telemetry.Compose())
	case CmdGetSceneList:
		return okResponse(cmd.ID, s.SceneCatalog())
	case CmdGetServoConfig:
		return s.dispatchGetServoConfig(cmd)
	case CmdSetServoConfig:
		return s.dispatchSetServoConfig(cmd)
	default:
		return errResponse(cmd.ID, New("dispatch", CodeInvalidParameters, fmt.Sprintf("unknown command type %q", cmd.Type)))
	}
}

func (s *System) dispatchServo(ctx context.Context, cmd Command) Response {
	addr, err := model.ParseActuatorAddress(cmd.Channel)
	if err != nil {
		return errResponse(cmd.ID, NewAt("dispatch.servo", cmd.Channel, CodeInvalidParameters, err.Error()))
	}
	driver, ok := s.Servos[addr.Device]
	if !ok {
		return errResponse(cmd.ID, NewAt("dispatch.servo", cmd.Channel, CodeInvalidParameters, "unknown device"))
	}
	sc := model.ServoCommand{
		Address:      addr,
		TargetUs:     cmd.Position,
		Speed:        cmd.Speed,
		Acceleration: cmd.Acceleration,
		Priority:     parsePriority(cmd.Priority),
	}
	if err := driver.SetTarget(ctx, sc); err != nil {
		return errResponse(cmd.ID, ClassifyWrapAt("dispatch.servo", cmd.Channel, err))
	}
	return okResponse(cmd.ID, nil)
}

func (s *System) dispatchScene(ctx context.Context, cmd Command) Response {
	scene, ok := s.sceneByName(cmd.SceneName)
	if !ok {
		return errResponse(cmd.ID, NewAt("dispatch.scene", cmd.SceneName, CodeInvalidParameters, "unknown scene"))
	}
	if err := s.Scenes.Play(ctx, scene, cmd.Replace); err != nil {
		return errResponse(cmd.ID, ClassifyWrapAt("dispatch.scene", cmd.SceneName, err))
	}
	return okResponse(cmd.ID, nil)
}

func (s *System) dispatchStepperMove(ctx context.Context, cmd Command) Response {
	stepsPerCm := s.stepperSpec.ToModel().StepsPerCm()
	var targetSteps int64
	switch {
	case cmd.PositionCm != nil:
		targetSteps = int64(*cmd.PositionCm * stepsPerCm)
	case cmd.DistanceCm != nil:
		targetSteps = s.Stepper.Snapshot().PositionSteps + int64(*cmd.DistanceCm*stepsPerCm)
	default:
		return errResponse(cmd.ID, New("dispatch.stepper_move", CodeInvalidParameters, "position_cm or distance_cm required"))
	}
	if err := s.Stepper.MoveTo(ctx, targetSteps); err != nil {
		return errResponse(cmd.ID, ClassifyWrap("dispatch.stepper_move", err))
	}
	return okResponse(cmd.ID, nil)
}

func (s *System) dispatchGetServoConfig(cmd Command) Response {
	addr, err := model.ParseActuatorAddress(cmd.Channel)
	if err != nil {
		return errResponse(cmd.ID, NewAt("dispatch.get_servo_config", cmd.Channel, CodeInvalidParameters, err.Error()))
	}
	driver, ok := s.Servos[addr.Device]
	if !ok {
		return errResponse(cmd.ID, NewAt("dispatch.get_servo_config", cmd.Channel, CodeInvalidParameters, "unknown device"))
	}
	limits, ok := driver.Limits(addr.Channel)
	if !ok {
		return errResponse(cmd.ID, NewAt("dispatch.get_servo_config", cmd.Channel, CodeInvalidParameters, "unknown channel"))
	}
	return okResponse(cmd.ID, limits)
}

func (s *System) dispatchSetServoConfig(cmd Command) Response {
	if cmd.Limits == nil {
		return errResponse(cmd.ID, New("dispatch.set_servo_config", CodeInvalidParameters, "limits required"))
	}
	addr, err := model.ParseActuatorAddress(cmd.Channel)
	if err != nil {
		return errResponse(cmd.ID, NewAt("dispatch.set_servo_config", cmd.Channel, CodeInvalidParameters, err.Error()))
	}
	if !cmd.Limits.Valid() {
		return errResponse(cmd.ID, NewAt("dispatch.set_servo_config", cmd.Channel, CodeConfigInvalid, "invalid limits"))
	}
	driver, ok := s.Servos[addr.Device]
	if !ok {
		return errResponse(cmd.ID, NewAt("dispatch.set_servo_config", cmd.Channel, CodeInvalidParameters, "unknown device"))
	}
	driver.SetOneLimit(addr.Channel, *cmd.Limits)
	return okResponse(cmd.ID, nil)
}
