package main

import (
	"context"
	"fmt"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	youpi "youpi_arm"
)

type StatusCommand struct{}

func (c *StatusCommand) Execute(args []string) error {
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return nil
	})
}

type HomeCommand struct{}

func (c *HomeCommand) Execute(args []string) error {
	joints := make([]youpi.Joint, 0, len(args))
	for _, arg := range args {
		j, err := youpi.ParseJoint(arg)
		if err != nil {
			return err
		}
		joints = append(joints, j)
	}
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return mc.SeekOrigins(ctx, joints, timeout())
	})
}

type MoveCommand struct {
	Coupled bool `long:"coupled" description:"Keep downstream links at their orientation"`
}

func (c *MoveCommand) Execute(args []string) error {
	angles, err := parseAngles(args)
	if err != nil {
		return err
	}
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return mc.JointsMove(ctx, angles, &youpi.MoveOptions{Coupled: c.Coupled, Timeout: timeout()})
	})
}

type GotoCommand struct {
	Coupled bool `long:"coupled" description:"Angles are joint angles instead of motor angles"`
}

func (c *GotoCommand) Execute(args []string) error {
	angles, err := parseAngles(args)
	if err != nil {
		return err
	}
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return mc.JointsGoto(ctx, angles, &youpi.MoveOptions{Coupled: c.Coupled, Timeout: timeout()})
	})
}

type HandCommand struct {
	Absolute bool `long:"absolute" description:"Rotate to the angle instead of by it"`
}

func (c *HandCommand) Execute(args []string) error {
	values, err := parseFloats(args, 1, "ANGLE")
	if err != nil {
		return err
	}
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		o := &youpi.MoveOptions{Timeout: timeout()}
		if c.Absolute {
			return mc.RotateHandTo(ctx, values[0], o)
		}
		return mc.RotateHand(ctx, values[0], o)
	})
}

type ReachCommand struct {
	Hand float64 `long:"hand" description:"Hand rotation, in degrees"`
}

func (c *ReachCommand) Execute(args []string) error {
	values, err := parseFloats(args, 4, "X Y Z PITCH")
	if err != nil {
		return err
	}
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		pose, err := mc.Kinematics().IK(r3.Vector{X: values[0], Y: values[1], Z: values[2]}, values[3])
		if err != nil {
			return err
		}
		printJoints(pose)
		return mc.MoveToPose(ctx, pose, c.Hand, &youpi.MoveOptions{Timeout: timeout()})
	})
}

type GripperCommand struct{}

func (c *GripperCommand) Execute(args []string) error {
	if len(args) != 1 {
		return errors.New("expected open, close or calibrate")
	}
	var action func(ctx context.Context, mc *youpi.MotionCoordinator) error
	switch args[0] {
	case "open":
		action = func(ctx context.Context, mc *youpi.MotionCoordinator) error {
			return mc.OpenGripper(ctx, timeout())
		}
	case "close":
		action = func(ctx context.Context, mc *youpi.MotionCoordinator) error {
			return mc.CloseGripper(ctx, timeout())
		}
	case "calibrate":
		action = func(ctx context.Context, mc *youpi.MotionCoordinator) error {
			return mc.CalibrateGripper(ctx, timeout())
		}
	default:
		return errors.Errorf("unknown gripper action %q", args[0])
	}
	return withCoordinator(action)
}

type IKCommand struct{}

func (c *IKCommand) Execute(args []string) error {
	values, err := parseFloats(args, 4, "X Y Z PITCH")
	if err != nil {
		return err
	}
	cal, err := loadCalibration(&youpi.Config{CalibrationFile: opts.Calibration})
	if err != nil {
		return err
	}
	kin := youpi.NewKinematics(youpi.YoupiDimensions, cal, nil)
	pose, err := kin.IK(r3.Vector{X: values[0], Y: values[1], Z: values[2]}, values[3])
	if err != nil {
		return err
	}
	printJoints(pose)
	return nil
}

type DKCommand struct{}

func (c *DKCommand) Execute(args []string) error {
	values, err := parseFloats(args, 4, "BASE SHOULDER ELBOW WRIST")
	if err != nil {
		return err
	}
	cal, err := loadCalibration(&youpi.Config{CalibrationFile: opts.Calibration})
	if err != nil {
		return err
	}
	pose := [4]float64{values[0], values[1], values[2], values[3]}
	p := youpi.NewKinematics(youpi.YoupiDimensions, cal, nil).DK(pose)
	fmt.Printf("%s x=%.1f y=%.1f z=%.1f pitch=%.1f\n",
		headerStyle.Render("tip"), p.X, p.Y, p.Z, youpi.Pitch(pose))
	printApproach(pose)
	return nil
}

type RegistersCommand struct{}

func (c *RegistersCommand) Execute(args []string) error {
	if len(args) != 1 {
		return errors.New("expected a joint")
	}
	j, err := youpi.ParseJoint(args[0])
	if err != nil {
		return err
	}
	ctx := context.Background()
	mc, done, err := connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	regs, err := mc.Registers(ctx, j)
	if err != nil {
		return err
	}
	printRegisters(j, regs)
	return nil
}

type ReleaseCommand struct{}

func (c *ReleaseCommand) Execute(args []string) error {
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return mc.Release(ctx)
	})
}

type ShutdownCommand struct {
	Emergency bool `long:"emergency" description:"Skip opening the gripper"`
}

func (c *ShutdownCommand) Execute(args []string) error {
	return withCoordinator(func(ctx context.Context, mc *youpi.MotionCoordinator) error {
		return mc.Shutdown(ctx, c.Emergency)
	})
}
