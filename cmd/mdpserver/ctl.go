package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-mdp/pkg/client"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/geom"
)

const requestTimeout = 10 * time.Second

func newClient() *client.Client {
	return client.New(serverURL)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// parseFloats parses up to three coordinates. Missing ones are zero.
func parseFloats(args []string) (geom.Vector3, error) {
	var v [3]float64
	if len(args) > 3 {
		return geom.Vector3{}, fmt.Errorf("expected at most 3 coordinates, got %d", len(args))
	}
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return geom.Vector3{}, fmt.Errorf("coordinate %d: %w", i, err)
		}
		v[i] = f
	}
	return geom.FromArray(v), nil
}

func robotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "robots",
		Short: "List robots with their state and pose",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			snaps, err := newClient().Robots(ctx)
			if err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Println("No robots registered")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tPOSITION\tYAW\tPENDING\tSAMPLES")
			for _, s := range snaps {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%.1f\t%d\t%s\n",
					s.ID, s.Name, s.State, s.Pose.Position, s.Pose.Yaw, s.Pending, humanize.Comma(int64(s.Samples)))
			}
			return w.Flush()
		},
	}
}

func addCmd() *cobra.Command {
	var typ string
	cmd := &cobra.Command{
		Use:   "add <tag> [x y z]",
		Short: "Register a robot",
		Args:  cobra.RangeArgs(1, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			spawn, err := parseFloats(args[1:])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			id, err := newClient().AddRobot(ctx, args[0], typ, spawn)
			if err != nil {
				return err
			}
			fmt.Printf("✅ Added %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Driver type (default: from tag prefix)")
	return cmd
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <robot>",
		Short: "Unregister a robot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			c := newClient()
			id, err := c.ParseID(ctx, args[0])
			if err != nil {
				return err
			}
			if err := c.RemoveRobot(ctx, id); err != nil {
				return err
			}
			fmt.Printf("🗑️  Removed robot %d\n", id)
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		yaw      float64
		duration float64
		relXY    bool
		relZ     bool
		wait     bool
	)
	cmd := &cobra.Command{
		Use:   "send <robot> <kind> [x y z]",
		Short: "Send a command to a robot",
		Long: `Send one command. Kinds: velocity, position, takeoff, land, hover,
emergency, set_home, goto_home. For takeoff and goto_home the height is
passed as the z coordinate.`,
		Args: cobra.RangeArgs(2, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := parseFloats(args[2:])
			if err != nil {
				return err
			}
			ctx, cancel := requestContext()
			defer cancel()
			c := newClient()
			id, err := c.ParseID(ctx, args[0])
			if err != nil {
				return err
			}
			cmdv, err := command.FromWire(command.Wire{
				Target:   id,
				Kind:     args[1],
				PosVel:   vec.Array(),
				Yaw:      yaw,
				Duration: duration,
				Relative: command.EncodeRelative(relXY, relZ),
			})
			if err != nil {
				return err
			}
			cmdID, err := c.Send(ctx, cmdv)
			if err != nil {
				return err
			}
			fmt.Printf("📨 %s -> robot %d (%s)\n", cmdv.Kind, id, cmdID)
			if !wait {
				return nil
			}
			return waitIdle(c, id)
		},
	}
	cmd.Flags().Float64Var(&yaw, "yaw", 0, "Yaw in degrees, or yaw rate in deg/s for velocity")
	cmd.Flags().Float64VarP(&duration, "duration", "d", 0, "Duration in seconds (0 for the default)")
	cmd.Flags().BoolVar(&relXY, "rel-xy", false, "x and y are relative to the current position")
	cmd.Flags().BoolVar(&relZ, "rel-z", false, "z is relative to the current position")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the robot is idle")
	return cmd
}

func waitCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <robot>",
		Short: "Block until a robot hovers or rests with nothing queued",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			c := newClient()
			id, err := c.ParseID(ctx, args[0])
			if err != nil {
				return err
			}
			return waitIdleFor(c, id, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "Give up after this long")
	return cmd
}

func waitIdle(c *client.Client, id uint32) error {
	return waitIdleFor(c, id, time.Minute)
}

func waitIdleFor(c *client.Client, id uint32, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	if err := c.SleepUntilIdle(ctx, id); err != nil {
		return err
	}
	st, err := c.State(ctx, id)
	if err != nil {
		return err
	}
	fmt.Printf("⏸️  Robot %d is %s after %s\n", id, st, time.Since(start).Round(10*time.Millisecond))
	return nil
}

func timeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "time",
		Short: "Show control loop frequencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			st, err := newClient().Timings(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Desired rate:   %s\n", humanize.SIWithDigits(st.DesiredHz, 2, "Hz"))
			fmt.Printf("Achieved rate:  %s\n", humanize.SIWithDigits(st.AchievedHz, 2, "Hz"))
			fmt.Printf("Mocap rate:     %s\n", humanize.SIWithDigits(st.MocapHz, 2, "Hz"))
			fmt.Printf("Update time:    %s (%s per robot)\n", st.UpdateTime, st.PerRobotUpdate)
			fmt.Printf("Wait per frame: %s\n", st.WaitTime)
			fmt.Printf("Ticks:          %s (%s overruns)\n", humanize.Comma(int64(st.Ticks)), humanize.Comma(int64(st.Overruns)))
			fmt.Printf("Robots:         %d\n", st.Robots)
			return nil
		},
	}
}

func rateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rate <hz>",
		Short: "Change the control loop rate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hz, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("rate: %w", err)
			}
			ctx, cancel := requestContext()
			defer cancel()
			if err := newClient().SetUpdateRate(ctx, hz); err != nil {
				return err
			}
			fmt.Printf("✅ Rate set to %s\n", humanize.SIWithDigits(hz, 2, "Hz"))
			return nil
		},
	}
}

func emergencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "emergency [robot]",
		Short: "Emergency stop one robot, or the whole fleet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			c := newClient()
			if len(args) == 0 {
				n, err := c.EmergencyAll(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("🚨 Emergency stop sent to %d robots\n", n)
				return nil
			}
			id, err := c.ParseID(ctx, args[0])
			if err != nil {
				return err
			}
			if err := c.Emergency(ctx, id); err != nil {
				return err
			}
			fmt.Printf("🚨 Emergency stop sent to robot %d\n", id)
			return nil
		},
	}
}

func shutdownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Land the fleet and stop the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := requestContext()
			defer cancel()
			if err := newClient().Shutdown(ctx); err != nil {
				return err
			}
			fmt.Println("🛬 Shutdown requested")
			return nil
		},
	}
}
