package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"globaltable/internal/codec"
)

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode a frame stream, envelope, event, instruction or round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(args[0]), "0x"))
			if err != nil {
				return fmt.Errorf("invalid hex: %w", err)
			}
			return decode(cmd.OutOrStdout(), b)
		},
	}
}

// decode tries each top-level message layout in turn and prints the first
// that consumes the whole input.
func decode(w io.Writer, b []byte) error {
	if frames, err := codec.SplitFrames(b, codec.SubsystemGlobalTable); err == nil && len(frames) > 0 {
		ins, err := codec.DecodeInstructionFrames(b)
		if err != nil {
			return err
		}
		for i, in := range ins {
			fmt.Fprintf(w, "frame %d: %s %+v\n", i, in.Tag(), in)
		}
		return nil
	}
	if env, err := codec.DecodeEnvelope(b); err == nil {
		if env.Kind == codec.EnvelopeHeartbeat {
			fmt.Fprintf(w, "heartbeat height=%d view=%d game=%s paused=%t reason=%q\n",
				env.Progress.Height, env.Progress.View, env.Game, env.Paused, env.Reason)
			return nil
		}
		fmt.Fprintf(w, "envelope kind=%d height=%d view=%d events=%d\n",
			env.Kind, env.Progress.Height, env.Progress.View, len(env.Events))
		for i, ev := range env.Events {
			fmt.Fprintf(w, "  %d: %s %+v\n", i, ev.EventTag(), ev)
		}
		return nil
	}
	if ev, err := codec.DecodeEvent(b); err == nil {
		fmt.Fprintf(w, "event %s: %+v\n", ev.EventTag(), ev)
		return nil
	}
	if in, err := codec.DecodeInstruction(b); err == nil {
		fmt.Fprintf(w, "instruction %s: %+v\n", in.Tag(), in)
		return nil
	}
	r, err := codec.DecodeRound(b)
	if err != nil {
		return fmt.Errorf("not a frame stream, envelope, event, instruction or round: %w", err)
	}
	fmt.Fprintf(w, "round %d %s %s phaseEndsAt=%d outcome=%+v\n", r.RoundID, r.GameType, r.Phase, r.PhaseEndsAt, r.Outcome)
	return nil
}
