package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/camera"
)

func (a *app) probeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <source>",
		Short: "Check that a camera source delivers a frame",
		Long: `probe grabs a single frame from source. A bare number selects /dev/videoN;
files, device paths, rtsp:// and http:// URLs are passed to ffmpeg.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opener := &camera.FFmpegOpener{Width: a.cfg.Camera.FrameWidth}
			if err := opener.Probe(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
			return nil
		},
	}
}
