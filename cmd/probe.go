package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/ptzrec/internal/app"
	"github.com/smazurov/ptzrec/internal/camera"
	"github.com/smazurov/ptzrec/internal/logging"
)

// CreateProbeCmd creates the probe command, which lists the tracks a stream
// tier announces.
func CreateProbeCmd() *cobra.Command {
	var tier string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Describe a camera stream and list its tracks",
		Args:  cobra.NoArgs,
		Run: humacli.WithOptions(func(_ *cobra.Command, _ []string, opts *app.Options) {
			logger := logging.GetLogger("probe")

			t, err := camera.ParseTier(tier)
			if err != nil {
				logger.Error("Invalid tier", "error", err)
				os.Exit(2)
			}

			a, err := app.Build(opts)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			ep, err := a.Camera.ResolveStreamEndpoint(t)
			if err != nil {
				logger.Error("Cannot resolve endpoint", "error", err)
				os.Exit(1)
			}

			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()

			var tracks []camera.Track
			err = a.Slot.Hold(camera.ProbeSlotHolder, func() error {
				var probeErr error
				tracks, probeErr = a.Camera.Probe(ctx, ep)
				return probeErr
			})
			if err != nil {
				logger.Error("Probe failed", "endpoint", ep.Redacted(), "error", err)
				os.Exit(1)
			}
			fmt.Print(formatTracks(ep, tracks))
		}),
	}

	cmd.Flags().StringVar(&tier, "tier", "primary", "Stream tier to probe (primary, secondary)")

	return cmd
}

func formatTracks(ep camera.Endpoint, tracks []camera.Track) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", ep.Redacted(), ep.Tier)
	if len(tracks) == 0 {
		b.WriteString("  no tracks\n")
	}
	for i, tr := range tracks {
		fmt.Fprintf(&b, "  #%d %s %s\n", i, tr.Kind, strings.Join(tr.Codecs, ","))
	}
	return b.String()
}
