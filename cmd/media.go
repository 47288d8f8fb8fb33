package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cadencebot/cadence/internal/media"
)

func mediaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "media",
		Short: "Media inspection utilities",
	}
	cmd.AddCommand(mediaHashCmd())
	return cmd
}

// mediaHashCmd fingerprints local image files the way the index observer
// sees candidates, so an operator can check whether two sticker candidates
// are near-duplicates before requeueing a parked job.
func mediaHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <image> [image...]",
		Short: "Print perceptual fingerprints (and pairwise distances) of image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hashes := make([]uint64, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				h, err := media.FingerprintReader(f)
				f.Close()
				if err != nil {
					return fmt.Errorf("fingerprint %s: %w", path, err)
				}
				hashes = append(hashes, h)
				fmt.Printf("%016x  %s\n", h, path)
			}

			if len(hashes) > 1 {
				fmt.Println()
				for i := 0; i < len(hashes); i++ {
					for j := i + 1; j < len(hashes); j++ {
						d := media.HammingDistance(hashes[i], hashes[j])
						verdict := ""
						if d <= 5 {
							verdict = "  (likely same image)"
						}
						fmt.Printf("distance %s ↔ %s: %d%s\n", args[i], args[j], d, verdict)
					}
				}
			}
			return nil
		},
	}
}
