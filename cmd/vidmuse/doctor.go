package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hua2014/VidMuse/internal/doctor"
)

func newDoctorCmd() *cobra.Command {
	var featurePaths []string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime and model checks",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			result := doctor.Run(doctor.Config{
				ORTLibraryPath: cfg.Runtime.ORTLibraryPath,
				ManifestPath:   cfg.Paths.ONNXManifest,
				FeaturePaths:   featurePaths,
			}, os.Stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(os.Stderr, "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(os.Stdout, "doctor checks passed")

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&featurePaths, "features", nil, "Video feature bundle to verify (repeatable)")

	return cmd
}
