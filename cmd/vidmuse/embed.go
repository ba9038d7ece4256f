package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hua2014/VidMuse/internal/video"
)

func newEmbedCmd() *cobra.Command {
	var featurePath string
	var out string
	var fps float64

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Compute a video embedding without generating audio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if featurePath == "" {
				return fmt.Errorf("--features is required")
			}

			session, closeSession, err := openSession(cfg)
			if err != nil {
				return err
			}
			defer closeSession()

			cond, err := video.LoadConditioning(featurePath, fps)
			if err != nil {
				return err
			}

			emb, err := session.GenerateVideoEmbedding(cmd.Context(), cond)
			if err != nil {
				return err
			}

			return video.SaveEmbedding(out, emb)
		},
	}

	cmd.Flags().StringVar(&featurePath, "features", "", "Video feature bundle (.safetensors)")
	cmd.Flags().StringVar(&out, "out", "embedding.safetensors", "Output embedding path")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Video feature frame rate (0 selects the model default)")

	return cmd
}
