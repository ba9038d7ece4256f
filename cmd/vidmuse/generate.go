package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hua2014/VidMuse/internal/audio"
	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/video"
)

func newGenerateCmd() *cobra.Command {
	var descriptions []string
	var featurePath string
	var continuePath string
	var out string
	var fps float64
	var quiet bool

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate music conditioned on text and video features",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if len(descriptions) == 0 {
				return fmt.Errorf("at least one --description is required")
			}

			var opts []music.Option
			if !quiet {
				opts = append(opts, music.WithProgress(stderrProgress()))
			}

			session, closeSession, err := openSession(cfg, opts...)
			if err != nil {
				return err
			}
			defer closeSession()

			var cond *music.VideoConditioning

			if featurePath != "" {
				cond, err = video.LoadConditioning(featurePath, fps)
				if err != nil {
					return err
				}
			}

			var wav *tensor.Tensor

			if continuePath != "" {
				prompt, promptRate, err := readPromptWAV(continuePath)
				if err != nil {
					return err
				}

				wav, err = session.GenerateContinuation(cmd.Context(), prompt, promptRate, descriptions, cond)
				if err != nil {
					return err
				}
			} else {
				wav, err = session.Generate(cmd.Context(), descriptions, cond)
				if err != nil {
					return err
				}
			}

			if !quiet {
				_, _ = fmt.Fprintln(os.Stderr)
			}

			data, err := audio.EncodeWAV(wav.Data())
			if err != nil {
				return err
			}

			return writeOutput(out, data, os.Stdout)
		},
	}

	cmd.Flags().StringArrayVar(&descriptions, "description", nil, "Text description per sample (repeatable)")
	cmd.Flags().StringVar(&featurePath, "features", "", "Video feature bundle (.safetensors)")
	cmd.Flags().StringVar(&continuePath, "continue", "", "WAV prompt to continue from")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().Float64Var(&fps, "fps", 0, "Video feature frame rate (0 selects the model default)")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress progress output")

	return cmd
}

// stderrProgress returns a progress observer that rewrites a single stderr
// line with the overall token count.
func stderrProgress() music.ProgressFunc {
	return func(generated, total int) {
		_, _ = fmt.Fprintf(os.Stderr, "\rgenerated %d/%d tokens", generated, total)
	}
}

// readPromptWAV loads a continuation prompt as a [1, C, T] waveform tensor.
func readPromptWAV(path string) (*tensor.Tensor, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("read prompt: %w", err)
	}

	samples, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode prompt: %w", err)
	}

	if channels <= 0 || len(samples)%channels != 0 {
		return nil, 0, fmt.Errorf("prompt has %d samples across %d channels", len(samples), channels)
	}

	// Deinterleave into planar channel rows.
	frames := len(samples) / channels
	planar := make([]float32, len(samples))

	for c := range channels {
		for t := range frames {
			planar[c*frames+t] = samples[t*channels+c]
		}
	}

	prompt, err := tensor.New(planar, []int64{1, int64(channels), int64(frames)})
	if err != nil {
		return nil, 0, err
	}

	return prompt, rate, nil
}

func writeOutput(outPath string, data []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}
