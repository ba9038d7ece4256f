package music

import "fmt"

// Params holds the generation parameters for one session. The struct is a
// value: sessions hold it read-only and derive new sessions instead of
// mutating it mid-call, so no state can leak between generation calls.
type Params struct {
	// UseSampling selects sampling over argmax decoding.
	UseSampling bool
	// TopK restricts sampling to the k most likely tokens.
	TopK int
	// TopP enables nucleus sampling when nonzero; it takes precedence over
	// TopK.
	TopP float64
	// Temperature is the softmax temperature.
	Temperature float64
	// Duration is the length of the generated waveform in seconds.
	Duration float64
	// CFGCoef is the classifier-free-guidance coefficient.
	CFGCoef float64
	// TwoStepCFG performs two forward passes for guidance instead of one
	// batched pass.
	TwoStepCFG bool
	// ExtendStride is how many seconds of new audio each chunk commits when
	// generating beyond the decoder context. Larger values preserve less
	// context; it must stay below the decoder's maximum duration.
	ExtendStride float64
}

// DefaultParams mirrors the model's published generation defaults.
func DefaultParams() Params {
	return Params{
		UseSampling:  true,
		TopK:         250,
		TopP:         0,
		Temperature:  1.0,
		Duration:     30.0,
		CFGCoef:      3.0,
		TwoStepCFG:   false,
		ExtendStride: 29.5,
	}
}

// Validate checks the parameter combination against the decoder's maximum
// context duration. Violations are configuration errors and are reported
// here, at parameter-set time, never during generation.
func (p Params) Validate(maxDuration float64) error {
	if p.Duration <= 0 {
		return fmt.Errorf("%w: duration %.3fs must be positive", ErrConfiguration, p.Duration)
	}

	if p.ExtendStride <= 0 {
		return fmt.Errorf("%w: extend stride %.3fs must be positive", ErrConfiguration, p.ExtendStride)
	}

	if p.ExtendStride >= maxDuration {
		return fmt.Errorf(
			"%w: cannot stride by %.3fs, more than the max generation duration %.3fs",
			ErrConfiguration, p.ExtendStride, maxDuration,
		)
	}

	if p.Temperature <= 0 {
		return fmt.Errorf("%w: temperature %.3f must be positive", ErrConfiguration, p.Temperature)
	}

	return nil
}

// Sampling extracts the pass-through sampling parameters handed to the
// decoder on every call.
func (p Params) Sampling() SamplingParams {
	return SamplingParams{
		UseSampling: p.UseSampling,
		TopK:        p.TopK,
		TopP:        p.TopP,
		Temperature: p.Temperature,
		CFGCoef:     p.CFGCoef,
		TwoStepCFG:  p.TwoStepCFG,
	}
}

// SamplingParams are opaque to the generation controller; the decoder owns
// their meaning.
type SamplingParams struct {
	UseSampling bool
	TopK        int
	TopP        float64
	Temperature float64
	CFGCoef     float64
	TwoStepCFG  bool
}
