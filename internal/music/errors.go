package music

import "errors"

// Error taxonomy for generation preconditions. All of these are detected
// before any decoder call is made and abort the call with no partial work;
// failures inside the decoder or codec propagate unchanged.
var (
	// ErrConfiguration marks an invalid parameter combination, surfaced at
	// parameter-set time rather than generation time.
	ErrConfiguration = errors.New("music: invalid generation configuration")

	// ErrShapeMismatch marks conditioning tensors whose counts or ranks do
	// not line up with the requested samples.
	ErrShapeMismatch = errors.New("music: conditioning shape mismatch")

	// ErrUnsupportedFeature marks a request the loaded model cannot serve,
	// such as melody conditioning on a decoder without a melody conditioner
	// or a codec that returns a scale factor.
	ErrUnsupportedFeature = errors.New("music: unsupported feature")

	// ErrPromptTooLong marks a continuation prompt that exceeds the token
	// budget of a single decoder context.
	ErrPromptTooLong = errors.New("music: prompt is longer than audio to generate")
)
