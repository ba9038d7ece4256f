package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/cwbudde/wav"
)

// Native output format of the VidMuse compression codec.
const (
	NativeSampleRate = 32000
	NativeChannels   = 1
	NativeBitDepth   = 16
)

// DecodeWAV decodes WAV bytes and returns float32 PCM samples together with
// the file's sample rate and channel count. Prompt and melody inputs arrive
// in arbitrary formats and are converted to the native format afterwards, so
// nothing is enforced here beyond 16-bit PCM.
func DecodeWAV(data []byte) ([]float32, int, int, error) {
	if len(data) == 0 {
		return nil, 0, 0, errors.New("empty WAV input")
	}

	r := bytes.NewReader(data)
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, errors.New("invalid WAV file")
	}

	if dec.BitDepth != NativeBitDepth {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth %d, want %d", dec.BitDepth, NativeBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, int(dec.SampleRate), int(dec.NumChans), nil
}
