package audio

import (
	"errors"
	"fmt"

	"github.com/hua2014/VidMuse/internal/tensor"
)

// Convert remixes and resamples a [B, C, T] waveform tensor to the target
// channel count and sample rate. Prompt and melody waveforms are converted to
// the codec's native format before encoding so the decoder's conditioning
// shape contract stays uniform.
//
// Downmix averages channels; upmix from mono repeats the channel. Other
// channel layouts are rejected. Resampling is linear interpolation.
func Convert(wav *tensor.Tensor, fromRate, toRate, toChannels int) (*tensor.Tensor, error) {
	if wav == nil {
		return nil, errors.New("audio: convert on nil waveform")
	}

	if wav.Rank() != 3 {
		return nil, fmt.Errorf("audio: convert expects [B, C, T] waveform, got rank %d", wav.Rank())
	}

	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("audio: invalid sample rates %d -> %d", fromRate, toRate)
	}

	shape := wav.Shape()
	batch := int(shape[0])
	channels := int(shape[1])
	frames := int(shape[2])

	if toChannels <= 0 {
		toChannels = channels
	}

	remixed, err := remix(wav.RawData(), batch, channels, frames, toChannels)
	if err != nil {
		return nil, err
	}

	if fromRate == toRate {
		return tensor.New(remixed, []int64{int64(batch), int64(toChannels), int64(frames)})
	}

	outFrames := resampledLen(frames, fromRate, toRate)
	out := make([]float32, batch*toChannels*outFrames)

	rows := batch * toChannels
	for r := range rows {
		src := remixed[r*frames : (r+1)*frames]
		dst := out[r*outFrames : (r+1)*outFrames]
		resampleLinear(dst, src, fromRate, toRate)
	}

	return tensor.New(out, []int64{int64(batch), int64(toChannels), int64(outFrames)})
}

func remix(data []float32, batch, channels, frames, toChannels int) ([]float32, error) {
	if channels == toChannels {
		return append([]float32(nil), data...), nil
	}

	out := make([]float32, batch*toChannels*frames)

	switch {
	case toChannels == 1:
		// Average all source channels.
		inv := 1.0 / float32(channels)

		for b := range batch {
			for t := range frames {
				var sum float32
				for c := range channels {
					sum += data[(b*channels+c)*frames+t]
				}

				out[b*frames+t] = sum * inv
			}
		}
	case channels == 1:
		// Repeat the mono channel.
		for b := range batch {
			src := data[b*frames : (b+1)*frames]
			for c := range toChannels {
				copy(out[(b*toChannels+c)*frames:(b*toChannels+c+1)*frames], src)
			}
		}
	default:
		return nil, fmt.Errorf("audio: cannot remix %d channels to %d", channels, toChannels)
	}

	return out, nil
}

func resampledLen(frames, fromRate, toRate int) int {
	return int(int64(frames) * int64(toRate) / int64(fromRate))
}

func resampleLinear(dst, src []float32, fromRate, toRate int) {
	if len(dst) == 0 || len(src) == 0 {
		return
	}

	ratio := float64(fromRate) / float64(toRate)
	last := len(src) - 1

	for i := range dst {
		pos := float64(i) * ratio

		idx := int(pos)
		if idx >= last {
			dst[i] = src[last]
			continue
		}

		frac := float32(pos - float64(idx))
		dst[i] = src[idx] + (src[idx+1]-src[idx])*frac
	}
}
