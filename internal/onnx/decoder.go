package onnx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hua2014/VidMuse/internal/music"
	"github.com/hua2014/VidMuse/internal/tensor"
	"github.com/hua2014/VidMuse/internal/tokens"
)

// lm_step graph node names.
const (
	lmInputTokens      = "tokens"
	lmInputText        = "text_embeddings"
	lmInputVideoLocal  = "video_local"
	lmInputVideoGlobal = "video_global"
	lmOutputLogits     = "logits"

	embedOutputName = "embedding"
)

// bosTokenID seeds the first decoding step when no continuation prompt
// exists. It is the codec's special token (one past the last codebook
// entry) and is trimmed from the returned sequence.
const bosTokenID = 2047

// defaultCodebooks matches the compression codec's parallel streams.
const defaultCodebooks = 4

// defaultTextDim is the conditioner hidden size the exported graphs expect.
const defaultTextDim = 768

// TextEncoder turns free-form descriptions into a [B, T, D] embedding
// tensor for the lm_step graph. Tokenization and the text model are outside
// this package; deployments plug their own encoder in.
type TextEncoder interface {
	Encode(ctx context.Context, descriptions []string) (*Tensor, error)
}

// ZeroTextEncoder emits all-zero embeddings. It serves video-conditioned and
// unconditional generation, where descriptions are empty.
type ZeroTextEncoder struct {
	Dim int64
}

func (z ZeroTextEncoder) Encode(ctx context.Context, descriptions []string) (*Tensor, error) {
	dim := z.Dim
	if dim <= 0 {
		dim = defaultTextDim
	}

	batch := int64(len(descriptions))
	if batch == 0 {
		return nil, errors.New("text encoder needs at least one description")
	}

	return NewTensor(make([]float32, batch*dim), []int64{batch, 1, dim})
}

// DecoderConfig tunes the ONNX-backed decoder.
type DecoderConfig struct {
	Codebooks int
	Text      TextEncoder
	Logger    *slog.Logger
}

// Decoder drives the lm_step graph one token frame at a time and implements
// the autoregressive decoder contract of the generation controller. The
// graph is stateless: every step re-processes the full sequence so far.
type Decoder struct {
	step      graphRunner
	embed     graphRunner
	text      TextEncoder
	codebooks int
	logger    *slog.Logger
}

// NewDecoder wires a decoder to an engine's lm_step graph, and to its
// video_embed graph when the bundle provides one.
func NewDecoder(engine *Engine, cfg DecoderConfig) (*Decoder, error) {
	step, ok := engine.Runner(GraphLMStep)
	if !ok {
		return nil, fmt.Errorf("graph %q not found in manifest", GraphLMStep)
	}

	d := &Decoder{
		step:      step,
		text:      cfg.Text,
		codebooks: cfg.Codebooks,
		logger:    cfg.Logger,
	}

	if embed, ok := engine.Runner(GraphVideoEmbed); ok {
		d.embed = embed
	}

	if d.codebooks <= 0 {
		d.codebooks = defaultCodebooks
	}

	if d.text == nil {
		d.text = ZeroTextEncoder{}
	}

	if d.logger == nil {
		d.logger = slog.Default()
	}

	return d, nil
}

// SupportsMelody reports false: the exported bundles carry no waveform
// conditioner graph.
func (d *Decoder) SupportsMelody() bool { return false }

// Generate runs maxGenLen autoregressive steps and returns the generated
// frames appended to the prompt.
func (d *Decoder) Generate(
	ctx context.Context,
	prompt *tokens.Sequence,
	cond music.Conditioning,
	maxGenLen int,
	sampling music.SamplingParams,
	progress music.ProgressFunc,
) (*tokens.Sequence, error) {
	batch := len(cond.Attributes)
	if batch == 0 {
		return nil, errors.New("onnx: generate requires at least one conditioning record")
	}

	if maxGenLen <= 0 {
		return nil, fmt.Errorf("onnx: max generation length %d must be positive", maxGenLen)
	}

	if prompt != nil && prompt.Frames() > 0 {
		if prompt.Batch() != batch || prompt.Codebooks() != d.codebooks {
			return nil, fmt.Errorf(
				"onnx: prompt shape [%d %d %d] does not match batch %d with %d codebooks",
				prompt.Batch(), prompt.Codebooks(), prompt.Frames(), batch, d.codebooks,
			)
		}
	}

	inputs, err := d.buildConditioning(ctx, cond, sampling)
	if err != nil {
		return nil, err
	}

	promptFrames := 0
	if prompt != nil {
		promptFrames = prompt.Frames()
	}

	d.logger.Debug("autoregressive generation",
		"batch", batch,
		"max_gen_len", maxGenLen,
		"prompt_frames", promptFrames,
		"guidance", useGuidance(sampling),
	)

	buf := newTokenBuffer(batch, d.codebooks, prompt)

	for step := range maxGenLen {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("onnx: generation canceled at step %d: %w", step, err)
		}

		logits, err := d.stepLogits(ctx, buf, inputs, sampling)
		if err != nil {
			return nil, fmt.Errorf("onnx: step %d: %w", step, err)
		}

		if err := buf.appendSampled(logits, sampling); err != nil {
			return nil, fmt.Errorf("onnx: step %d: %w", step, err)
		}

		if progress != nil {
			progress(step+1, maxGenLen)
		}
	}

	return buf.sequence()
}

// GenerateVideoEmbedding runs the conditioning pathway alone and returns
// the video hidden states.
func (d *Decoder) GenerateVideoEmbedding(ctx context.Context, cond music.Conditioning) (*tensor.Tensor, error) {
	if d.embed == nil {
		return nil, fmt.Errorf("onnx: graph %q not found in manifest", GraphVideoEmbed)
	}

	if cond.Video == nil {
		return nil, errors.New("onnx: video embedding requires video conditioning")
	}

	local, err := FromFloat(cond.Video.Local)
	if err != nil {
		return nil, fmt.Errorf("onnx: video local features: %w", err)
	}

	global, err := videoGlobalInput(cond.Video)
	if err != nil {
		return nil, err
	}

	outputs, err := d.embed.Run(ctx, map[string]*Tensor{
		lmInputVideoLocal:  local,
		lmInputVideoGlobal: global,
	})
	if err != nil {
		return nil, fmt.Errorf("onnx: %s: %w", GraphVideoEmbed, err)
	}

	emb, ok := outputs[embedOutputName]
	if !ok {
		return nil, fmt.Errorf("onnx: %s: missing %q in output", GraphVideoEmbed, embedOutputName)
	}

	return ToFloat(emb)
}

// condInputs carries the per-call conditioning tensors. The unconditional
// variants back classifier-free guidance and stay nil when guidance is off.
type condInputs struct {
	text        *Tensor
	uncondText  *Tensor
	videoLocal  *Tensor
	videoGlobal *Tensor
	zeroLocal   *Tensor
	zeroGlobal  *Tensor
}

func (d *Decoder) buildConditioning(ctx context.Context, cond music.Conditioning, sampling music.SamplingParams) (*condInputs, error) {
	descriptions := make([]string, len(cond.Attributes))
	for i, a := range cond.Attributes {
		descriptions[i] = a.Text
	}

	text, err := d.text.Encode(ctx, descriptions)
	if err != nil {
		return nil, fmt.Errorf("onnx: text conditioning: %w", err)
	}

	in := &condInputs{text: text}

	batch := int64(len(cond.Attributes))

	if cond.Video != nil {
		in.videoLocal, err = FromFloat(cond.Video.Local)
		if err != nil {
			return nil, fmt.Errorf("onnx: video local features: %w", err)
		}

		in.videoGlobal, err = videoGlobalInput(cond.Video)
		if err != nil {
			return nil, err
		}
	} else {
		in.videoLocal, err = zeroVideo(batch)
		if err != nil {
			return nil, err
		}

		in.videoGlobal, err = zeroVideo(batch)
		if err != nil {
			return nil, err
		}
	}

	if !useGuidance(sampling) {
		return in, nil
	}

	in.uncondText, err = d.text.Encode(ctx, make([]string, batch))
	if err != nil {
		return nil, fmt.Errorf("onnx: unconditional text conditioning: %w", err)
	}

	in.zeroLocal, err = zeroLike(in.videoLocal)
	if err != nil {
		return nil, err
	}

	in.zeroGlobal, err = zeroLike(in.videoGlobal)
	if err != nil {
		return nil, err
	}

	return in, nil
}

// stepLogits produces guided next-token logits for the current sequence.
// Guidance runs the graph on conditional and unconditional inputs, batched
// in one call by default or as two passes with TwoStepCFG, and blends
// uncond + cfg * (cond - uncond).
func (d *Decoder) stepLogits(ctx context.Context, buf *tokenBuffer, in *condInputs, sampling music.SamplingParams) ([]float32, error) {
	seq, err := buf.tensor()
	if err != nil {
		return nil, err
	}

	if !useGuidance(sampling) {
		return d.runStep(ctx, seq, in.text, in.videoLocal, in.videoGlobal)
	}

	if sampling.TwoStepCFG {
		condLogits, err := d.runStep(ctx, seq, in.text, in.videoLocal, in.videoGlobal)
		if err != nil {
			return nil, err
		}

		uncondLogits, err := d.runStep(ctx, seq, in.uncondText, in.zeroLocal, in.zeroGlobal)
		if err != nil {
			return nil, err
		}

		return blendGuidance(condLogits, uncondLogits, sampling.CFGCoef)
	}

	stackedSeq, err := stackBatch(seq, seq)
	if err != nil {
		return nil, err
	}

	stackedText, err := stackBatch(in.text, in.uncondText)
	if err != nil {
		return nil, err
	}

	stackedLocal, err := stackBatch(in.videoLocal, in.zeroLocal)
	if err != nil {
		return nil, err
	}

	stackedGlobal, err := stackBatch(in.videoGlobal, in.zeroGlobal)
	if err != nil {
		return nil, err
	}

	both, err := d.runStep(ctx, stackedSeq, stackedText, stackedLocal, stackedGlobal)
	if err != nil {
		return nil, err
	}

	if len(both)%2 != 0 {
		return nil, fmt.Errorf("guided logits length %d is odd", len(both))
	}

	half := len(both) / 2

	return blendGuidance(both[:half], both[half:], sampling.CFGCoef)
}

func (d *Decoder) runStep(ctx context.Context, seq, text, videoLocal, videoGlobal *Tensor) ([]float32, error) {
	outputs, err := d.step.Run(ctx, map[string]*Tensor{
		lmInputTokens:      seq,
		lmInputText:        text,
		lmInputVideoLocal:  videoLocal,
		lmInputVideoGlobal: videoGlobal,
	})
	if err != nil {
		return nil, err
	}

	logits, ok := outputs[lmOutputLogits]
	if !ok {
		return nil, fmt.Errorf("missing %q in output", lmOutputLogits)
	}

	return logits.Float32()
}

func useGuidance(sampling music.SamplingParams) bool {
	return sampling.CFGCoef != 1
}

func blendGuidance(cond, uncond []float32, cfg float64) ([]float32, error) {
	if len(cond) != len(uncond) {
		return nil, fmt.Errorf("guided logits length mismatch %d vs %d", len(cond), len(uncond))
	}

	out := make([]float32, len(cond))
	for i := range out {
		out[i] = uncond[i] + float32(cfg)*(cond[i]-uncond[i])
	}

	return out, nil
}

func videoGlobalInput(video *music.VideoConditioning) (*Tensor, error) {
	if video.Global != nil {
		global, err := FromFloat(video.Global)
		if err != nil {
			return nil, fmt.Errorf("onnx: video global features: %w", err)
		}

		return global, nil
	}

	return zeroVideo(video.Batch())
}

func zeroVideo(batch int64) (*Tensor, error) {
	return NewTensor(make([]float32, batch), []int64{batch, 1, 1, 1, 1})
}

func zeroLike(t *Tensor) (*Tensor, error) {
	data, err := t.Float32()
	if err != nil {
		return nil, err
	}

	return NewTensor(make([]float32, len(data)), t.Shape())
}

// stackBatch concatenates two float32 tensors along the batch dimension.
func stackBatch(a, b *Tensor) (*Tensor, error) {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != len(bShape) {
		return nil, fmt.Errorf("batch stack rank mismatch %d vs %d", len(aShape), len(bShape))
	}

	for i := 1; i < len(aShape); i++ {
		if aShape[i] != bShape[i] {
			return nil, fmt.Errorf("batch stack shape mismatch %v vs %v", aShape, bShape)
		}
	}

	outShape := append([]int64(nil), aShape...)
	outShape[0] = aShape[0] + bShape[0]

	switch a.DType() {
	case DTypeFloat32:
		aData, err := a.Float32()
		if err != nil {
			return nil, err
		}

		bData, err := b.Float32()
		if err != nil {
			return nil, err
		}

		return NewTensor(append(aData, bData...), outShape)
	case DTypeInt64:
		aData, err := a.Int64()
		if err != nil {
			return nil, err
		}

		bData, err := b.Int64()
		if err != nil {
			return nil, err
		}

		return NewTensor(append(aData, bData...), outShape)
	default:
		return nil, fmt.Errorf("unsupported batch stack dtype %s", a.DType())
	}
}

// tokenBuffer accumulates the growing [B, K, T] sequence during one
// generation call. Rows keep the time axis contiguous per (batch, codebook)
// pair so flattening per step is a plain copy.
type tokenBuffer struct {
	batch     int
	codebooks int
	seeded    bool
	rows      [][]int64
}

func newTokenBuffer(batch, codebooks int, prompt *tokens.Sequence) *tokenBuffer {
	buf := &tokenBuffer{
		batch:     batch,
		codebooks: codebooks,
		rows:      make([][]int64, batch*codebooks),
	}

	if prompt != nil && prompt.Frames() > 0 {
		buf.seeded = true

		data := prompt.Data()
		frames := prompt.Frames()

		for r := range buf.rows {
			buf.rows[r] = append([]int64(nil), data[r*frames:(r+1)*frames]...)
		}

		return buf
	}

	// No prompt: every row starts with the BOS sentinel, trimmed on output.
	for r := range buf.rows {
		buf.rows[r] = []int64{bosTokenID}
	}

	return buf
}

func (b *tokenBuffer) frames() int {
	return len(b.rows[0])
}

func (b *tokenBuffer) tensor() (*Tensor, error) {
	frames := b.frames()
	data := make([]int64, 0, len(b.rows)*frames)

	for _, row := range b.rows {
		data = append(data, row...)
	}

	return NewTensor(data, []int64{int64(b.batch), int64(b.codebooks), int64(frames)})
}

// appendSampled draws one token per (batch, codebook) pair from [B, K, V]
// logits and appends the new frame.
func (b *tokenBuffer) appendSampled(logits []float32, sampling music.SamplingParams) error {
	rows := b.batch * b.codebooks
	if len(logits)%rows != 0 {
		return fmt.Errorf("logits length %d does not divide into %d rows", len(logits), rows)
	}

	vocab := len(logits) / rows

	for r := range b.rows {
		row := logits[r*vocab : (r+1)*vocab]

		next, err := nextToken(row, sampling.UseSampling, sampling.TopK, sampling.TopP, sampling.Temperature)
		if err != nil {
			return err
		}

		b.rows[r] = append(b.rows[r], next)
	}

	return nil
}

// sequence returns the accumulated tokens, without the BOS frame when the
// call started unseeded.
func (b *tokenBuffer) sequence() (*tokens.Sequence, error) {
	frames := b.frames()
	start := 0

	if !b.seeded {
		start = 1
	}

	out := make([]int64, 0, len(b.rows)*(frames-start))
	for _, row := range b.rows {
		out = append(out, row[start:]...)
	}

	return tokens.New(out, b.batch, b.codebooks, frames-start)
}
