package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// clipContext is the fixed token length of the CLIP text tower.
const clipContext = 77

var (
	_ TextEmbedder  = (*CLIP)(nil)
	_ ImageEmbedder = (*CLIP)(nil)
)

// CLIPConfig locates the exported CLIP towers and runtime.
type CLIPConfig struct {
	VisualModel string // ONNX vision tower: pixel_values -> image_embeds
	TextModel   string // ONNX text tower: input_ids, attention_mask -> text_embeds
	Tokenizer   string // tokenizer.json for the text tower
	SharedLib   string // path to libonnxruntime; empty uses the loader default
}

// CLIP embeds frames and question text into the shared CLIP space. It owns
// the ONNX runtime environment for the life of the process.
type CLIP struct {
	tok    *tokenizer.Tokenizer
	visual *ort.DynamicAdvancedSession
	text   *ort.DynamicAdvancedSession
	logger *slog.Logger

	closeOnce sync.Once
}

// NewCLIP initialises ONNX runtime and loads both towers and the tokenizer.
func NewCLIP(cfg CLIPConfig, logger *slog.Logger) (*CLIP, error) {
	if logger == nil {
		logger = slog.Default()
	}
	tok, err := pretrained.FromFile(cfg.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	if cfg.SharedLib != "" {
		ort.SetSharedLibraryPath(cfg.SharedLib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing onnx environment: %w", err)
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		logger.Warn("clip: graph optimization not set", "error", err)
	}

	visual, err := ort.NewDynamicAdvancedSession(cfg.VisualModel,
		[]string{"pixel_values"}, []string{"image_embeds"}, opts)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("loading visual model: %w", err)
	}
	text, err := ort.NewDynamicAdvancedSession(cfg.TextModel,
		[]string{"input_ids", "attention_mask"}, []string{"text_embeds"}, opts)
	if err != nil {
		visual.Destroy()
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("loading text model: %w", err)
	}

	return &CLIP{tok: tok, visual: visual, text: text, logger: logger}, nil
}

// EmbedImages embeds the frames at paths. Vectors are L2-normalised.
func (c *CLIP) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	plane := 3 * clipSize * clipSize
	pixels := make([]float32, 0, len(paths)*plane)
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := loadImage(p)
		if err != nil {
			return nil, fmt.Errorf("loading frame: %w", err)
		}
		pixels = append(pixels, pixelValues(img)...)
	}

	input, err := ort.NewTensor(ort.NewShape(int64(len(paths)), 3, clipSize, clipSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("creating pixel_values tensor: %w", err)
	}
	defer input.Destroy()

	return runEmbeds(c.visual, []ort.Value{input})
}

// EmbedTexts embeds texts with the CLIP text tower so they can be compared
// against frame vectors. Vectors are L2-normalised.
func (c *CLIP) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encodings, err := c.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("tokenizing: %w", err)
	}

	ids, mask := clipTokens(encodings)
	shape := ort.NewShape(int64(len(texts)), clipContext)
	idsTensor, err := ort.NewTensor(shape, ids)
	if err != nil {
		return nil, fmt.Errorf("creating input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("creating attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()

	return runEmbeds(c.text, []ort.Value{idsTensor, maskTensor})
}

// clipTokens flattens encodings into fixed-length input_ids and
// attention_mask rows. Long sequences keep their final (end) token.
func clipTokens(encodings []tokenizer.Encoding) (ids, mask []int64) {
	ids = make([]int64, len(encodings)*clipContext)
	mask = make([]int64, len(encodings)*clipContext)
	for i, enc := range encodings {
		tid := enc.GetIds()
		if len(tid) > clipContext {
			last := tid[len(tid)-1]
			tid = append(tid[:clipContext-1:clipContext-1], last)
		}
		row := i * clipContext
		for j, id := range tid {
			ids[row+j] = int64(id)
			mask[row+j] = 1
		}
	}
	return ids, mask
}

func runEmbeds(session *ort.DynamicAdvancedSession, inputs []ort.Value) ([][]float32, error) {
	outputs := make([]ort.Value, 1)
	if err := session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	shape := out.GetShape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}
	n, dim := int(shape[0]), int(shape[1])
	data := out.GetData()

	// Copy out before the tensor is destroyed.
	vecs := make([][]float32, n)
	for i := range vecs {
		v := make([]float32, dim)
		copy(v, data[i*dim:(i+1)*dim])
		normalize(v)
		vecs[i] = v
	}
	return vecs, nil
}

// Close releases both sessions and the runtime environment.
func (c *CLIP) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if c.visual != nil {
			c.visual.Destroy()
		}
		if c.text != nil {
			c.text.Destroy()
		}
		err = ort.DestroyEnvironment()
	})
	return err
}
