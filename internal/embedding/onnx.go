//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/chikuseki/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	onnxOutputNames = []string{"output"}
)

// onnxIO holds the tensors bound to a session. Run reads the inputs in place and writes the
// pooled sentence vector into out.
type onnxIO struct {
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	out           *ort.Tensor[float32]
}

func newONNXIO(seqLen, dimensions int) (*onnxIO, error) {
	io := &onnxIO{}
	inShape := ort.NewShape(1, int64(seqLen))
	var err error
	if io.inputIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		return nil, fmt.Errorf("input_ids tensor: %w", err)
	}
	if io.attentionMask, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("attention_mask tensor: %w", err)
	}
	if io.tokenTypeIDs, err = ort.NewEmptyTensor[int64](inShape); err != nil {
		io.destroy()
		return nil, fmt.Errorf("token_type_ids tensor: %w", err)
	}
	if io.out, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(dimensions))); err != nil {
		io.destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}
	return io, nil
}

func (io *onnxIO) inputs() []ort.ArbitraryTensor {
	return []ort.ArbitraryTensor{io.inputIDs, io.attentionMask, io.tokenTypeIDs}
}

func (io *onnxIO) load(enc Encoding) {
	copy(io.inputIDs.GetData(), enc.InputIDs)
	copy(io.attentionMask.GetData(), enc.AttentionMask)
	copy(io.tokenTypeIDs.GetData(), enc.TokenTypeIDs)
}

func (io *onnxIO) destroy() {
	if io.inputIDs != nil {
		_ = io.inputIDs.Destroy()
	}
	if io.attentionMask != nil {
		_ = io.attentionMask.Destroy()
	}
	if io.tokenTypeIDs != nil {
		_ = io.tokenTypeIDs.Destroy()
	}
	if io.out != nil {
		_ = io.out.Destroy()
	}
	*io = onnxIO{}
}

// ONNXEmbedder runs a sentence-transformer model (all-MiniLM-L6-v2 by default) through
// ONNX Runtime. Requires CGO and the onnxruntime shared library.
// Calls are serialized since every Run shares the bound tensors.
type ONNXEmbedder struct {
	mu         sync.Mutex
	session    *ort.AdvancedSession
	io         *onnxIO
	tokenizer  Tokenizer
	seqLen     int
	dimensions int
}

// NewONNXEmbedder loads modelPath. libraryPath may be empty to use the platform default.
// seqLen is the model sequence length including the [CLS] and [SEP] markers.
func NewONNXEmbedder(modelPath, libraryPath string, dimensions, seqLen int) (*ONNXEmbedder, error) {
	if seqLen < 3 {
		return nil, fmt.Errorf("sequence length %d leaves no room for text", seqLen)
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	io, err := newONNXIO(seqLen, dimensions)
	if err != nil {
		return nil, err
	}
	session, err := ort.NewAdvancedSession(modelPath, onnxInputNames, onnxOutputNames,
		io.inputs(), []ort.ArbitraryTensor{io.out}, nil)
	if err != nil {
		io.destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	return &ONNXEmbedder{
		session:    session,
		io:         io,
		tokenizer:  HashTokenizer{},
		seqLen:     seqLen,
		dimensions: dimensions,
	}, nil
}

// Embed returns the unit-length embedding for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckInput(text, e.MaxTokens()); err != nil {
		return nil, err
	}
	enc := e.tokenizer.Encode(text, e.seqLen)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, &EmbeddingError{Kind: ErrProvider, Err: fmt.Errorf("embedder closed")}
	}
	e.io.load(enc)
	if err := e.session.Run(); err != nil {
		return nil, &EmbeddingError{Kind: ErrProvider, Err: fmt.Errorf("inference failed: %w", err)}
	}
	vec := append([]float32(nil), e.io.out.GetData()[:e.dimensions]...)
	utils.NormalizeL2(vec)
	return vec, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *ONNXEmbedder) Dimensions() int { return e.dimensions }

// MaxTokens is the sequence length minus [CLS] and [SEP].
func (e *ONNXEmbedder) MaxTokens() int { return e.seqLen - 2 }

// Close releases the session and its tensors. Embed fails afterwards.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	e.io.destroy()
	return err
}
