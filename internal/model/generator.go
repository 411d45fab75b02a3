package model

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Generator wraps a loaded ONNX session for the sketch-to-image network.
// The session owns one pre-allocated input/output tensor pair, so forward
// passes are serialized; everything else is read-only after Load.
type Generator struct {
	session      *ort.AdvancedSession
	meta         Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]

	mu sync.Mutex
}

// Load initializes the ONNX runtime environment, reads the metadata file
// and creates an inference session for the model at modelPath.
func Load(modelPath, metadataPath string) (*Generator, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	meta, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}

	inputShape := ort.NewShape(meta.InputShape...)
	outputShape := ort.NewShape(meta.OutputShape...)

	inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Generator{
		session:      session,
		meta:         meta,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Meta returns the loaded model metadata.
func (g *Generator) Meta() Metadata { return g.meta }

// Generate runs one forward pass. The input is the flattened CHW tensor
// produced by the preprocessing transform; the returned slice is a copy of
// the raw network output in the training range.
func (g *Generator) Generate(input []float32) ([]float32, error) {
	if len(input) != g.meta.InputSize() {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrInputSize, len(input), g.meta.InputSize())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	copy(g.inputTensor.GetData(), input)

	if err := g.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// Copy out before releasing the lock; the tensor buffer is reused by
	// the next pass.
	raw := g.outputTensor.GetData()
	out := make([]float32, len(raw))
	copy(out, raw)

	return out, nil
}

// Close destroys the session, its tensors and the runtime environment.
func (g *Generator) Close() {
	if g.inputTensor != nil {
		g.inputTensor.Destroy()
	}
	if g.outputTensor != nil {
		g.outputTensor.Destroy()
	}
	if g.session != nil {
		g.session.Destroy()
	}
	ort.DestroyEnvironment()
}
