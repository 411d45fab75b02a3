package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Sentinel errors for model loading and inference. Check with errors.Is.
var (
	// ErrBadMetadata indicates the metadata file is missing required fields
	// or inconsistent with itself.
	ErrBadMetadata = errors.New("model: invalid metadata")

	// ErrInputSize indicates the flattened input does not match the
	// session's input tensor.
	ErrInputSize = errors.New("model: input size mismatch")
)

// Metadata describes the exported generator: tensor shapes, the square
// input resolution the network was trained on, and its channel counts.
// It is written next to the ONNX file at export time.
type Metadata struct {
	Name        string  `json:"name"`
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
	NChannels   int     `json:"n_channels"`
	NClasses    int     `json:"n_classes"`
}

// LoadMetadata reads and validates a metadata JSON file, filling in the
// export defaults for absent optional fields.
func LoadMetadata(path string) (Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrBadMetadata, err)
	}

	meta.applyDefaults()
	if err := meta.Validate(); err != nil {
		return Metadata{}, err
	}

	return meta, nil
}

func (m *Metadata) applyDefaults() {
	if m.Name == "" {
		m.Name = "Generator"
	}
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
}

// Validate checks the shape and channel fields for consistency. The input
// element count must equal n_channels * image_size * image_size.
func (m Metadata) Validate() error {
	if len(m.InputShape) == 0 {
		return fmt.Errorf("%w: input_shape is empty", ErrBadMetadata)
	}
	if len(m.OutputShape) == 0 {
		return fmt.Errorf("%w: output_shape is empty", ErrBadMetadata)
	}
	for _, dim := range m.InputShape {
		if dim <= 0 {
			return fmt.Errorf("%w: non-positive input dimension %d", ErrBadMetadata, dim)
		}
	}
	for _, dim := range m.OutputShape {
		if dim <= 0 {
			return fmt.Errorf("%w: non-positive output dimension %d", ErrBadMetadata, dim)
		}
	}
	if m.ImageSize <= 0 {
		return fmt.Errorf("%w: image_size must be positive, got %d", ErrBadMetadata, m.ImageSize)
	}
	if m.NChannels <= 0 || m.NClasses <= 0 {
		return fmt.Errorf("%w: channel counts must be positive, got n_channels=%d n_classes=%d",
			ErrBadMetadata, m.NChannels, m.NClasses)
	}

	want := m.NChannels * m.ImageSize * m.ImageSize
	if got := numel(m.InputShape); got != want {
		return fmt.Errorf("%w: input_shape holds %d values, expected %d (n_channels * image_size * image_size)",
			ErrBadMetadata, got, want)
	}
	wantOut := m.NClasses * m.ImageSize * m.ImageSize
	if got := numel(m.OutputShape); got != wantOut {
		return fmt.Errorf("%w: output_shape holds %d values, expected %d (n_classes * image_size * image_size)",
			ErrBadMetadata, got, wantOut)
	}

	return nil
}

// GenerateRequest is the body of POST /generate. Sketch holds a base64
// encoded image; padding may be missing and is repaired before decoding.
type GenerateRequest struct {
	Sketch string `json:"sketch"`
}

// GenerateResponse carries the generated image as base64 PNG bytes.
type GenerateResponse struct {
	GeneratedImage string `json:"generated_image"`
}

// HealthResponse is the static payload of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Model     string `json:"model"`
	NChannels int    `json:"n_channels"`
	NClasses  int    `json:"n_classes"`
}

// ErrorResponse is the envelope for every error body the API returns.
type ErrorResponse struct {
	Error string `json:"error"`
}

// InputSize returns the flattened input element count.
func (m Metadata) InputSize() int { return numel(m.InputShape) }

// OutputSize returns the flattened output element count.
func (m Metadata) OutputSize() int { return numel(m.OutputShape) }

func numel(shape []int64) int {
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}
