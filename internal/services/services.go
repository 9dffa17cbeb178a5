package services

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/gabriel-vasile/mimetype"
)

// Backend defines the operations the upscaler service exposes.
type Backend interface {
	// Health reports server and model status. Fails on any transport or decode error.
	Health(ctx context.Context) (*HealthStatus, error)

	// LoadModel asks the server to start loading its ML model in the background.
	LoadModel(ctx context.Context) (*LoadModelResponse, error)

	// Info returns the server's self-description from the root endpoint.
	Info(ctx context.Context) (*ServerInfo, error)

	// Upscale performs a blocking upscale without progress reporting.
	Upscale(ctx context.Context, image Image, params UpscaleParams) (*UpscaleResponse, error)

	// Stream starts an upscale and returns the server-sent event stream describing it.
	Stream(ctx context.Context, image Image, params UpscaleParams) (*EventStream, error)
}

// Size is a (width, height) pair, encoded by the backend as a two element JSON array.
type Size [2]int

func (s Size) Width() int  { return s[0] }
func (s Size) Height() int { return s[1] }

// IsZero reports whether the size was never populated.
func (s Size) IsZero() bool { return s[0] == 0 && s[1] == 0 }

func (s Size) String() string { return fmt.Sprintf("%dx%d", s[0], s[1]) }

// Image is a selected input file held in memory so a request can be re-sent on retry.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

// LoadImage reads the file at path and sniffs its content type.
//
// Returns [shared.ErrInvalidInput] when the file is not an image.
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}

	return NewImage(filepath.Base(path), data)
}

// NewImage wraps already-loaded bytes as an [Image].
func NewImage(name string, data []byte) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("%w: %s is empty", shared.ErrInvalidInput, name)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return Image{}, fmt.Errorf("%w: %s is %s, not an image", shared.ErrInvalidInput, name, mt.String())
	}

	return Image{Name: name, ContentType: mt.String(), Data: data}, nil
}

// UpscaleParams are the request parameters sent with every upscale.
type UpscaleParams struct {
	Scale      int     `json:"scale"`      // one of 2, 3, 4
	Denoise    float64 `json:"denoise"`    // 0.0 - 1.0
	Creativity float64 `json:"creativity"` // 0.0 - 1.0
	UseML      bool    `json:"use_ml"`
}

// DefaultParams mirrors the backend's form defaults.
func DefaultParams() UpscaleParams {
	return UpscaleParams{Scale: 2, Denoise: 0.3, Creativity: 0.0, UseML: true}
}

// Validate enforces the bounds the UI offers. The backend remains the authority.
func (p UpscaleParams) Validate() error {
	if p.Scale < 2 || p.Scale > 4 {
		return fmt.Errorf("%w: scale must be 2, 3 or 4, got %d", shared.ErrInvalidArgument, p.Scale)
	}
	if p.Denoise < 0 || p.Denoise > 1 {
		return fmt.Errorf("%w: denoise must be within [0, 1], got %v", shared.ErrInvalidArgument, p.Denoise)
	}
	if p.Creativity < 0 || p.Creativity > 1 {
		return fmt.Errorf("%w: creativity must be within [0, 1], got %v", shared.ErrInvalidArgument, p.Creativity)
	}
	return nil
}

// HealthStatus is the payload of GET /health.
type HealthStatus struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelLoading bool   `json:"model_loading"`
	ModelType    string `json:"model_type,omitempty"`
	GPUAvailable bool   `json:"gpu_available"`
	Device       string `json:"device"`
	Error        string `json:"error,omitempty"`
}

// Summary renders a one line description for status bars and logs.
func (h *HealthStatus) Summary() string {
	if h == nil {
		return "not connected"
	}

	model := "model unavailable"
	switch {
	case h.ModelLoaded && h.ModelType != "":
		model = "model ready (" + h.ModelType + ")"
	case h.ModelLoaded:
		model = "model ready"
	case h.ModelLoading:
		model = "model loading"
	}

	return fmt.Sprintf("%s on %s, %s", h.Status, h.Device, model)
}

// LoadModelResponse is the payload of POST /load-model.
type LoadModelResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// MLStatus describes model state as reported by the root endpoint.
type MLStatus struct {
	Available bool   `json:"available"`
	Loading   bool   `json:"loading"`
	Device    string `json:"device"`
	Error     string `json:"error,omitempty"`
}

// ServerInfo is the payload of GET /.
type ServerInfo struct {
	Name      string            `json:"name"`
	Version   string            `json:"version"`
	MLStatus  MLStatus          `json:"ml_status"`
	Endpoints map[string]string `json:"endpoints"`
}

// UpscaleResponse is the payload of the synchronous POST /upscale.
type UpscaleResponse struct {
	Success      bool   `json:"success"`
	ImageBase64  string `json:"image_base64,omitempty"`
	OriginalSize Size   `json:"original_size"`
	UpscaledSize Size   `json:"upscaled_size"`
	Method       string `json:"method,omitempty"`
	Error        string `json:"error,omitempty"`
}
