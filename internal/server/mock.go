package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
)

const (
	defaultMockSteps = 5
	defaultMockDelay = 200 * time.Millisecond
	maxUploadBytes   = 32 << 20
	mockName         = "Upscaler Mock API"
	mockVersion      = "2.1.0"
	mockDevice       = "cpu"
)

// MockOpts tunes the behavior of a [MockBackend].
type MockOpts struct {
	Steps  int           // progress events per ML upscale; default 5
	Delay  time.Duration // pause before each progress event; default 200ms
	NoML   bool          // report the model as unavailable and take the fallback path
	FailAt int           // emit an error event at this step (1-based); zero disables
	DropAt int           // close the stream without a terminal event at this step; zero disables
	Logger *log.Logger
}

// MockBackend serves the upscaler protocol without doing any image work.
//
// Results echo the uploaded bytes, so sizes in complete events match the input.
type MockBackend struct {
	opts   MockOpts
	logger *log.Logger

	mu      sync.Mutex
	loaded  bool
	loading bool
}

// NewMockBackend creates a [MockBackend]. The model starts loaded unless NoML is set.
func NewMockBackend(opts MockOpts) *MockBackend {
	if opts.Steps <= 0 {
		opts.Steps = defaultMockSteps
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	} else if opts.Delay == 0 {
		opts.Delay = defaultMockDelay
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(io.Discard)
	}

	return &MockBackend{opts: opts, logger: logger, loaded: !opts.NoML}
}

// NewMockRouter wires a [MockBackend] into a [BasicRouter] with recovery, logging and optional bearer auth.
func NewMockRouter(backend *MockBackend, logger *log.Logger, token string) *BasicRouter {
	router := NewBasicRouter()
	router.Use(Recover(logger), Logging(logger), BearerAuth(token))
	router.Handler(backend)
	return router
}

// Routes implements [Handler].
func (m *MockBackend) Routes() []Route {
	return []Route{
		{http.MethodGet, "/", http.HandlerFunc(m.info)},
		{http.MethodGet, "/health", http.HandlerFunc(m.health)},
		{http.MethodPost, "/load-model", http.HandlerFunc(m.loadModel)},
		{http.MethodPost, "/upscale", http.HandlerFunc(m.upscale)},
		{http.MethodPost, "/upscale/stream", http.HandlerFunc(m.stream)},
	}
}

func (m *MockBackend) state() (loaded, loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded, m.loading
}

func (m *MockBackend) health(w http.ResponseWriter, _ *http.Request) {
	loaded, loading := m.state()
	status := services.HealthStatus{
		Status:       "healthy",
		ModelLoaded:  loaded,
		ModelLoading: loading,
		Device:       mockDevice,
	}
	if loaded {
		status.ModelType = "mock"
	}
	writeJSON(w, http.StatusOK, status)
}

// loadModel simulates a background load that takes one full upscale's worth of delay.
func (m *MockBackend) loadModel(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.loaded:
		writeJSON(w, http.StatusOK, services.LoadModelResponse{Status: "already_loaded", Message: "Model is already loaded"})
	case m.loading:
		writeJSON(w, http.StatusOK, services.LoadModelResponse{Status: "loading", Message: "Model is currently loading"})
	default:
		m.loading = true
		time.AfterFunc(time.Duration(m.opts.Steps)*m.opts.Delay, func() {
			m.mu.Lock()
			m.loaded, m.loading = true, false
			m.mu.Unlock()
			m.logger.Info("model loaded")
		})
		writeJSON(w, http.StatusOK, services.LoadModelResponse{Status: "started", Message: "Model loading started"})
	}
}

func (m *MockBackend) info(w http.ResponseWriter, _ *http.Request) {
	loaded, loading := m.state()
	writeJSON(w, http.StatusOK, services.ServerInfo{
		Name:    mockName,
		Version: mockVersion,
		MLStatus: services.MLStatus{
			Available: loaded,
			Loading:   loading,
			Device:    mockDevice,
		},
		Endpoints: map[string]string{
			"/health":         "GET - Check server status",
			"/upscale":        "POST - Upscale an image",
			"/upscale/stream": "POST - Upscale with SSE progress streaming",
			"/load-model":     "POST - Manually trigger model loading",
		},
	})
}

// upload is a parsed upscale form.
type upload struct {
	data   []byte
	params services.UpscaleParams
}

type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// parseUpload reads the multipart form, applying the backend's defaults and bounds.
//
// Field problems are returned as a list shaped like FastAPI's validation detail.
func parseUpload(r *http.Request) (*upload, []fieldError) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, []fieldError{{Loc: []string{"body"}, Msg: err.Error(), Type: "value_error"}}
	}

	var errs []fieldError
	u := &upload{params: services.DefaultParams()}

	file, _, err := r.FormFile("image")
	if err != nil {
		errs = append(errs, fieldError{Loc: []string{"body", "image"}, Msg: "Field required", Type: "missing"})
	} else {
		defer file.Close()
		if u.data, err = io.ReadAll(file); err != nil {
			errs = append(errs, fieldError{Loc: []string{"body", "image"}, Msg: err.Error(), Type: "value_error"})
		}
	}

	if v := r.FormValue("scale"); v != "" {
		scale, err := strconv.Atoi(v)
		switch {
		case err != nil:
			errs = append(errs, fieldError{Loc: []string{"body", "scale"}, Msg: "Input should be a valid integer", Type: "int_parsing"})
		case scale < 1 || scale > 4:
			errs = append(errs, fieldError{Loc: []string{"body", "scale"}, Msg: "Input should be between 1 and 4", Type: "range"})
		default:
			u.params.Scale = scale
		}
	}

	for _, f := range []struct {
		name string
		dst  *float64
	}{{"denoise", &u.params.Denoise}, {"creativity", &u.params.Creativity}} {
		v := r.FormValue(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			errs = append(errs, fieldError{Loc: []string{"body", f.name}, Msg: "Input should be a valid number", Type: "float_parsing"})
		case n < 0 || n > 1:
			errs = append(errs, fieldError{Loc: []string{"body", f.name}, Msg: "Input should be between 0 and 1", Type: "range"})
		default:
			*f.dst = n
		}
	}

	if v := r.FormValue("use_ml"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fieldError{Loc: []string{"body", "use_ml"}, Msg: "Input should be a valid boolean", Type: "bool_parsing"})
		} else {
			u.params.UseML = b
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return u, nil
}

func imageSize(data []byte) (services.Size, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return services.Size{}, fmt.Errorf("cannot identify image file: %w", err)
	}
	return services.Size{cfg.Width, cfg.Height}, nil
}

// method names the path a request takes, mirroring the backend's labels.
func (m *MockBackend) method(useML bool) (string, bool) {
	loaded, loading := m.state()
	switch {
	case !useML:
		return "mock (ml disabled)", false
	case loaded:
		return "mock", true
	case loading:
		return "mock (model loading)", false
	default:
		return "mock (ml unavailable)", false
	}
}

func (m *MockBackend) upscale(w http.ResponseWriter, r *http.Request) {
	u, errs := parseUpload(r)
	if errs != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": errs})
		return
	}

	size, err := imageSize(u.data)
	if err != nil {
		writeJSON(w, http.StatusOK, services.UpscaleResponse{Success: false, Error: err.Error()})
		return
	}

	method, ml := m.method(u.params.UseML)
	if ml && m.opts.FailAt > 0 {
		writeJSON(w, http.StatusOK, services.UpscaleResponse{Success: false, Error: m.failure(m.opts.FailAt)})
		return
	}

	writeJSON(w, http.StatusOK, services.UpscaleResponse{
		Success:      true,
		ImageBase64:  base64.StdEncoding.EncodeToString(u.data),
		OriginalSize: size,
		UpscaledSize: size,
		Method:       method,
	})
}

func (m *MockBackend) failure(step int) string {
	return fmt.Sprintf("injected failure at step %d", step)
}

// stream emits the SSE sequence for one upscale.
//
// Once headers are sent every failure is reported as an error event, never as a status code.
func (m *MockBackend) stream(w http.ResponseWriter, r *http.Request) {
	u, errs := parseUpload(r)
	if errs != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"detail": errs})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sse := &eventWriter{w: w, rc: http.NewResponseController(w)}
	logger := shared.WithLogger(m.logger, "scale", u.params.Scale, "use_ml", u.params.UseML)

	size, err := imageSize(u.data)
	if err != nil {
		sse.send(services.Event{Type: services.EventError, Error: err.Error()})
		return
	}
	sse.send(services.Event{Type: services.EventStart, OriginalSize: size})

	method, ml := m.method(u.params.UseML)
	if ml {
		var preview string
		for step := 1; step <= m.opts.Steps; step++ {
			if !m.wait(r) {
				logger.Debug("client went away", "step", step)
				return
			}
			if step == m.opts.DropAt {
				logger.Info("dropping stream", "step", step)
				return
			}
			if step == m.opts.FailAt {
				sse.send(services.Event{Type: services.EventError, Error: m.failure(step)})
				return
			}

			ev := services.Event{
				Type:    services.EventProgress,
				Step:    step,
				Total:   m.opts.Steps,
				Percent: float64(step * 100 / m.opts.Steps),
			}
			if step%2 == 0 {
				if preview == "" {
					preview = base64.StdEncoding.EncodeToString(u.data)
				}
				ev.Preview = preview
			}
			if err := sse.send(ev); err != nil {
				logger.Debug("write failed", "error", err)
				return
			}
		}
	} else {
		if u.params.UseML {
			sse.send(services.Event{Type: services.EventFallback, Reason: method})
		}
		for _, ev := range []services.Event{
			{Type: services.EventProgress, Step: 1, Total: 3, Percent: 33, Message: "Resizing..."},
			{Type: services.EventProgress, Step: 3, Total: 3, Percent: 100, Message: "Enhancing..."},
		} {
			if !m.wait(r) {
				return
			}
			if err := sse.send(ev); err != nil {
				return
			}
		}
	}

	logger.Info("complete", "size", size, "method", method)
	sse.send(services.Event{
		Type:         services.EventComplete,
		Image:        base64.StdEncoding.EncodeToString(u.data),
		OriginalSize: size,
		UpscaledSize: size,
		Method:       method,
	})
}

// wait sleeps for the configured delay. Returns false if the client disconnected first.
func (m *MockBackend) wait(r *http.Request) bool {
	t := time.NewTimer(m.opts.Delay)
	defer t.Stop()

	select {
	case <-r.Context().Done():
		return false
	case <-t.C:
		return true
	}
}

type eventWriter struct {
	w  io.Writer
	rc *http.ResponseController
}

func (e *eventWriter) send(ev services.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", data); err != nil {
		return err
	}
	if err := e.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
