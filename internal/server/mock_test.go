package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/desertthunder/upscaler/internal/tasks"
	tu "github.com/desertthunder/upscaler/internal/testing"
)

func newMockServer(t *testing.T, opts MockOpts, token string) (*httptest.Server, *services.UpscaleService) {
	t.Helper()
	if opts.Delay == 0 {
		opts.Delay = time.Millisecond
	}
	logger := shared.NewLogger(io.Discard)
	opts.Logger = logger

	srv := httptest.NewServer(NewMockRouter(NewMockBackend(opts), logger, token))
	t.Cleanup(srv.Close)

	client := services.NewHTTPClient(context.Background(), token)
	return srv, services.NewUpscaleService(srv.URL, client)
}

func testImage(t *testing.T, w, h int) services.Image {
	t.Helper()
	img, err := services.NewImage("photo.png", tu.PNGBytes(t, w, h))
	if err != nil {
		t.Fatalf("NewImage failed: %v", err)
	}
	return img
}

func collect(t *testing.T, stream *services.EventStream) ([]services.Event, error) {
	t.Helper()
	defer stream.Close()

	var events []services.Event
	for {
		ev, err := stream.Next()
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

func TestMockBackend(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		t.Run("Model Loaded", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")

			h, err := svc.Health(context.Background())
			if err != nil {
				t.Fatalf("Health failed: %v", err)
			}
			if h.Status != "healthy" || !h.ModelLoaded || h.ModelLoading {
				t.Errorf("unexpected health: %+v", h)
			}
		})

		t.Run("No ML", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{NoML: true}, "")

			h, err := svc.Health(context.Background())
			if err != nil {
				t.Fatalf("Health failed: %v", err)
			}
			if h.ModelLoaded {
				t.Error("expected model not loaded")
			}
		})
	})

	t.Run("Info", func(t *testing.T) {
		_, svc := newMockServer(t, MockOpts{}, "")

		info, err := svc.Info(context.Background())
		if err != nil {
			t.Fatalf("Info failed: %v", err)
		}
		if info.Version != mockVersion {
			t.Errorf("expected version %s, got %s", mockVersion, info.Version)
		}
		if _, ok := info.Endpoints["/upscale/stream"]; !ok {
			t.Errorf("missing stream endpoint in %v", info.Endpoints)
		}
	})

	t.Run("Load Model", func(t *testing.T) {
		t.Run("Already Loaded", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")

			resp, err := svc.LoadModel(context.Background())
			if err != nil {
				t.Fatalf("LoadModel failed: %v", err)
			}
			if resp.Status != "already_loaded" {
				t.Errorf("expected already_loaded, got %s", resp.Status)
			}
		})

		t.Run("Loads In Background", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{NoML: true, Steps: 1, Delay: 20 * time.Millisecond}, "")
			ctx := context.Background()

			resp, err := svc.LoadModel(ctx)
			if err != nil {
				t.Fatalf("LoadModel failed: %v", err)
			}
			if resp.Status != "started" {
				t.Fatalf("expected started, got %s", resp.Status)
			}

			resp, err = svc.LoadModel(ctx)
			if err != nil {
				t.Fatalf("LoadModel failed: %v", err)
			}
			if resp.Status != "loading" {
				t.Errorf("expected loading, got %s", resp.Status)
			}

			deadline := time.Now().Add(2 * time.Second)
			for time.Now().Before(deadline) {
				h, err := svc.Health(ctx)
				if err != nil {
					t.Fatalf("Health failed: %v", err)
				}
				if h.ModelLoaded {
					return
				}
				time.Sleep(10 * time.Millisecond)
			}
			t.Error("model never finished loading")
		})
	})

	t.Run("Routing", func(t *testing.T) {
		srv, _ := newMockServer(t, MockOpts{}, "")

		tests := []struct {
			name   string
			method string
			path   string
			status int
			allow  string
		}{
			{"Unknown Path", http.MethodGet, "/nope", http.StatusNotFound, ""},
			{"Wrong Method", http.MethodGet, "/upscale/stream", http.StatusMethodNotAllowed, "POST"},
			{"Health Post", http.MethodPost, "/health", http.StatusMethodNotAllowed, "GET"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				req, _ := http.NewRequest(tt.method, srv.URL+tt.path, nil)
				resp, err := srv.Client().Do(req)
				if err != nil {
					t.Fatalf("request failed: %v", err)
				}
				defer resp.Body.Close()

				if resp.StatusCode != tt.status {
					t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
				}
				if tt.status == http.StatusMethodNotAllowed && resp.Header.Get("Allow") != tt.allow {
					t.Errorf("expected Allow %q, got %q", tt.allow, resp.Header.Get("Allow"))
				}
			})
		}
	})

	t.Run("Bearer Auth", func(t *testing.T) {
		srv, svc := newMockServer(t, MockOpts{}, "secret")

		if _, err := svc.Health(context.Background()); err != nil {
			t.Errorf("authorized request failed: %v", err)
		}

		resp, err := srv.Client().Get(srv.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("expected 401, got %d", resp.StatusCode)
		}
	})

	t.Run("Stream", func(t *testing.T) {
		t.Run("ML Path", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{Steps: 4}, "")

			stream, err := svc.Stream(context.Background(), testImage(t, 6, 4), services.DefaultParams())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, err := collect(t, stream)
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected EOF, got %v", err)
			}

			if len(events) != 6 {
				t.Fatalf("expected 6 events, got %d: %+v", len(events), events)
			}
			if events[0].Type != services.EventStart || events[0].OriginalSize != (services.Size{6, 4}) {
				t.Errorf("unexpected start event: %+v", events[0])
			}
			for i, ev := range events[1:5] {
				if ev.Type != services.EventProgress || ev.Step != i+1 || ev.Total != 4 {
					t.Errorf("unexpected progress event %d: %+v", i, ev)
				}
			}
			if events[2].Preview == "" {
				t.Error("expected preview on step 2")
			}

			last := events[5]
			if last.Type != services.EventComplete || last.Method != "mock" || last.Image == "" {
				t.Errorf("unexpected complete event: %+v", last)
			}
		})

		t.Run("Fallback Without Model", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{NoML: true}, "")

			stream, err := svc.Stream(context.Background(), testImage(t, 2, 2), services.DefaultParams())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, _ := collect(t, stream)

			types := make([]string, len(events))
			for i, ev := range events {
				types[i] = string(ev.Type)
			}
			want := "start,fallback,progress,progress,complete"
			if got := strings.Join(types, ","); got != want {
				t.Fatalf("expected %s, got %s", want, got)
			}
			if m := events[len(events)-1].Method; m != "mock (ml unavailable)" {
				t.Errorf("unexpected method %q", m)
			}
		})

		t.Run("ML Disabled", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")
			params := services.DefaultParams()
			params.UseML = false

			stream, err := svc.Stream(context.Background(), testImage(t, 2, 2), params)
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, _ := collect(t, stream)
			for _, ev := range events {
				if ev.Type == services.EventFallback {
					t.Error("fallback should not be sent when ML is disabled")
				}
			}
			if m := events[len(events)-1].Method; m != "mock (ml disabled)" {
				t.Errorf("unexpected method %q", m)
			}
		})

		t.Run("Injected Failure", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{Steps: 5, FailAt: 3}, "")

			stream, err := svc.Stream(context.Background(), testImage(t, 2, 2), services.DefaultParams())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, _ := collect(t, stream)

			last := events[len(events)-1]
			if last.Type != services.EventError || last.Error != "injected failure at step 3" {
				t.Errorf("unexpected last event: %+v", last)
			}
		})

		t.Run("Dropped Stream", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{Steps: 5, DropAt: 2}, "")

			stream, err := svc.Stream(context.Background(), testImage(t, 2, 2), services.DefaultParams())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, err := collect(t, stream)
			if !errors.Is(err, io.EOF) {
				t.Fatalf("expected EOF, got %v", err)
			}
			for _, ev := range events {
				if ev.Type.Terminal() {
					t.Errorf("unexpected terminal event %+v", ev)
				}
			}
		})

		t.Run("Undecodable Image", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")
			img := services.Image{Name: "bad.png", ContentType: "image/png", Data: []byte("not really a png")}

			stream, err := svc.Stream(context.Background(), img, services.DefaultParams())
			if err != nil {
				t.Fatalf("Stream failed: %v", err)
			}
			events, _ := collect(t, stream)
			if len(events) != 1 || events[0].Type != services.EventError {
				t.Errorf("expected a single error event, got %+v", events)
			}
		})

		t.Run("Validation Error", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")
			params := services.DefaultParams()
			params.Scale = 7

			_, err := svc.Stream(context.Background(), testImage(t, 2, 2), params)
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Fatalf("expected ErrAPIRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "scale") {
				t.Errorf("expected 422 scale detail, got %v", err)
			}
		})

		t.Run("Missing Image", func(t *testing.T) {
			srv, _ := newMockServer(t, MockOpts{}, "")

			resp, err := srv.Client().Post(srv.URL+"/upscale/stream", "multipart/form-data; boundary=x", bytes.NewBufferString("--x--\r\n"))
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d", resp.StatusCode)
			}
			var body struct {
				Detail []fieldError `json:"detail"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode detail: %v", err)
			}
			if len(body.Detail) == 0 || body.Detail[0].Loc[1] != "image" {
				t.Errorf("expected image field error, got %+v", body.Detail)
			}
		})
	})

	t.Run("Upscale", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{}, "")
			img := testImage(t, 3, 5)

			resp, err := svc.Upscale(context.Background(), img, services.DefaultParams())
			if err != nil {
				t.Fatalf("Upscale failed: %v", err)
			}
			if resp.OriginalSize != (services.Size{3, 5}) || resp.Method != "mock" {
				t.Errorf("unexpected response: %+v", resp)
			}
		})

		t.Run("Injected Failure", func(t *testing.T) {
			_, svc := newMockServer(t, MockOpts{FailAt: 1}, "")

			resp, err := svc.Upscale(context.Background(), testImage(t, 2, 2), services.DefaultParams())
			if !errors.Is(err, shared.ErrUpscaleFailed) {
				t.Fatalf("expected ErrUpscaleFailed, got %v", err)
			}
			if resp == nil || resp.Success {
				t.Errorf("expected unsuccessful response, got %+v", resp)
			}
		})
	})
}

// TestControllerAgainstMock drives the session controller over real HTTP.
func TestControllerAgainstMock(t *testing.T) {
	t.Run("Completes", func(t *testing.T) {
		_, svc := newMockServer(t, MockOpts{Steps: 3}, "")
		ctrl := tasks.NewController(svc, tasks.ControllerOpts{})
		img := testImage(t, 4, 4)

		<-ctrl.Upscale(context.Background(), img, services.DefaultParams())

		s := ctrl.Session()
		if s.Status != tasks.StatusComplete {
			t.Fatalf("expected complete, got %s (%v)", s.Status, s.Err)
		}
		data, err := s.Result.Bytes()
		if err != nil {
			t.Fatalf("Bytes failed: %v", err)
		}
		if !bytes.Equal(data, img.Data) {
			t.Error("result should echo the input image")
		}
		if s.Progress != nil {
			t.Error("progress should be cleared on completion")
		}
	})

	t.Run("Server Error", func(t *testing.T) {
		_, svc := newMockServer(t, MockOpts{Steps: 3, FailAt: 2}, "")
		ctrl := tasks.NewController(svc, tasks.ControllerOpts{})

		<-ctrl.Upscale(context.Background(), testImage(t, 2, 2), services.DefaultParams())

		s := ctrl.Session()
		if s.Status != tasks.StatusError || s.ErrorMessage() != "injected failure at step 2" {
			t.Errorf("unexpected session: %s %q", s.Status, s.ErrorMessage())
		}
	})

	t.Run("Dropped Stream", func(t *testing.T) {
		_, svc := newMockServer(t, MockOpts{Steps: 3, DropAt: 2}, "")
		ctrl := tasks.NewController(svc, tasks.ControllerOpts{})

		<-ctrl.Upscale(context.Background(), testImage(t, 2, 2), services.DefaultParams())

		s := ctrl.Session()
		if s.Status != tasks.StatusError || !errors.Is(s.Err, shared.ErrStreamIncomplete) {
			t.Errorf("expected incomplete stream error, got %s %v", s.Status, s.Err)
		}
	})

	t.Run("Cancel Mid Stream", func(t *testing.T) {
		_, svc := newMockServer(t, MockOpts{Steps: 50, Delay: 20 * time.Millisecond}, "")
		ctrl := tasks.NewController(svc, tasks.ControllerOpts{})
		updates, unsubscribe := ctrl.Subscribe()
		defer unsubscribe()

		done := ctrl.Upscale(context.Background(), testImage(t, 2, 2), services.DefaultParams())

		timeout := time.After(2 * time.Second)
		for progressed := false; !progressed; {
			select {
			case s := <-updates:
				progressed = s.Progress != nil && s.Progress.Step > 0
			case <-timeout:
				t.Fatal("no progress before timeout")
			}
		}

		ctrl.Cancel()
		<-done

		s := ctrl.Session()
		if s.Status != tasks.StatusIdle || s.Err != nil || s.Progress != nil {
			t.Errorf("expected clean idle session, got %+v", s)
		}
	})
}
