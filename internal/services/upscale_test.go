package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/desertthunder/upscaler/internal/shared"
	tu "github.com/desertthunder/upscaler/internal/testing"
)

func testImage(t *testing.T) Image {
	t.Helper()
	img, err := NewImage("cat.png", tu.PNGBytes(t, 4, 3))
	if err != nil {
		t.Fatalf("failed to build test image: %v", err)
	}
	return img
}

func TestUpscaleService(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		t.Run("Defaults", func(t *testing.T) {
			srv := NewUpscaleService("", nil)

			if srv.BaseURL() != "http://localhost:8000" {
				t.Errorf("expected default base URL, got %s", srv.BaseURL())
			}
			if srv.httpClient != http.DefaultClient {
				t.Error("expected http.DefaultClient to be used")
			}
		})

		t.Run("Trims Base URL", func(t *testing.T) {
			srv := NewUpscaleService("  http://gpu:8000/ ", nil)

			if srv.BaseURL() != "http://gpu:8000" {
				t.Errorf("expected trimmed base URL, got %q", srv.BaseURL())
			}
		})
	})

	t.Run("Health", func(t *testing.T) {
		t.Run("Decodes Payload", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/health" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"status":"healthy","model_loaded":true,"model_loading":false,"model_type":"sd_upscaler","gpu_available":true,"device":"cuda","error":null}`))
			}))
			defer server.Close()

			health, err := NewUpscaleService(server.URL, nil).Health(context.Background())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if health.Status != "healthy" || !health.ModelLoaded || !health.GPUAvailable || health.Device != "cuda" {
				t.Errorf("unexpected health %+v", health)
			}
			if health.Summary() != "healthy on cuda, model ready (sd_upscaler)" {
				t.Errorf("unexpected summary %q", health.Summary())
			}
		})

		t.Run("Transport Failure", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("connection refused"))}

			_, err := NewUpscaleService("http://example.com", client).Health(context.Background())
			if err == nil || !strings.Contains(err.Error(), "request failed") {
				t.Errorf("expected request failed error, got %v", err)
			}
		})

		t.Run("Non 2xx Status", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}))
			defer server.Close()

			_, err := NewUpscaleService(server.URL, nil).Health(context.Background())
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Errorf("expected ErrAPIRequest, got %v", err)
			}
		})
	})

	t.Run("LoadModel", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.URL.Path != "/load-model" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			json.NewEncoder(w).Encode(LoadModelResponse{Status: "started", Message: "Model loading started"})
		}))
		defer server.Close()

		resp, err := NewUpscaleService(server.URL, nil).LoadModel(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if resp.Status != "started" {
			t.Errorf("expected started, got %s", resp.Status)
		}
	})

	t.Run("Info", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"name":"Qwen Upscaler API","version":"2.1.0","ml_status":{"available":false,"loading":true,"device":"mps","error":null},"endpoints":{"/health":"GET - Check server status"}}`))
		}))
		defer server.Close()

		info, err := NewUpscaleService(server.URL, nil).Info(context.Background())
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if info.Version != "2.1.0" || !info.MLStatus.Loading || info.MLStatus.Device != "mps" {
			t.Errorf("unexpected info %+v", info)
		}
		if len(info.Endpoints) != 1 {
			t.Errorf("expected 1 endpoint, got %d", len(info.Endpoints))
		}
	})

	t.Run("Upscale", func(t *testing.T) {
		t.Run("Sends Multipart Form", func(t *testing.T) {
			img := testImage(t)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/upscale" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if err := r.ParseMultipartForm(1 << 20); err != nil {
					t.Fatalf("failed to parse form: %v", err)
				}

				want := map[string]string{"scale": "3", "denoise": "0.5", "creativity": "0.25", "use_ml": "false"}
				for k, v := range want {
					if got := r.FormValue(k); got != v {
						t.Errorf("field %s: expected %q, got %q", k, v, got)
					}
				}

				file, header, err := r.FormFile("image")
				if err != nil {
					t.Fatalf("missing image part: %v", err)
				}
				defer file.Close()
				data, _ := io.ReadAll(file)
				if len(data) != len(img.Data) {
					t.Errorf("expected %d image bytes, got %d", len(img.Data), len(data))
				}
				if header.Filename != "cat.png" {
					t.Errorf("expected filename cat.png, got %s", header.Filename)
				}
				if header.Header.Get("Content-Type") != "image/png" {
					t.Errorf("expected image/png part, got %s", header.Header.Get("Content-Type"))
				}

				json.NewEncoder(w).Encode(map[string]any{
					"success": true, "image_base64": "QUJD", "original_size": []int{4, 3},
					"upscaled_size": []int{12, 9}, "method": "lanczos",
				})
			}))
			defer server.Close()

			params := UpscaleParams{Scale: 3, Denoise: 0.5, Creativity: 0.25, UseML: false}
			resp, err := NewUpscaleService(server.URL, nil).Upscale(context.Background(), img, params)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if resp.ImageBase64 != "QUJD" || resp.UpscaledSize != (Size{12, 9}) || resp.Method != "lanczos" {
				t.Errorf("unexpected response %+v", resp)
			}
		})

		t.Run("Unsuccessful Response", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"success":false,"error":"cannot identify image file"}`))
			}))
			defer server.Close()

			resp, err := NewUpscaleService(server.URL, nil).Upscale(context.Background(), testImage(t), DefaultParams())
			if !errors.Is(err, shared.ErrUpscaleFailed) {
				t.Fatalf("expected ErrUpscaleFailed, got %v", err)
			}
			if !strings.Contains(err.Error(), "cannot identify image file") {
				t.Errorf("expected server message in error, got %v", err)
			}
			if resp == nil || resp.Success {
				t.Error("expected unsuccessful response to be returned")
			}
		})

		t.Run("Validation Error Detail", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"detail":[{"loc":["body","scale"],"msg":"ensure this value is less than or equal to 4"}]}`))
			}))
			defer server.Close()

			_, err := NewUpscaleService(server.URL, nil).Upscale(context.Background(), testImage(t), DefaultParams())
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Fatalf("expected ErrAPIRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), "422") || !strings.Contains(err.Error(), "less than or equal to 4") {
				t.Errorf("expected status and detail in error, got %v", err)
			}
		})
	})

	t.Run("Stream", func(t *testing.T) {
		t.Run("Returns Event Stream", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/upscale/stream" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				if r.Header.Get("Accept") != "text/event-stream" {
					t.Errorf("expected event-stream accept header, got %s", r.Header.Get("Accept"))
				}
				w.Header().Set("Content-Type", "text/event-stream")
				io.WriteString(w, tu.SSEFrame(t, map[string]any{"type": "start"}))
				io.WriteString(w, tu.SSEFrame(t, map[string]any{"type": "complete", "image": "AAA", "method": "ml"}))
			}))
			defer server.Close()

			stream, err := NewUpscaleService(server.URL, nil).Stream(context.Background(), testImage(t), DefaultParams())
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			defer stream.Close()

			var types []EventType
			for {
				ev, err := stream.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				types = append(types, ev.Type)
			}
			if len(types) != 2 || types[0] != EventStart || types[1] != EventComplete {
				t.Errorf("unexpected event types %v", types)
			}
		})

		t.Run("Non 2xx Is An Error", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"Internal error"}`, http.StatusInternalServerError)
			}))
			defer server.Close()

			_, err := NewUpscaleService(server.URL, nil).Stream(context.Background(), testImage(t), DefaultParams())
			if !errors.Is(err, shared.ErrAPIRequest) {
				t.Fatalf("expected ErrAPIRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), "Internal error") {
				t.Errorf("expected detail in error, got %v", err)
			}
		})

		t.Run("Network Failure", func(t *testing.T) {
			client := &http.Client{Transport: tu.NewMockRoundTripper(nil, errors.New("dial tcp: connection refused"))}

			_, err := NewUpscaleService("http://example.com", client).Stream(context.Background(), testImage(t), DefaultParams())
			if err == nil || !strings.Contains(err.Error(), "connection refused") {
				t.Errorf("expected connection error, got %v", err)
			}
		})
	})

	t.Run("NewHTTPClient", func(t *testing.T) {
		t.Run("Without Token", func(t *testing.T) {
			if NewHTTPClient(context.Background(), "") != http.DefaultClient {
				t.Error("expected default client without token")
			}
		})

		t.Run("With Token Sets Bearer Header", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.Header.Get("Authorization"); got != "Bearer s3cret" {
					t.Errorf("expected bearer header, got %q", got)
				}
				w.Write([]byte(`{"status":"healthy","device":"cpu"}`))
			}))
			defer server.Close()

			client := NewHTTPClient(context.Background(), "s3cret")
			if _, err := NewUpscaleService(server.URL, client).Health(context.Background()); err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
		})
	})
}
