package tasks

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/desertthunder/upscaler/internal/services"
	"github.com/desertthunder/upscaler/internal/shared"
	tu "github.com/desertthunder/upscaler/internal/testing"
)

// batchServer streams a complete event for every upload except files named fail*.
func batchServer(t *testing.T, result []byte) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var requests atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("bad form: %v", err)
			return
		}
		_, header, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, tu.SSEFrame(t, map[string]any{"type": "start", "original_size": []int{2, 2}}))
		if strings.HasPrefix(header.Filename, "fail") {
			fmt.Fprint(w, tu.SSEFrame(t, map[string]any{"type": "error", "error": "Processing failed"}))
			return
		}
		fmt.Fprint(w, tu.SSEFrame(t, map[string]any{"type": "progress", "step": 1, "total": 1, "percent": 100}))
		fmt.Fprint(w, tu.SSEFrame(t, map[string]any{
			"type": "complete", "image": base64.StdEncoding.EncodeToString(result),
			"original_size": []int{2, 2}, "upscaled_size": []int{4, 4}, "method": "lanczos",
		}))
	}))
	t.Cleanup(server.Close)

	return server, &requests
}

// echoServer completes every upload with the uploaded bytes as the result image.
func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image: %v", err)
			return
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			t.Errorf("failed to read upload: %v", err)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, tu.SSEFrame(t, map[string]any{
			"type": "complete", "image": base64.StdEncoding.EncodeToString(data),
			"original_size": []int{1, 1}, "upscaled_size": []int{2, 2}, "method": "lanczos",
		}))
	}))
	t.Cleanup(server.Close)
	return server
}

type memoryRecorder struct {
	mu       sync.Mutex
	started  int
	finished []Status
	saved    map[string]string
}

func (m *memoryRecorder) Started(Session, services.Image, services.UpscaleParams) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
}

func (m *memoryRecorder) Finished(s Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, s.Status)
}

func (m *memoryRecorder) Saved(sessionID, path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = map[string]string{}
	}
	m.saved[sessionID] = path
}

func writeInputs(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		tu.MustWriteFile(t, path, tu.PNGBytes(t, 2, 2))
		paths = append(paths, path)
	}
	return paths
}

func TestBatchUpscale(t *testing.T) {
	result := tu.PNGBytes(t, 4, 4)

	t.Run("Upscales All Files", func(t *testing.T) {
		server, requests := batchServer(t, result)
		inputs := writeInputs(t, t.TempDir(), "a.png", "b.png", "c.png")
		outDir := filepath.Join(t.TempDir(), "out")
		rec := &memoryRecorder{}
		prog := make(chan ProgressUpdate, 100)

		res, err := BatchUpscale(context.Background(), prog, services.NewUpscaleService(server.URL, nil), inputs, BatchOpts{
			Params:     services.DefaultParams(),
			OutputDir:  outDir,
			NumWorkers: 2,
			RateLimit:  1000,
			Recorder:   rec,
		})
		if err != nil {
			t.Fatalf("BatchUpscale failed: %v", err)
		}

		if res.Total != 3 || res.Succeeded != 3 || res.Failed != 0 {
			t.Errorf("unexpected counts %+v", res)
		}
		if requests.Load() != 3 {
			t.Errorf("expected 3 requests, got %d", requests.Load())
		}

		for i, item := range res.Results {
			if item.Input != inputs[i] {
				t.Errorf("result %d out of order: %s", i, item.Input)
			}
			if !item.Success || item.Method != "lanczos" || item.UpscaledSize != (services.Size{4, 4}) {
				t.Errorf("unexpected item %+v", item)
			}
			if got := tu.MustReadFile(t, item.Output); got != string(result) {
				t.Errorf("output %s does not hold the result image", item.Output)
			}
		}
		tu.AssertFileExists(t, filepath.Join(outDir, "a_2x.png"))

		if rec.started != 3 || len(rec.finished) != 3 || len(rec.saved) != 3 {
			t.Errorf("recorder saw started=%d finished=%d saved=%d", rec.started, len(rec.finished), len(rec.saved))
		}

		var manifest BatchResult
		if err := json.Unmarshal([]byte(tu.MustReadFile(t, res.ManifestPath)), &manifest); err != nil {
			t.Fatalf("invalid manifest: %v", err)
		}
		if manifest.Succeeded != 3 || len(manifest.Results) != 3 || manifest.Params.Scale != 2 {
			t.Errorf("unexpected manifest %+v", manifest)
		}

		close(prog)
		phases := map[Phase]int{}
		for update := range prog {
			phases[update.Phase]++
		}
		if phases[SaveResult] != 3 || phases[WriteManifest] != 1 || phases[UpscaleImage] == 0 {
			t.Errorf("unexpected progress phases %v", phases)
		}
	})

	t.Run("Same Name In Different Directories", func(t *testing.T) {
		server := echoServer(t)
		root := t.TempDir()
		first := filepath.Join(root, "a", "cat.png")
		second := filepath.Join(root, "b", "cat.png")
		third := filepath.Join(root, "c", "cat.png")
		inputs := []string{first, second, third}
		for i, path := range inputs {
			if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
				t.Fatalf("mkdir failed: %v", err)
			}
			tu.MustWriteFile(t, path, tu.PNGBytes(t, i+1, i+1))
		}
		outDir := filepath.Join(t.TempDir(), "out")

		res, err := BatchUpscale(context.Background(), nil, services.NewUpscaleService(server.URL, nil), inputs, BatchOpts{
			Params:     services.DefaultParams(),
			OutputDir:  outDir,
			NumWorkers: 3,
			RateLimit:  1000,
		})
		if err != nil {
			t.Fatalf("BatchUpscale failed: %v", err)
		}
		if res.Succeeded != 3 {
			t.Fatalf("expected 3 successes, got %+v", res)
		}

		want := []string{"cat_2x.png", "cat-2_2x.png", "cat-3_2x.png"}
		for i, item := range res.Results {
			if item.Output != filepath.Join(outDir, want[i]) {
				t.Errorf("result %d: output %s, want %s", i, item.Output, want[i])
			}
			if got := tu.MustReadFile(t, item.Output); got != tu.MustReadFile(t, inputs[i]) {
				t.Errorf("result %d: %s does not hold its own image", i, item.Output)
			}
		}

		entries, err := os.ReadDir(outDir)
		if err != nil {
			t.Fatalf("failed to list output: %v", err)
		}
		if len(entries) != 4 {
			t.Errorf("expected 3 images and a manifest, got %d files", len(entries))
		}
	})

	t.Run("Partial Failure", func(t *testing.T) {
		server, _ := batchServer(t, result)
		dir := t.TempDir()
		inputs := writeInputs(t, dir, "ok.png", "fail.png")
		notImage := filepath.Join(dir, "notes.txt")
		tu.MustWriteFile(t, notImage, []byte("hello"))
		inputs = append(inputs, notImage)

		res, err := BatchUpscale(context.Background(), nil, services.NewUpscaleService(server.URL, nil), inputs, BatchOpts{
			Params:    services.DefaultParams(),
			OutputDir: t.TempDir(),
			RateLimit: 1000,
		})
		if err != nil {
			t.Fatalf("BatchUpscale failed: %v", err)
		}

		if res.Succeeded != 1 || res.Failed != 2 {
			t.Errorf("expected 1 success and 2 failures, got %+v", res)
		}
		if res.Results[1].Error != "Processing failed" {
			t.Errorf("expected server error, got %q", res.Results[1].Error)
		}
		if !strings.Contains(res.Results[2].Error, "not an image") {
			t.Errorf("expected load error, got %q", res.Results[2].Error)
		}
	})

	t.Run("Canceled Context", func(t *testing.T) {
		server, requests := batchServer(t, result)
		inputs := writeInputs(t, t.TempDir(), "a.png", "b.png")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		res, err := BatchUpscale(ctx, nil, services.NewUpscaleService(server.URL, nil), inputs, BatchOpts{
			Params:    services.DefaultParams(),
			OutputDir: t.TempDir(),
		})
		if err != nil {
			t.Fatalf("BatchUpscale failed: %v", err)
		}
		if res.Succeeded != 0 || res.Failed != 2 {
			t.Errorf("expected all failed, got %+v", res)
		}
		if requests.Load() != 0 {
			t.Errorf("expected no requests, got %d", requests.Load())
		}
	})

	t.Run("Validation", func(t *testing.T) {
		if _, err := BatchUpscale(context.Background(), nil, nil, []string{"a.png"}, BatchOpts{}); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable, got %v", err)
		}

		client := services.NewUpscaleService("http://127.0.0.1:1", nil)
		if _, err := BatchUpscale(context.Background(), nil, client, nil, BatchOpts{}); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}
