package tasks

import (
	"fmt"
	"path/filepath"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	LoadImage Phase = iota
	UpscaleImage
	SaveResult
	WriteManifest
)

func (p Phase) String() string {
	switch p {
	case LoadImage:
		return "load_image"
	case UpscaleImage:
		return "upscale"
	case SaveResult:
		return "save_result"
	case WriteManifest:
		return "write_manifest"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
		// Channel full, skip this update
	}
}

func loadFailedUpdate(step, total int, path string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   LoadImage,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, filepath.Base(path), err),
	}
}

func upscalingUpdate(step, total int, path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   UpscaleImage,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Upscaling %s...", step, total, filepath.Base(path)),
	}
}

// sessionUpdate relays a worker's session progress; Data carries the [Session].
func sessionUpdate(step, total int, path string, s Session) ProgressUpdate {
	msg := fmt.Sprintf("%s: %s", filepath.Base(path), s.Status)
	if s.Progress != nil {
		msg = fmt.Sprintf("%s: %.0f%%", filepath.Base(path), s.Progress.Percent)
		if s.Progress.Message != "" {
			msg += " " + s.Progress.Message
		}
	}
	return ProgressUpdate{
		Phase:   UpscaleImage,
		Step:    step,
		Total:   total,
		Message: msg,
		Data:    s,
	}
}

func savedUpdate(step, total int, res BatchItemResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveResult,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s → %s (%s)", step, total, filepath.Base(res.Input), res.Output, res.Method),
		Data:    res,
	}
}

func failedUpdate(step, total int, res BatchItemResult) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SaveResult,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %s", step, total, filepath.Base(res.Input), res.Error),
		Data:    res,
	}
}

func manifestUpdate(path string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   WriteManifest,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Manifest written to %s", path),
	}
}
