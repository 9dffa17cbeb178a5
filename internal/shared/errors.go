package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Backend errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrNotConnected       = fmt.Errorf("not connected")
	ErrUpscaleFailed      = fmt.Errorf("upscale failed")
	ErrStreamIncomplete   = fmt.Errorf("stream ended before completion")
	ErrTimeout            = fmt.Errorf("operation timed out")

	// Persistence errors
	ErrJobNotFound = fmt.Errorf("job not found")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
