package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/desertthunder/upscaler/internal/shared"
	"github.com/urfave/cli/v3"
)

// apiPath normalizes the path argument, defaulting to the root endpoint.
func apiPath(cmd *cli.Command) string {
	path := strings.TrimSpace(cmd.StringArg("path"))
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

// APIGet makes a direct GET request to the backend
func (r *Runner) APIGet(ctx context.Context, cmd *cli.Command) error {
	path := apiPath(cmd)
	compact := cmd.Bool("json")

	r.logger.Info("GET request", "path", path)

	resp, err := r.api.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if !resp.OK() {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	return r.writeResponse(resp.IsJSON, resp.JSONData, resp.Body, !compact)
}

func (r *Runner) writeResponse(isJSON bool, data any, body []byte, pretty bool) error {
	if isJSON {
		return r.writeJSON(data, pretty)
	}
	return r.writePlain("%s\n", body)
}

// APIPost makes a direct POST request to the backend. Without --data the request has no body.
func (r *Runner) APIPost(ctx context.Context, cmd *cli.Command) error {
	path := apiPath(cmd)
	data := cmd.String("data")

	r.logger.Info("POST request", "path", path)

	var body []byte
	if data != "" {
		var jsonTest any
		if err := json.Unmarshal([]byte(data), &jsonTest); err != nil {
			return fmt.Errorf("%w: data is not valid JSON: %v", shared.ErrInvalidInput, err)
		}
		body = []byte(data)
	}

	resp, err := r.api.Post(ctx, path, body)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}

	if !resp.OK() {
		return fmt.Errorf("%w: status %d, body: %s", shared.ErrAPIRequest, resp.StatusCode, string(resp.Body))
	}

	return r.writeResponse(resp.IsJSON, resp.JSONData, resp.Body, true)
}

