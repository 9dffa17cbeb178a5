package services

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeForm builds the multipart body shared by /upscale and /upscale/stream.
//
// Returns the body and its Content-Type (including boundary).
func encodeForm(image Image, params UpscaleParams) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	contentType := image.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="%s"`, quoteEscaper.Replace(image.Name)))
	h.Set("Content-Type", contentType)

	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create image part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write image part: %w", err)
	}

	fields := []struct{ name, value string }{
		{"scale", strconv.Itoa(params.Scale)},
		{"denoise", strconv.FormatFloat(params.Denoise, 'f', -1, 64)},
		{"creativity", strconv.FormatFloat(params.Creativity, 'f', -1, 64)},
		{"use_ml", strconv.FormatBool(params.UseML)},
	}
	for _, f := range fields {
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finalize form: %w", err)
	}

	return body, w.FormDataContentType(), nil
}
