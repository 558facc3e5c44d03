// Package sender pushes one local file to a peer's upload endpoint.
package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"godrop/models"
)

const (
	// DefaultTimeout is generous so slow links can finish; the caller has
	// no other cancellation primitive besides the context.
	DefaultTimeout = 90 * time.Second

	uploadFieldName = "file"
)

// Options controls outbound transfers.
type Options struct {
	Timeout time.Duration
	Client  *http.Client
}

func (o Options) withDefaults() Options {
	out := o
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	if out.Client == nil {
		out.Client = &http.Client{Timeout: out.Timeout}
	}
	return out
}

// Sender issues one-shot uploads to peer receivers.
type Sender struct {
	options Options
}

// New creates a sender with option defaults applied.
func New(options Options) *Sender {
	return &Sender{options: options.withDefaults()}
}

// Send pushes one local file to the device's upload endpoint. A nil error
// means the peer acknowledged the transfer; any transport failure,
// timeout, or non-success status is an error. No retry is attempted.
//
// The whole file is buffered in memory, which is fine for the ad-hoc
// small-to-medium transfers this tool targets.
func (s *Sender) Send(ctx context.Context, device models.Device, filePath string) error {
	if device.Address == "" {
		return errors.New("device address is required")
	}
	if device.HTTPPort <= 0 || device.HTTPPort > 65535 {
		return fmt.Errorf("invalid device http port %d", device.HTTPPort)
	}
	if strings.TrimSpace(filePath) == "" {
		return errors.New("file path is required")
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	if info.IsDir() {
		return errors.New("source path must be a file")
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}

	body, contentType, err := buildUploadBody(filepath.Base(filePath), content)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s:%d/upload", device.Address, device.HTTPPort)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	request.Header.Set("Content-Type", contentType)

	response, err := s.options.Client.Do(request)
	if err != nil {
		return fmt.Errorf("upload to %q: %w", device.DeviceName, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("upload to %q: unexpected status %d", device.DeviceName, response.StatusCode)
	}
	return nil
}

// buildUploadBody assembles a multipart form with one file field. The
// multipart writer picks a fresh random boundary per call, so payload
// bytes cannot collide with it.
func buildUploadBody(filename string, content []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadFieldName, filename))
	header.Set("Content-Type", guessContentType(filename))

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create upload part: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", fmt.Errorf("write upload part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize upload body: %w", err)
	}

	return body, writer.FormDataContentType(), nil
}

func guessContentType(filename string) string {
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		return "application/octet-stream"
	}
	return contentType
}
