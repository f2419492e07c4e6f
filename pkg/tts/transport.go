package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// doWithRetry performs req with bounded retry on 429/5xx and transport
// errors. The body is re-read from payload on each attempt.
func doWithRetry(ctx context.Context, client *http.Client, req *http.Request, payload []byte, cfg *Config, provider string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryDelay * time.Duration(attempt)):
			}
			cfg.Logger.Warn("retrying request",
				"provider", provider,
				"attempt", attempt+1,
			)
		}

		req.Body = io.NopCloser(bytes.NewReader(payload))

		resp, err := client.Do(req)
		if err != nil {
			lastErr = WrapError(provider, err)
			continue
		}

		if resp.StatusCode == 429 || resp.StatusCode >= 500 {
			lastErr = parseAPIError(resp, provider)
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, lastErr
}

// parseAPIError reads an error response body into an APIError. It tries the
// common {"detail":{"message":...}} and {"error":{"message":...}} shapes
// before falling back to the raw body.
func parseAPIError(resp *http.Response, provider string) error {
	body, _ := io.ReadAll(resp.Body)

	message := string(body)

	var detail struct {
		Detail struct {
			Message string `json:"message"`
		} `json:"detail"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &detail) == nil {
		if detail.Detail.Message != "" {
			message = detail.Detail.Message
		} else if detail.Error.Message != "" {
			message = detail.Error.Message
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   provider,
	}
}

// httpStream wraps an HTTP response body as an AudioStream.
type httpStream struct {
	body        io.ReadCloser
	contentType string
	buf         [readChunk]byte
}

// Read returns the next audio chunk, or nil at end of stream.
func (s *httpStream) Read() ([]byte, error) {
	n, err := s.body.Read(s.buf[:])
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, s.buf[:n])
		return chunk, nil
	}
	if err == io.EOF {
		return nil, nil
	}
	return nil, err
}

// Close stops the stream.
func (s *httpStream) Close() error {
	return s.body.Close()
}

// ContentType returns the MIME type of the stream.
func (s *httpStream) ContentType() string {
	return s.contentType
}
