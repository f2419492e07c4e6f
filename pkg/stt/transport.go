package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// multipartBody builds a multipart form with one audio file part plus the
// given string fields. Returns the encoded body and its content type.
func multipartBody(audio []byte, filename string, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", err
	}

	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := w.WriteField(key, value); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

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

// parseAPIError reads an error response body into an APIError.
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
