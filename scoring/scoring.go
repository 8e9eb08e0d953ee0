// CLAUDE:SUMMARY Client for the external image-similarity service: posts wireframe and webpage PNGs as multipart, decodes the verdict.
// Package scoring talks to the optional similarity-analysis service that
// scores a wireframe against a captured page. Its verdict is supplementary:
// callers must not fail a comparison because scoring failed.
package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/hazyhaar/wirediff/horosafe"
)

// ErrDisabled is returned by Analyze when no service URL is configured.
var ErrDisabled = errors.New("scoring: service URL not configured")

// Config configures the scoring client.
type Config struct {
	// URL of the compare endpoint, e.g. http://localhost:5000/compare.
	URL string
	// Timeout per request. Default: 5 minutes (the service is slow).
	Timeout time.Duration
	// MaxResponse caps the response body. Default: horosafe.MaxResponseBody.
	MaxResponse int64

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Verdict is the service's answer.
type Verdict struct {
	Success bool `json:"success"`
	// Results is the service's comparison_results object, kept verbatim.
	Results json.RawMessage `json:"comparison_results,omitempty"`
	// SimilarityScore is lifted out of Results when present.
	SimilarityScore *float64 `json:"similarity_score,omitempty"`
}

type response struct {
	Success bool            `json:"success"`
	Results json.RawMessage `json:"comparison_results"`
	Error   string          `json:"error"`
}

// Client posts image pairs to the scoring service.
type Client struct {
	cfg Config
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxResponse <= 0 {
		cfg.MaxResponse = horosafe.MaxResponseBody
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg}
}

// Enabled reports whether a service URL is configured.
func (c *Client) Enabled() bool { return c != nil && c.cfg.URL != "" }

// Analyze sends both PNGs and returns the decoded verdict.
func (c *Client) Analyze(ctx context.Context, wireframe, webpage []byte) (*Verdict, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	body, contentType, err := encodeForm(wireframe, webpage)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("scoring: new request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scoring: post: %w", err)
	}
	defer resp.Body.Close()

	raw, err := horosafe.LimitedReadAll(resp.Body, c.cfg.MaxResponse)
	if err != nil {
		return nil, fmt.Errorf("scoring: read response: %w", err)
	}

	var r response
	decodeErr := json.Unmarshal(raw, &r)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && r.Error != "" {
			return nil, fmt.Errorf("scoring: status %d: %s", resp.StatusCode, r.Error)
		}
		return nil, fmt.Errorf("scoring: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("scoring: decode response: %w", decodeErr)
	}
	if !r.Success {
		msg := r.Error
		if msg == "" {
			msg = "service reported failure"
		}
		return nil, fmt.Errorf("scoring: %s", msg)
	}

	v := &Verdict{Success: true, Results: r.Results}
	v.SimilarityScore = similarity(r.Results)

	c.cfg.Logger.Debug("scoring: verdict received", "elapsed", time.Since(start))
	return v, nil
}

func encodeForm(wireframe, webpage []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, f := range []struct {
		field string
		data  []byte
	}{
		{"wireframe", wireframe},
		{"webpage", webpage},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.field+".png"))
		h.Set("Content-Type", "image/png")
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("scoring: create part %s: %w", f.field, err)
		}
		if _, err := part.Write(f.data); err != nil {
			return nil, "", fmt.Errorf("scoring: write part %s: %w", f.field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("scoring: close form: %w", err)
	}
	return body, w.FormDataContentType(), nil
}

func similarity(results json.RawMessage) *float64 {
	if len(results) == 0 {
		return nil
	}
	var r struct {
		Score *float64 `json:"similarity_score"`
	}
	if json.Unmarshal(results, &r) != nil {
		return nil
	}
	return r.Score
}
