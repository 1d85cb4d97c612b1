package segmentation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"partforge/internal/geometry"
	"partforge/internal/services"
)

const (
	defaultTimeout   = 60 * time.Second
	defaultTolerance = 1.5
	maxMaskBytes     = 64 << 20
)

// Config describes the segmentation endpoint.
type Config struct {
	URL            string
	APIKey         string
	TimeoutSeconds int
	// Tolerance is the Douglas-Peucker tolerance in mask pixels.
	Tolerance float64
}

// HTTPDoer describes the HTTP client used by the segmentation client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.httpClient = doer
		}
	}
}

// Client requests masks and vectorizes them.
type Client struct {
	url        string
	apiKey     string
	tolerance  float64
	httpClient HTTPDoer
}

// Request is one segmentation call.
type Request struct {
	MIME  string
	Image []byte
	Box   geometry.BBox
}

type maskRequest struct {
	Image string        `json:"image"`
	Box   geometry.BBox `json:"box"`
}

type maskResponse struct {
	Mask  string `json:"mask"`
	Error string `json:"error"`
}

// NewClient builds a segmentation client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, services.Wrap(services.ErrConfiguration, "segmentation", "new client", "segmentation url is required", nil)
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	tolerance := cfg.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	c := &Client{
		url:        url,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		tolerance:  tolerance,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Segment requests a mask for req and vectorizes it into an outline.
func (c *Client) Segment(ctx context.Context, req Request) (geometry.Outline, error) {
	mask, err := c.Mask(ctx, req)
	if err != nil {
		return geometry.Outline{}, err
	}
	outline, err := Vectorize(mask, c.tolerance)
	if err != nil {
		return geometry.Outline{}, services.Wrap(services.ErrService, "segmentation", "vectorize", "mask has no usable contour", err)
	}
	return outline, nil
}

// Mask requests and decodes the raw mask.
func (c *Client) Mask(ctx context.Context, req Request) (image.Image, error) {
	if c == nil || c.httpClient == nil {
		return nil, services.Wrap(services.ErrConfiguration, "segmentation", "mask", "client unavailable", nil)
	}
	if len(req.Image) == 0 {
		return nil, services.Wrap(services.ErrValidation, "segmentation", "mask", "image is required", nil)
	}
	mimeType := req.MIME
	if mimeType == "" {
		mimeType = http.DetectContentType(req.Image)
	}
	body, err := json.Marshal(maskRequest{
		Image: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(req.Image),
		Box:   req.Box.Canon().Clamp(),
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "segmentation", "mask", "encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "segmentation", "mask", "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png, application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, services.Wrap(services.ErrService, "segmentation", "mask", "request failed", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMaskBytes))
	if err != nil {
		return nil, services.Wrap(services.ErrService, "segmentation", "mask", "read response", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, services.Wrap(services.ErrService, "segmentation", "mask",
			fmt.Sprintf("segmentation service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))), nil)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var parsed maskResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, services.Wrap(services.ErrService, "segmentation", "mask", "decode json response", err)
		}
		if parsed.Error != "" {
			return nil, services.Wrap(services.ErrService, "segmentation", "mask", parsed.Error, nil)
		}
		encoded := parsed.Mask
		if idx := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && idx > 0 {
			encoded = encoded[idx+1:]
		}
		data, err = base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, services.Wrap(services.ErrService, "segmentation", "mask", "decode base64 mask", err)
		}
	}
	mask, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, services.Wrap(services.ErrService, "segmentation", "mask", "decode mask image", err)
	}
	return mask, nil
}
