package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haruyam15/meomok/internal/domain"
)

const (
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 8 * 1024 * 1024
)

// APIError is a non-2xx answer from the API carrying its {error} message.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api HTTP %d: %s", e.StatusCode, e.Message)
}

type SearchParams struct {
	Lat     float64
	Lng     float64
	RadiusM int
	Query   string
	Force   bool
	Limit   int
	Cursor  *domain.Cursor
}

type IngestParams struct {
	Lat     float64
	Lng     float64
	RadiusM int
	Query   string
}

type Client struct {
	baseURL   *url.URL
	http      *http.Client
	userAgent string
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.http = httpClient
		}
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(userAgent)
	}
}

func New(baseURL string, options ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("base url must be http or https")
	}
	c := &Client{
		baseURL: parsed,
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: "meomok-client/1.0",
	}
	for _, option := range options {
		if option != nil {
			option(c)
		}
	}
	return c, nil
}

type searchPayload struct {
	Lat     float64        `json:"lat"`
	Lng     float64        `json:"lng"`
	RadiusM int            `json:"radius_m,omitempty"`
	Query   string         `json:"query,omitempty"`
	Force   bool           `json:"force,omitempty"`
	Limit   int            `json:"limit,omitempty"`
	Cursor  *domain.Cursor `json:"cursor,omitempty"`
}

type ingestPayload struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	RadiusM int     `json:"radius_m,omitempty"`
	Query   string  `json:"query,omitempty"`
}

func (c *Client) Search(ctx context.Context, params SearchParams) (domain.SearchResponse, error) {
	var response domain.SearchResponse
	err := c.post(ctx, "/api/search", searchPayload{
		Lat:     params.Lat,
		Lng:     params.Lng,
		RadiusM: params.RadiusM,
		Query:   params.Query,
		Force:   params.Force,
		Limit:   params.Limit,
		Cursor:  params.Cursor,
	}, &response)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if response.Places == nil {
		response.Places = []domain.PlaceRow{}
	}
	return response, nil
}

func (c *Client) Ingest(ctx context.Context, params IngestParams) (domain.IngestReport, error) {
	var report domain.IngestReport
	err := c.post(ctx, "/api/ingest", ingestPayload{
		Lat:     params.Lat,
		Lng:     params.Lng,
		RadiusM: params.RadiusM,
		Query:   params.Query,
	}, &report)
	return report, err
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &envelope) == nil {
			apiErr.Message = envelope.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
