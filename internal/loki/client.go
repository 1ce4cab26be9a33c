// Package loki is a minimal client for the Loki query_range API.
package loki

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/lotus-export/internal/model"
	"github.com/valyala/fastjson"
)

const (
	nanosWidth = 19

	queryRangePath   = "/loki/api/v1/query_range"
	defaultTimeout   = 30 * time.Second
	maxErrorBodySize = 4096
	userAgent        = "lotus-export"
)

// Config holds connection settings for the log-query API.
type Config struct {
	BaseURL     string
	OrgID       string // sent as X-Scope-OrgID when set
	Username    string
	Password    string
	BearerToken string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client issues range queries and decodes the streams response.
type Client struct {
	base    *url.URL
	cfg     Config
	http    *http.Client
	parsers fastjson.ParserPool
}

// NewClient validates cfg and returns a client.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if raw == "" {
		return nil, fmt.Errorf("loki: base url is required: %w", model.ErrConfig)
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("loki: parse base url: %v: %w", err, model.ErrConfig)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("loki: base url must use http or https: %w", model.ErrConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{base: base, cfg: cfg, http: hc}, nil
}

// QueryRangeRequest is one forward page of a range query.
type QueryRangeRequest struct {
	Query     string
	Start     string // nanosecond epoch, decimal
	End       string // nanosecond epoch, decimal
	Limit     int
	Direction string
}

// QueryRange runs req and returns one partition per stream in the response.
// Any status other than "success" is an error.
func (c *Client) QueryRange(ctx context.Context, req QueryRangeRequest) ([]model.LabelPartition, error) {
	if req.Direction == "" {
		req.Direction = "forward"
	}
	if req.Limit <= 0 {
		req.Limit = model.DefaultPageLimit
	}

	params := url.Values{}
	params.Set("query", req.Query)
	params.Set("start", req.Start)
	params.Set("end", req.End)
	params.Set("limit", strconv.Itoa(req.Limit))
	params.Set("direction", req.Direction)

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + queryRangePath
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("loki: build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	if c.cfg.OrgID != "" {
		httpReq.Header.Set("X-Scope-OrgID", c.cfg.OrgID)
	}
	switch {
	case c.cfg.BearerToken != "":
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	case c.cfg.Username != "":
		httpReq.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("loki: query_range: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("loki: query_range status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("loki: read response: %w", err)
	}
	return c.decode(body)
}

func (c *Client) decode(body []byte) ([]model.LabelPartition, error) {
	p := c.parsers.Get()
	defer c.parsers.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("loki: decode response: %w", err)
	}
	if status := string(v.GetStringBytes("status")); status != "success" {
		return nil, fmt.Errorf("loki: invalid result status %q: %s", status, preview(body))
	}
	if rt := string(v.GetStringBytes("data", "resultType")); rt != "" && rt != "streams" {
		return nil, fmt.Errorf("loki: unexpected result type %q", rt)
	}

	results := v.GetArray("data", "result")
	parts := make([]model.LabelPartition, 0, len(results))
	for i, stream := range results {
		labels := map[string]string{}
		if obj := stream.GetObject("stream"); obj != nil {
			obj.Visit(func(k []byte, lv *fastjson.Value) {
				labels[string(k)] = string(lv.GetStringBytes())
			})
		}

		raw := stream.GetArray("values")
		values := make([]model.Value, 0, len(raw))
		for j, pair := range raw {
			items := pair.GetArray()
			if len(items) < 2 {
				return nil, fmt.Errorf("loki: stream %d value %d: want [ts, line], got %d items", i, j, len(items))
			}
			if items[0].Type() != fastjson.TypeString || items[1].Type() != fastjson.TypeString {
				return nil, fmt.Errorf("loki: stream %d value %d: timestamp and line must be strings", i, j)
			}
			ts, err := normalizeNanos(items[0].GetStringBytes())
			if err != nil {
				return nil, fmt.Errorf("loki: stream %d value %d: %w", i, j, err)
			}
			values = append(values, model.Value{
				Timestamp: ts,
				Line:      string(items[1].GetStringBytes()),
			})
		}
		parts = append(parts, model.LabelPartition{Labels: labels, Values: values})
	}
	return parts, nil
}

// FormatNanos renders t as a nanosecond epoch zero-padded to a fixed width,
// the encoding used for query bounds and entry timestamps. Fixed width keeps
// string order equal to numeric order.
func FormatNanos(t time.Time) string {
	return fmt.Sprintf("%0*d", nanosWidth, t.UnixNano())
}

// normalizeNanos validates a decimal timestamp from a response and pads it
// to the width FormatNanos uses.
func normalizeNanos(raw []byte) (string, error) {
	if len(raw) == 0 || len(raw) > nanosWidth {
		return "", fmt.Errorf("invalid timestamp %q", raw)
	}
	for _, c := range raw {
		if c < '0' || c > '9' {
			return "", fmt.Errorf("invalid timestamp %q", raw)
		}
	}
	if len(raw) == nanosWidth {
		return string(raw), nil
	}
	return strings.Repeat("0", nanosWidth-len(raw)) + string(raw), nil
}

func preview(body []byte) string {
	if len(body) > 512 {
		return string(body[:512]) + "..."
	}
	return string(body)
}
