// Package openalex implements a citation Fetcher backed by the OpenAlex works API.
package openalex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/citenet/internal/citation"
	"github.com/JakeFAU/citenet/internal/metrics"
	"github.com/JakeFAU/citenet/internal/policy/retry"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the public OpenAlex endpoint.
	DefaultBaseURL = "https://api.openalex.org"
	maxBodyBytes   = 32 << 20
	maxPerPage     = 200
)

// Config controls requests made by the Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Mailto    string
	UserAgent string
	Timeout   time.Duration
	PerPage   int
	// MaxPages caps the cursor pages fetched per neighbor listing.
	MaxPages   int
	References bool
	Citations  bool
}

// RateLimiter paces requests per host.
type RateLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// RequestGate bounds concurrent round trips.
type RequestGate interface {
	Acquire(ctx context.Context) error
	Release()
}

// Client fetches works and their citation neighbors.
type Client struct {
	cfg       Config
	base      *url.URL
	http      *http.Client
	limiter   RateLimiter
	gate      RequestGate
	retry     *retry.Policy
	logger    *zap.Logger
	userAgent string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient swaps the transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRateLimiter installs a shared rate limiter.
func WithRateLimiter(l RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithRequestGate installs a shared concurrency bound.
func WithRequestGate(g RequestGate) Option {
	return func(c *Client) { c.gate = g }
}

// WithRetryConfig replaces the retry policy. Classification always follows the error kind.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) {
		cfg.Retryable = IsTransient
		c.retry = retry.New(cfg)
	}
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New validates cfg and builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &Error{Kind: KindFatal, Op: "configure", Err: fmt.Errorf("invalid base url %q", cfg.BaseURL)}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PerPage <= 0 || cfg.PerPage > maxPerPage {
		cfg.PerPage = maxPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 25
	}
	if !cfg.References && !cfg.Citations {
		return nil, &Error{Kind: KindFatal, Op: "configure", Err: errors.New("at least one edge direction is required")}
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Retryable = IsTransient
	c := &Client{
		cfg:    cfg,
		base:   base,
		http:   &http.Client{},
		retry:  retry.New(retryCfg),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.userAgent = cfg.UserAgent
	if c.userAgent == "" {
		c.userAgent = "citenet/1.0"
	}
	if cfg.Mailto != "" {
		c.userAgent += " (mailto:" + cfg.Mailto + ")"
	}
	return c, nil
}

// FetchNode resolves a DOI or prefixed OpenAlex id into node metadata plus
// its reference and citation edges, in API order.
func (c *Client) FetchNode(ctx context.Context, id string) (citation.Node, []citation.Edge, error) {
	id = strings.TrimSpace(id)
	if !citation.IsOpenAlexNodeID(id) {
		id = citation.NormalizeDOI(id)
	}
	if id == "" {
		return citation.Node{}, nil, &Error{Kind: KindFatal, Op: "work", Err: ErrEmptyID}
	}

	var w work
	if err := c.getJSON(ctx, "work", c.workURL(id), &w); err != nil {
		return citation.Node{}, nil, err
	}
	node := w.toNode(id)
	wid := node.OpenAlexID
	if wid == "" {
		c.logger.Warn("Work has no OpenAlex id; skipping neighbors", zap.String("id", id))
		return node, nil, nil
	}

	var edges []citation.Edge
	if c.cfg.References {
		refs, partial, err := c.listNeighbors(ctx, "cited_by:"+wid)
		if err != nil {
			return citation.Node{}, nil, err
		}
		node.PartialEdges = node.PartialEdges || partial
		for _, ref := range refs {
			edges = append(edges, citation.Edge{Source: id, Target: ref})
		}
	}
	if c.cfg.Citations {
		citing, partial, err := c.listNeighbors(ctx, "cites:"+wid)
		if err != nil {
			return citation.Node{}, nil, err
		}
		node.PartialEdges = node.PartialEdges || partial
		for _, src := range citing {
			edges = append(edges, citation.Edge{Source: src, Target: id})
		}
	}
	return node, edges, nil
}

// listNeighbors walks cursor pages for a works filter. The boolean result is
// true when MaxPages stopped the walk before the last page.
func (c *Client) listNeighbors(ctx context.Context, filter string) ([]string, bool, error) {
	var ids []string
	cursor := "*"
	for page := 0; page < c.cfg.MaxPages; page++ {
		var resp listResponse
		if err := c.getJSON(ctx, "list", c.listURL(filter, cursor), &resp); err != nil {
			if errors.Is(err, citation.ErrNotFound) {
				return ids, false, nil
			}
			return nil, false, err
		}
		for _, w := range resp.Results {
			if nid := citation.NodeID(w.DOI, w.ID); nid != "" {
				ids = append(ids, nid)
			}
		}
		next := resp.Meta.NextCursor
		if next == nil || *next == "" || len(resp.Results) == 0 {
			return ids, false, nil
		}
		cursor = *next
	}
	c.logger.Debug("Neighbor listing hit page cap",
		zap.String("filter", filter),
		zap.Int("max_pages", c.cfg.MaxPages),
		zap.Int("collected", len(ids)),
	)
	return ids, true, nil
}

func (c *Client) workURL(id string) string {
	var path string
	if citation.IsOpenAlexNodeID(id) {
		path = "/works/" + url.PathEscape(citation.ShortOpenAlexID(id))
	} else {
		path = "/works/doi:" + url.PathEscape(citation.NormalizeDOI(id))
	}
	return c.withAuth(path, url.Values{})
}

func (c *Client) listURL(filter, cursor string) string {
	q := url.Values{}
	q.Set("filter", filter)
	q.Set("per-page", strconv.Itoa(c.cfg.PerPage))
	q.Set("cursor", cursor)
	q.Set("select", "id,doi")
	return c.withAuth("/works", q)
}

func (c *Client) withAuth(path string, q url.Values) string {
	if c.cfg.APIKey != "" {
		q.Set("api_key", c.cfg.APIKey)
	}
	if c.cfg.Mailto != "" {
		q.Set("mailto", c.cfg.Mailto)
	}
	return c.base.String() + path + "?" + q.Encode()
}

// getJSON performs a GET with retries and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, endpoint, rawURL string, out any) error {
	for attempt := 0; ; attempt++ {
		err := c.do(ctx, endpoint, rawURL, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s request aborted: %w", endpoint, ctx.Err())
		}
		if !c.retry.ShouldRetry(err, attempt) {
			return err
		}
		delay := c.retry.Backoff(attempt)
		var apiErr *Error
		if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
		}
		metrics.ObserveAPIRetry(endpoint)
		c.logger.Debug("Retrying API request",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := retry.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s retry wait: %w", endpoint, err)
		}
	}
}

func (c *Client) do(ctx context.Context, endpoint, rawURL string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &Error{Kind: KindTransient, Op: endpoint, Err: err}
		}
	}
	if c.gate != nil {
		if err := c.gate.Acquire(ctx); err != nil {
			return err
		}
		defer c.gate.Release()
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &Error{Kind: KindFatal, Op: endpoint, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveAPIRequest(endpoint, "transport_error", time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindTransient, Op: endpoint, Err: fmt.Errorf("send request: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		metrics.ObserveAPIRequest(endpoint, "read_error", time.Since(start))
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Kind: KindTransient, Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := classifyStatus(endpoint, resp, body)
		metrics.ObserveAPIRequest(endpoint, apiErr.Kind.String(), time.Since(start))
		return apiErr
	}
	if err := json.Unmarshal(body, out); err != nil {
		metrics.ObserveAPIRequest(endpoint, "decode_error", time.Since(start))
		return &Error{Kind: KindTransient, Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode body: %w", err)}
	}
	metrics.ObserveAPIRequest(endpoint, "ok", time.Since(start))
	return nil
}
