package replication

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// Shape stream response headers
const (
	headerHandle = "Electric-Handle"
	headerOffset = "Electric-Offset"
	headerCursor = "Electric-Cursor"
)

const initialOffset = "-1"

type streamConfig struct {
	where  string
	params []string
	header http.Header
	client *http.Client
}

// StreamOption configures a ShapeStream
type StreamOption func(*streamConfig)

// WithWhere filters the shape; params bind to $1, $2, ...
func WithWhere(where string, params ...string) StreamOption {
	return func(c *streamConfig) {
		c.where = where
		c.params = params
	}
}

// WithHeader sends a header on every request, typically Authorization for the proxy
func WithHeader(name, value string) StreamOption {
	return func(c *streamConfig) { c.header.Set(name, value) }
}

func WithHTTPClient(client *http.Client) StreamOption {
	return func(c *streamConfig) { c.client = client }
}

// ShapeStream follows one shape through the proxy: an initial sync, then live long-polls
type ShapeStream[V any] struct {
	endpoint string
	table    string
	cfg      streamConfig

	offset string
	handle string
	cursor string
	live   bool
}

// NewShapeStream subscribes to table at endpoint, the proxy's shape URL
func NewShapeStream[V any](endpoint, table string, opts ...StreamOption) *ShapeStream[V] {
	cfg := streamConfig{header: http.Header{}, client: &http.Client{}}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &ShapeStream[V]{endpoint: endpoint, table: table, cfg: cfg, offset: initialOffset}
}

// Live reports whether the initial sync has completed
func (s *ShapeStream[V]) Live() bool {
	return s.live
}

func (s *ShapeStream[V]) requestURL() (string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid shape endpoint: %w", err)
	}
	q := u.Query()
	q.Set("table", s.table)
	q.Set("offset", s.offset)
	q.Set("replica", "full")
	if s.handle != "" {
		q.Set("handle", s.handle)
	}
	if s.live {
		q.Set("live", "true")
		if s.cursor != "" {
			q.Set("cursor", s.cursor)
		}
	}
	if s.cfg.where != "" {
		q.Set("where", s.cfg.where)
		for i, p := range s.cfg.params {
			q.Set("params["+strconv.Itoa(i+1)+"]", p)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Poll performs one request and advances the stream position
func (s *ShapeStream[V]) Poll(ctx context.Context) (Batch[V], error) {
	target, err := s.requestURL()
	if err != nil {
		return Batch[V]{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Batch[V]{}, err
	}
	for name, values := range s.cfg.header {
		req.Header[name] = values
	}

	resp, err := s.cfg.client.Do(req)
	if err != nil {
		return Batch[V]{}, fmt.Errorf("shape request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		s.advance(resp.Header)
		return Batch[V]{}, nil
	case http.StatusConflict:
		s.restart(resp.Header.Get(headerHandle))
		return Batch[V]{MustRefetch: true}, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Batch[V]{}, fmt.Errorf("shape request: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Batch[V]{}, fmt.Errorf("read shape response: %w", err)
	}
	msgs, err := ParseMessages(body)
	if err != nil {
		return Batch[V]{}, err
	}
	batch, err := DecodeBatch[V](msgs)
	if err != nil {
		return Batch[V]{}, err
	}

	if batch.MustRefetch {
		// changes before the control message belong to the abandoned shape
		s.restart(resp.Header.Get(headerHandle))
		return Batch[V]{MustRefetch: true}, nil
	}
	s.advance(resp.Header)
	if batch.UpToDate {
		s.live = true
	}
	return batch, nil
}

// restart resyncs from the beginning under handle, which may be empty
func (s *ShapeStream[V]) restart(handle string) {
	s.offset, s.handle, s.cursor, s.live = initialOffset, handle, "", false
}

func (s *ShapeStream[V]) advance(h http.Header) {
	if v := h.Get(headerHandle); v != "" {
		s.handle = v
	}
	if v := h.Get(headerOffset); v != "" {
		s.offset = v
	}
	if v := h.Get(headerCursor); v != "" {
		s.cursor = v
	}
}

// Follow polls until ctx ends or fn fails, feeding every batch to fn
func (s *ShapeStream[V]) Follow(ctx context.Context, fn func(Batch[V]) error) error {
	for {
		batch, err := s.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
