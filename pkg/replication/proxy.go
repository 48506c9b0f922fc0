// Package replication fronts the shape stream of the replicated read path and
// reconciles optimistic client state against it.
package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jgirmay/pulse/pkg/logging"
	"github.com/jgirmay/pulse/pkg/metrics"
)

var (
	// ErrTableNotAllowed rejects a subscription before it reaches upstream
	ErrTableNotAllowed = errors.New("shape table not allowed")
	// ErrUpstream means the replication source could not be reached
	ErrUpstream = errors.New("replication upstream unavailable")
)

// Query parameters a client may pass through. Anything else is dropped.
var allowedParams = map[string]bool{
	"table":    true,
	"where":    true,
	"columns":  true,
	"offset":   true,
	"handle":   true,
	"live":     true,
	"live_sse": true,
	"cursor":   true,
	"replica":  true,
}

// Prefix of positional where-clause parameters, e.g. params[1]
const paramsPrefix = "params["

// Request headers forwarded upstream
var forwardedRequestHeaders = []string{"Accept", "If-None-Match"}

// Response headers invalidated by re-framing the body
var strippedResponseHeaders = []string{"Content-Encoding", "Content-Length"}

// ProxyConfig configures the shape proxy
type ProxyConfig struct {
	UpstreamURL    string
	Secret         string
	SourceID       string
	IdentityHeader string
	AllowedTables  []string
}

// Proxy relays shape subscriptions to the upstream sync service with the server-held secret
type Proxy struct {
	upstream       *url.URL
	secret         string
	sourceID       string
	identityHeader string
	allowedTables  map[string]bool
	client         *http.Client
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// NewProxy validates cfg. A nil client uses a client without a timeout, since live requests long-poll.
func NewProxy(cfg ProxyConfig, client *http.Client, logger *zap.Logger, m *metrics.Metrics) (*Proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid replication url: %w", err)
	}
	if upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("invalid replication url %q: scheme and host are required", cfg.UpstreamURL)
	}
	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = "Authorization"
	}
	if client == nil {
		client = &http.Client{}
	}
	logger = logging.OrNop(logger)

	var allowed map[string]bool
	if len(cfg.AllowedTables) > 0 {
		allowed = make(map[string]bool, len(cfg.AllowedTables))
		for _, table := range cfg.AllowedTables {
			allowed[table] = true
		}
	}

	return &Proxy{
		upstream:       upstream,
		secret:         cfg.Secret,
		sourceID:       cfg.SourceID,
		identityHeader: cfg.IdentityHeader,
		allowedTables:  allowed,
		client:         client,
		logger:         logger.Named("shape-proxy"),
		metrics:        m,
	}, nil
}

// UpstreamURL filters the client's query down to the allow-list and adds the credentials
func (p *Proxy) UpstreamURL(query url.Values) (*url.URL, error) {
	table := query.Get("table")
	if table == "" {
		return nil, fmt.Errorf("%w: table is required", ErrTableNotAllowed)
	}
	if p.allowedTables != nil && !p.allowedTables[table] {
		return nil, fmt.Errorf("%w: %s", ErrTableNotAllowed, table)
	}

	out := url.Values{}
	for key, values := range query {
		if allowedParams[key] || (strings.HasPrefix(key, paramsPrefix) && strings.HasSuffix(key, "]")) {
			out[key] = values
		}
	}
	if p.secret != "" {
		out.Set("secret", p.secret)
	}
	if p.sourceID != "" {
		out.Set("source_id", p.sourceID)
	}

	target := *p.upstream
	target.RawQuery = out.Encode()
	return &target, nil
}

// Forward proxies one subscription request. Errors are returned only while nothing
// has been written to w; once streaming starts, failures are logged.
func (p *Proxy) Forward(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	target, err := p.UpstreamURL(r.URL.Query())
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	for _, name := range forwardedRequestHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.ObserveProxy("error")
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()
	p.metrics.ObserveProxy(strconv.Itoa(resp.StatusCode))

	header := w.Header()
	for name, values := range resp.Header {
		header[name] = append([]string(nil), values...)
	}
	for _, name := range strippedResponseHeaders {
		header.Del(name)
	}
	header.Add("Vary", p.identityHeader)
	header.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(resp.StatusCode)

	if _, err := io.Copy(flushWriter{w}, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("shape stream interrupted",
			zap.String("table", r.URL.Query().Get("table")),
			zap.Error(err))
	}
	return nil
}

// flushWriter pushes every chunk to the client as it arrives
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(b []byte) (int, error) {
	n, err := f.w.Write(b)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}
