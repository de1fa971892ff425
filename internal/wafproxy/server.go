// Package wafproxy is the Proxy Frontend: a reverse HTTP proxy that judges
// every request before forwarding it upstream.
package wafproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/sentineld/internal/eventlog"
	"github.com/ppiankov/sentineld/internal/judge"
	"github.com/ppiankov/sentineld/internal/model"
)

// Judge is the subset of judge.Judge the proxy depends on.
type Judge interface {
	Evaluate(ctx context.Context, payload model.RequestPayload) model.Decision
	MetricsSnapshot() judge.Snapshot
}

// EventLog is the subset of eventlog.Store the proxy depends on.
type EventLog interface {
	LogEvent(ctx context.Context, payload model.RequestPayload, decision model.Decision) (int64, error)
}

// Config holds the proxy server's wiring parameters.
type Config struct {
	ListenAddr     string
	UpstreamURL    string
	RequestTimeout time.Duration
	MetricsEnabled bool
}

// Server is the reverse-proxy WAF frontend: evaluate, log asynchronously, act.
type Server struct {
	cfg      Config
	judge    Judge
	logs     EventLog
	upstream *url.URL
	client   *http.Client
	srv      *http.Server
}

// New constructs a Server bound to the given judge and event log.
func New(cfg Config, j Judge, logs EventLog) (*Server, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("wafproxy: parse upstream_url: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		judge:    j,
		logs:     logs,
		upstream: upstream,
		client:   &http.Client{Timeout: cfg.RequestTimeout},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if cfg.MetricsEnabled {
		mux.HandleFunc("/internal/stats", s.handleStats)
		mux.Handle("/metrics", metricsHandler())
	}
	mux.HandleFunc("/", s.handleProxy)

	handler := http.Handler(mux)
	if cfg.RequestTimeout > 0 {
		handler = http.TimeoutHandler(handler, cfg.RequestTimeout, "request timed out")
	}
	s.srv = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: handler,
	}
	return s, nil
}

// Start begins serving and blocks until ctx is cancelled or Serve fails.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts down the proxy server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// StatsSource is the optional diagnostic query surface behind
// GET /internal/stats; eventlog.Store implements it. An event log that
// doesn't (a test fake, or none at all) just yields judge counters only.
type StatsSource interface {
	CountEventsByDecision(ctx context.Context, since int64) ([]eventlog.DecisionCount, error)
	GetEventsSince(ctx context.Context, since int64, limit int64) ([]model.LogEntry, error)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := struct {
		Judge  judge.Snapshot   `json:"judge"`
		Events map[string]int64 `json:"events_last_hour,omitempty"`
		Recent []model.LogEntry `json:"recent_events,omitempty"`
	}{Judge: s.judge.MetricsSnapshot()}

	if src, ok := s.logs.(StatsSource); ok {
		since := time.Now().Add(-time.Hour).Unix()
		if counts, err := src.CountEventsByDecision(r.Context(), since); err == nil {
			out.Events = make(map[string]int64, len(counts))
			for _, c := range counts {
				out.Events[c.Decision] = c.Count
			}
		} else {
			logf("wafproxy: stats counts: %v", err)
		}
		if recent, err := src.GetEventsSince(r.Context(), since, 20); err == nil {
			out.Recent = recent
		} else {
			logf("wafproxy: stats recent events: %v", err)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	json.NewEncoder(w).Encode(out)
}

// handleProxy is the main request path: extract, judge, log, act.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	payload, err := extractPayload(r)
	if err != nil {
		logf("wafproxy: extract payload: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	decision := s.judge.Evaluate(r.Context(), payload)

	if s.logs != nil {
		// Fire-and-forget: the request path never waits on the event log.
		go func() {
			if _, err := s.logs.LogEvent(context.Background(), payload, decision); err != nil {
				logf("wafproxy: log event: %v", err)
			}
		}()
	}

	if decision.Kind == model.KindBlock {
		writeBlocked(w, decision)
		return
	}

	s.forwardToUpstream(w, r, payload)
}

func (s *Server) forwardToUpstream(w http.ResponseWriter, r *http.Request, payload model.RequestPayload) {
	target := *s.upstream
	target.Path = singleJoiningSlash(s.upstream.Path, r.URL.Path)
	target.RawQuery = r.URL.RawQuery

	var body io.Reader
	if payload.Body != "" {
		body = strings.NewReader(payload.Body)
	}

	upstreamReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		logf("wafproxy: build upstream request: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	for name, values := range r.Header {
		if strings.EqualFold(name, "Host") {
			continue
		}
		for _, v := range values {
			upstreamReq.Header.Add(name, v)
		}
	}

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		logf("wafproxy: forward to upstream: %v", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func writeBlocked(w http.ResponseWriter, decision model.Decision) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  "Request blocked by WAF",
		"reason": decision.Reason,
	})
}

// extractPayload builds a model.RequestPayload from an inbound *http.Request.
// Query values are percent-decoded but keys are taken raw — net/url.Values
// would decode both, so the raw query is re-split by hand to keep fingerprints
// stable against any verdicts and rules already written under that convention.
func extractPayload(r *http.Request) (model.RequestPayload, error) {
	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	query := make(map[string]string)
	if r.URL.RawQuery != "" {
		for _, pair := range strings.Split(r.URL.RawQuery, "&") {
			key, value, found := strings.Cut(pair, "=")
			if !found {
				continue
			}
			decoded, err := url.QueryUnescape(value)
			if err != nil {
				decoded = value
			}
			query[key] = decoded
		}
	}

	var bodyBytes []byte
	if r.Body != nil {
		var err error
		bodyBytes, err = io.ReadAll(r.Body)
		if err != nil {
			return model.RequestPayload{}, fmt.Errorf("read body: %w", err)
		}
	}

	payload := model.RequestPayload{
		Method:   r.Method,
		Path:     r.URL.Path,
		Headers:  headers,
		Body:     string(bodyBytes),
		Query:    query,
		ClientIP: clientIP(headers, r.RemoteAddr),
	}
	payload.ComputeFingerprint()
	return payload, nil
}

func clientIP(headers map[string]string, remoteAddr string) string {
	for name, v := range headers {
		if strings.EqualFold(name, "X-Forwarded-For") {
			first, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(first)
		}
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	default:
		return a + b
	}
}
