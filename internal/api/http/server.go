package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/haruyam15/meomok/internal/domain"
)

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) (domain.SearchResponse, error)
	FetchAndIngest(ctx context.Context, lat, lng float64, radiusM int, query string) (domain.IngestReport, error)
	Providers() []domain.ProviderInfo
	ProviderDiagnostics() []domain.ProviderDiagnostics
}

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	search    SearchService
	logger    *slog.Logger
	checks    map[string]HealthCheck
	rateRPS   float64
	rateBurst int
}

const maxQueryLength = 200

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRateLimit sets the global token bucket applied to API routes. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateRPS = rps
		s.rateBurst = burst
	}
}

func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		if name == "" || check == nil {
			return
		}
		s.checks[name] = check
	}
}

func NewServer(searchService SearchService, options ...ServerOption) *Server {
	server := &Server{
		search:    searchService,
		logger:    slog.Default(),
		checks:    make(map[string]HealthCheck),
		rateRPS:   50,
		rateBurst: 100,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/ingest", s.handleIngest)
	mux.HandleFunc("/api/providers", s.handleProviders)
	mux.HandleFunc("/api/providers/health", s.handleProvidersHealth)
	var handler http.Handler = otelhttp.NewHandler(accessMiddleware(s.logger, mux), "meomok",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return !isProbeRoute(routeLabel(r.URL.Path))
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "api." + routeLabel(r.URL.Path)
		}),
	)
	if s.rateRPS > 0 {
		handler = rateLimitMiddleware(s.rateRPS, s.rateBurst, handler)
	}
	return requestIDMiddleware(recoveryMiddleware(s.logger, handler))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	payload := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	}
	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		results := make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				continue
			}
			results[name] = "ok"
		}
		payload["checks"] = results
	}
	writeJSON(w, status, payload)
}

type searchRequestBody struct {
	Lat     *float64       `json:"lat"`
	Lng     *float64       `json:"lng"`
	RadiusM *float64       `json:"radius_m"`
	Radius  *float64       `json:"radius"`
	Query   string         `json:"query"`
	Force   bool           `json:"force"`
	Limit   *int           `json:"limit"`
	Cursor  *domain.Cursor `json:"cursor"`
}

type ingestRequestBody struct {
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
	RadiusM *float64 `json:"radius_m"`
	Radius  *float64 `json:"radius"`
	Query   string   `json:"query"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "search service is not configured")
		return
	}

	var body searchRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, err := parseRadius(body.RadiusM, body.Radius)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := strings.TrimSpace(body.Query)
	if len([]rune(query)) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "query is too long")
		return
	}

	request := domain.SearchRequest{
		Lat:     *body.Lat,
		Lng:     *body.Lng,
		RadiusM: radius,
		Query:   query,
		Force:   body.Force,
		Cursor:  body.Cursor,
	}
	if body.Limit != nil {
		request.Limit = *body.Limit
	}

	response, err := s.search.Search(r.Context(), request)
	if err != nil {
		s.writeServiceError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.search == nil {
		writeError(w, http.StatusInternalServerError, "search service is not configured")
		return
	}

	var body ingestRequestBody
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Lat == nil || body.Lng == nil {
		writeError(w, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius, err := parseRadius(body.RadiusM, body.Radius)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report, err := s.search.FetchAndIngest(r.Context(), *body.Lat, *body.Lng, radius, strings.TrimSpace(body.Query))
	if err != nil {
		s.writeServiceError(w, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.search == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []domain.ProviderInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.search.Providers()})
}

func (s *Server) handleProvidersHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.search == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []domain.ProviderDiagnostics{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.search.ProviderDiagnostics()})
}

// writeServiceError maps service failures onto HTTP statuses. Storage failures are
// reported generically; failures of the page query carry their message.
func (s *Server) writeServiceError(w http.ResponseWriter, operation string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrQuery):
		s.logger.Error(operation+" page query failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error(operation+" failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseRadius accepts radius_m with radius as an alias and rounds to whole meters.
func parseRadius(radiusM, alias *float64) (int, error) {
	value := radiusM
	if value == nil {
		value = alias
	}
	if value == nil {
		return domain.DefaultRadiusM, nil
	}
	if math.IsNaN(*value) || math.IsInf(*value, 0) {
		return 0, errors.New("radius must be a finite number")
	}
	radius := int(math.Round(*value))
	if radius <= 0 || radius > domain.MaxRadiusM {
		return 0, fmt.Errorf("radius must be in [1,%d] meters", domain.MaxRadiusM)
	}
	return radius, nil
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
