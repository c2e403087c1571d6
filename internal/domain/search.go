package domain

import "time"

const (
	DefaultRadiusM = 1000
	MaxRadiusM     = 20000
	DefaultQuery   = "음식점"
	DefaultLimit   = 30
	MinLimit       = 1
	MaxLimit       = 200
)

// ProviderRecord is a provider result after its fixed field mapping, before normalization.
type ProviderRecord struct {
	Source      Source
	NativeID    string
	Name        string
	Address     string
	Phone       string
	Lat         float64
	Lng         float64
	Category    string
	PriceLevel  *int
	RatingAvg   *float64
	RatingCount *int
	URL         string
}

type ProviderQuery struct {
	Center  Point
	RadiusM int
	Text    string
}

type SearchRequest struct {
	Lat     float64
	Lng     float64
	RadiusM int
	Query   string
	Force   bool
	Cursor  *Cursor
	Limit   int
}

type SearchResponse struct {
	Places     []PlaceRow `json:"places"`
	CacheTile  string     `json:"cacheTile"`
	Fetched    bool       `json:"fetched"`
	HasMore    bool       `json:"hasMore"`
	NextCursor *Cursor    `json:"nextCursor"`
}

// IngestReport carries per-provider counts of one fetch cycle: Received is what each provider
// returned, Counts is what was written after normalization.
type IngestReport struct {
	CacheTile string         `json:"cacheTile"`
	Counts    map[string]int `json:"counts"`
	Received  map[string]int `json:"received"`
}

type ProviderInfo struct {
	Name    string `json:"name"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

type ProviderDiagnostics struct {
	Name                string     `json:"name"`
	Label               string     `json:"label"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	BlockedUntil        *time.Time `json:"blockedUntil,omitempty"`
	LastError           string     `json:"lastError,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastCount           int        `json:"lastCount"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
}

// ClampLimit applies the default page size and bounds it to [MinLimit, MaxLimit].
func ClampLimit(limit int) int {
	if limit < MinLimit {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
