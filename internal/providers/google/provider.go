// Package google searches the Google Places (New) searchNearby API.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/providers/common"
)

const (
	defaultEndpoint = "https://places.googleapis.com/v1/places:searchNearby"
	fieldMask       = "places.id,places.displayName,places.location,places.rating,places.userRatingCount,places.priceLevel,places.websiteUri"
	maxResultCount  = 15
	unknownName     = "Unknown"
)

var priceLevels = map[string]int{
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

type Config struct {
	APIKey    string
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	apiKey    string
	userAgent string
}

type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type searchNearbyRequest struct {
	IncludedTypes       []string `json:"includedTypes"`
	MaxResultCount      int      `json:"maxResultCount"`
	RankPreference      string   `json:"rankPreference"`
	LanguageCode        string   `json:"languageCode"`
	LocationRestriction struct {
		Circle struct {
			Center latLng  `json:"center"`
			Radius float64 `json:"radius"`
		} `json:"circle"`
	} `json:"locationRestriction"`
}

type place struct {
	ID          string `json:"id"`
	DisplayName *struct {
		Text string `json:"text"`
	} `json:"displayName"`
	Location        *latLng         `json:"location"`
	Rating          *float64        `json:"rating"`
	UserRatingCount *int            `json:"userRatingCount"`
	PriceLevel      json.RawMessage `json:"priceLevel"`
	WebsiteURI      string          `json:"websiteUri"`
}

type searchNearbyResponse struct {
	Places []place `json:"places"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = common.NewHTTPClient(10 * time.Second)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = common.DefaultUserAgent
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		apiKey:    strings.TrimSpace(cfg.APIKey),
		userAgent: userAgent,
	}
}

func (p *Provider) Name() string {
	return string(domain.SourceGoogle)
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Google Places",
		Enabled: p.apiKey != "",
	}
}

// Search ignores the free-text query: searchNearby filters by place type only.
func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) ([]domain.ProviderRecord, error) {
	body := searchNearbyRequest{
		IncludedTypes:  []string{"restaurant"},
		MaxResultCount: maxResultCount,
		RankPreference: "DISTANCE",
		LanguageCode:   "ko",
	}
	body.LocationRestriction.Circle.Center = latLng{Latitude: query.Center.Lat, Longitude: query.Center.Lng}
	body.LocationRestriction.Circle.Radius = float64(query.RadiusM)

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, p.endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", p.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	req.Header.Set("User-Agent", p.userAgent)

	var payload searchNearbyResponse
	if err := common.DoJSON(ctx, p.client, req, &payload); err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}

	records := make([]domain.ProviderRecord, 0, len(payload.Places))
	for _, item := range payload.Places {
		record := domain.ProviderRecord{
			Source:      domain.SourceGoogle,
			NativeID:    item.ID,
			Name:        unknownName,
			Lat:         query.Center.Lat,
			Lng:         query.Center.Lng,
			PriceLevel:  parsePriceLevel(item.PriceLevel),
			RatingAvg:   item.Rating,
			RatingCount: item.UserRatingCount,
			URL:         item.WebsiteURI,
		}
		if item.DisplayName != nil && strings.TrimSpace(item.DisplayName.Text) != "" {
			record.Name = item.DisplayName.Text
		}
		if item.Location != nil {
			record.Lat = item.Location.Latitude
			record.Lng = item.Location.Longitude
		}
		records = append(records, record)
	}
	return records, nil
}

// parsePriceLevel accepts the numeric form and the PRICE_LEVEL_* enum. Zero and unknown
// values yield nil.
func parsePriceLevel(raw json.RawMessage) *int {
	if len(raw) == 0 {
		return nil
	}
	var number int
	if err := json.Unmarshal(raw, &number); err == nil {
		if number > 0 {
			return common.IntPtr(number)
		}
		return nil
	}
	var enum string
	if err := json.Unmarshal(raw, &enum); err == nil {
		if level, ok := priceLevels[enum]; ok {
			return common.IntPtr(level)
		}
	}
	return nil
}
