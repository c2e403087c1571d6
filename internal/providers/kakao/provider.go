// Package kakao searches the Kakao Local keyword API.
package kakao

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/providers/common"
)

const (
	defaultEndpoint = "https://dapi.kakao.com/v2/local/search/keyword.json"
	pageSize        = 12
)

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

type document struct {
	ID              string `json:"id"`
	PlaceName       string `json:"place_name"`
	RoadAddressName string `json:"road_address_name"`
	AddressName     string `json:"address_name"`
	Phone           string `json:"phone"`
	X               string `json:"x"`
	Y               string `json:"y"`
	CategoryName    string `json:"category_name"`
	PlaceURL        string `json:"place_url"`
}

type response struct {
	Documents []document `json:"documents"`
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
	return string(domain.SourceKakao)
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "Kakao Local",
		Enabled: p.apiKey != "",
	}
}

func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) ([]domain.ProviderRecord, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	params := uri.Query()
	params.Set("query", query.Text)
	params.Set("x", strconv.FormatFloat(query.Center.Lng, 'f', -1, 64))
	params.Set("y", strconv.FormatFloat(query.Center.Lat, 'f', -1, 64))
	params.Set("radius", strconv.Itoa(query.RadiusM))
	params.Set("size", strconv.Itoa(pageSize))
	uri.RawQuery = params.Encode()

	req, err := http.NewRequest(http.MethodGet, uri.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "KakaoAK "+p.apiKey)
	req.Header.Set("User-Agent", p.userAgent)

	var payload response
	if err := common.DoJSON(ctx, p.client, req, &payload); err != nil {
		return nil, fmt.Errorf("kakao: %w", err)
	}

	records := make([]domain.ProviderRecord, 0, len(payload.Documents))
	for _, doc := range payload.Documents {
		lat, okLat := common.ParseCoordinate(doc.Y)
		lng, okLng := common.ParseCoordinate(doc.X)
		if !okLat || !okLng {
			continue
		}
		records = append(records, domain.ProviderRecord{
			Source:   domain.SourceKakao,
			NativeID: doc.ID,
			Name:     doc.PlaceName,
			Address:  common.FirstNonEmpty(doc.RoadAddressName, doc.AddressName),
			Phone:    doc.Phone,
			Lat:      lat,
			Lng:      lng,
			Category: doc.CategoryName,
			URL:      doc.PlaceURL,
		})
	}
	return records, nil
}
