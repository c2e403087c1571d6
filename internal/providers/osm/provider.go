// Package osm searches OpenStreetMap restaurants through an Overpass API endpoint.
package osm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/serjvanilla/go-overpass"

	"github.com/haruyam15/meomok/internal/domain"
	"github.com/haruyam15/meomok/internal/providers/common"
)

const maxParallel = 2

type Config struct {
	Endpoint string
	Timeout  time.Duration
	Client   *http.Client
}

type Provider struct {
	client  *overpass.Client
	enabled bool
}

func NewProvider(cfg Config) *Provider {
	httpClient := cfg.Client
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = common.NewHTTPClient(timeout)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := overpass.NewWithSettings(endpoint, maxParallel, httpClient)
	return &Provider{client: &client, enabled: endpoint != ""}
}

func (p *Provider) Name() string {
	return string(domain.SourceOSM)
}

func (p *Provider) Info() domain.ProviderInfo {
	return domain.ProviderInfo{
		Name:    p.Name(),
		Label:   "OpenStreetMap",
		Enabled: p.enabled,
	}
}

// BuildQuery renders the Overpass QL for restaurant nodes within radius meters of the center.
func BuildQuery(query domain.ProviderQuery) string {
	return fmt.Sprintf(`[out:json][timeout:10];node["amenity"="restaurant"](around:%d,%s,%s);out body;`,
		query.RadiusM,
		strconv.FormatFloat(query.Center.Lat, 'f', -1, 64),
		strconv.FormatFloat(query.Center.Lng, 'f', -1, 64),
	)
}

// Search runs the query; the Overpass client has no context support, so cancellation only
// stops waiting for the result.
func (p *Provider) Search(ctx context.Context, query domain.ProviderQuery) ([]domain.ProviderRecord, error) {
	type outcome struct {
		result overpass.Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := p.client.Query(BuildQuery(query))
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			return nil, fmt.Errorf("osm: overpass query failed: %w", out.err)
		}
		return convertNodes(out.result), nil
	}
}

func convertNodes(result overpass.Result) []domain.ProviderRecord {
	ids := make([]int64, 0, len(result.Nodes))
	for id := range result.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	records := make([]domain.ProviderRecord, 0, len(ids))
	for _, id := range ids {
		node := result.Nodes[id]
		if node == nil {
			continue
		}
		tags := node.Tags
		name := common.FirstNonEmpty(tags["name:ko"], tags["name"], tags["name:en"])
		if name == "" {
			continue
		}
		records = append(records, domain.ProviderRecord{
			Source:   domain.SourceOSM,
			NativeID: strconv.FormatInt(node.ID, 10),
			Name:     name,
			Address:  address(tags),
			Phone:    common.FirstNonEmpty(tags["phone"], tags["contact:phone"]),
			Lat:      node.Lat,
			Lng:      node.Lon,
			Category: strings.ReplaceAll(tags["cuisine"], ";", " "),
			URL:      common.FirstNonEmpty(tags["website"], tags["contact:website"]),
		})
	}
	return records
}

func address(tags map[string]string) string {
	if full := strings.TrimSpace(tags["addr:full"]); full != "" {
		return full
	}
	parts := make([]string, 0, 4)
	for _, key := range []string{"addr:city", "addr:district", "addr:street", "addr:housenumber"} {
		if value := strings.TrimSpace(tags[key]); value != "" {
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, " ")
}
