package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haruyam15/meomok/internal/client"
	"github.com/haruyam15/meomok/internal/domain"
)

type areaFlags struct {
	lat    float64
	lng    float64
	radius float64
	query  string
}

func (a *areaFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&a.lat, "lat", 0, "center latitude (default: MEOMOK_LAT or Gangnam station)")
	cmd.Flags().Float64Var(&a.lng, "lng", 0, "center longitude (default: MEOMOK_LNG or Gangnam station)")
	cmd.Flags().Float64Var(&a.radius, "radius", domain.DefaultRadiusM, "search radius in meters")
	cmd.Flags().StringVar(&a.query, "query", "", "provider search text")
}

// resolveCenter prefers explicit flags, then the environment locator, then the default center.
func (a *areaFlags) resolveCenter(cmd *cobra.Command) client.Fix {
	if cmd.Flags().Changed("lat") && cmd.Flags().Changed("lng") {
		return client.Fix{Location: client.Location{Lat: a.lat, Lng: a.lng}}
	}
	return client.LocateWithFallback(cmd.Context(), envLocator{}, 2*time.Second)
}

// envLocator reads a position from MEOMOK_LAT / MEOMOK_LNG.
type envLocator struct{}

func (envLocator) Locate(context.Context) (client.Location, error) {
	rawLat, rawLng := strings.TrimSpace(os.Getenv("MEOMOK_LAT")), strings.TrimSpace(os.Getenv("MEOMOK_LNG"))
	if rawLat == "" || rawLng == "" {
		return client.Location{}, client.ErrLocationDenied
	}
	lat, err := strconv.ParseFloat(rawLat, 64)
	if err != nil {
		return client.Location{}, fmt.Errorf("parse MEOMOK_LAT: %w", err)
	}
	lng, err := strconv.ParseFloat(rawLng, 64)
	if err != nil {
		return client.Location{}, fmt.Errorf("parse MEOMOK_LNG: %w", err)
	}
	return client.Location{Lat: lat, Lng: lng}, nil
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	area := &areaFlags{}
	var (
		force bool
		limit int
		pages int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "List restaurants ordered by distance",
		Long: `List restaurants ordered by distance, loading pages until --pages is reached
or the server reports no more results.

Examples:
  nearby search --lat 37.4979 --lng 127.0276 --radius 500
  nearby search --query 냉면 --pages 3 --limit 20
  nearby search --force --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if pages < 1 {
				return errors.New("--pages must be at least 1")
			}
			api, err := client.New(root.apiURL)
			if err != nil {
				return err
			}
			fix := area.resolveCenter(cmd)
			if fix.Fallback {
				fmt.Fprintf(cmd.ErrOrStderr(), "location unavailable (%v); using default center %.4f,%.4f\n", fix.Err, fix.Lat, fix.Lng)
			}

			browser := client.NewBrowser(api, limit)
			browser.Reset(client.NewSignature(fix.Lat, fix.Lng, area.radius), area.query, force || fix.Force)
			for page := 0; page < pages && browser.HasMore(); page++ {
				if _, err := browser.LoadMore(cmd.Context()); err != nil {
					return err
				}
			}

			if root.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"places":    browser.Places(),
					"cacheTile": browser.CacheTile(),
					"fetched":   browser.Fetched(),
					"hasMore":   browser.HasMore(),
				})
			}
			return printPlaces(cmd.OutOrStdout(), browser.Places(), browser.HasMore())
		},
	}
	area.register(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "refresh from providers before listing")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultLimit, "page size (1..200)")
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	return cmd
}

func newIngestCmd(root *rootOptions) *cobra.Command {
	area := &areaFlags{}
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Fetch providers around a point and store the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := client.New(root.apiURL)
			if err != nil {
				return err
			}
			fix := area.resolveCenter(cmd)
			report, err := api.Ingest(cmd.Context(), client.IngestParams{
				Lat:     fix.Lat,
				Lng:     fix.Lng,
				RadiusM: int(math.Round(area.radius)),
				Query:   area.query,
			})
			if err != nil {
				return err
			}
			if root.asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return printReport(cmd.OutOrStdout(), report)
		},
	}
	area.register(cmd)
	return cmd
}

func writeJSON(w io.Writer, payload any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printPlaces(w io.Writer, places []domain.PlaceRow, hasMore bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIST\tNAME\tCUISINE\tRATING\tADDRESS")
	for _, place := range places {
		rating := "-"
		if place.RatingAvg != nil {
			rating = strconv.FormatFloat(*place.RatingAvg, 'f', 1, 64)
		}
		address := "-"
		if place.Address != nil {
			address = *place.Address
		}
		fmt.Fprintf(tw, "%dm\t%s\t%s\t%s\t%s\n",
			int(place.DistanceM+0.5), place.Name, strings.Join(place.Cuisines, ","), rating, address)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if hasMore {
		fmt.Fprintln(w, "(more results available; use --pages)")
	}
	return nil
}

func printReport(w io.Writer, report domain.IngestReport) error {
	names := make([]string, 0, len(report.Counts))
	for name := range report.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintf(w, "tile %s\n", report.CacheTile)
	for _, name := range names {
		if received, ok := report.Received[name]; ok {
			fmt.Fprintf(w, "  %-8s %d of %d\n", name, report.Counts[name], received)
			continue
		}
		fmt.Fprintf(w, "  %-8s %d\n", name, report.Counts[name])
	}
	return nil
}
