package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Path string
	Body map[string]any
}

func newTestServer(t *testing.T, responses map[string][]string) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		requests = append(requests, recordedRequest{Path: r.URL.Path, Body: body})

		queue := responses[r.URL.Path]
		if len(queue) == 0 {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
			return
		}
		responses[r.URL.Path] = queue[1:]
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(queue[0]))
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func runCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestSearchCommandPagesThroughResults(t *testing.T) {
	server, requests := newTestServer(t, map[string][]string{
		"/api/search": {
			`{"places":[{"place_id":"a","name":"을지면옥","lat":37.5,"lng":127,"cuisines":["korean"],"address":"서울 중구","rating_avg":4.4,"distance_m":120.2}],"cacheTile":"wydm9qy","fetched":true,"hasMore":true,"nextCursor":{"lastDistance":120.2,"lastId":"a"}}`,
			`{"places":[{"place_id":"b","name":"Pasta Bar","lat":37.5,"lng":127,"cuisines":["western"],"distance_m":300}],"cacheTile":"wydm9qy","fetched":false,"hasMore":false,"nextCursor":null}`,
		},
	})

	out, _, err := runCommand(t, "--api", server.URL, "search", "--lat", "37.5665", "--lng", "126.978", "--radius", "800", "--limit", "1", "--pages", "5", "--force")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(*requests) != 2 {
		t.Fatalf("expected 2 requests (stop at hasMore=false), got %d", len(*requests))
	}
	first, second := (*requests)[0].Body, (*requests)[1].Body
	if first["force"] != true || first["radius_m"] != float64(800) || first["limit"] != float64(1) {
		t.Fatalf("unexpected first request: %+v", first)
	}
	if _, ok := second["force"]; ok {
		t.Fatalf("force must only be sent on the first page: %+v", second)
	}
	cursor, _ := second["cursor"].(map[string]any)
	if cursor["lastId"] != "a" {
		t.Fatalf("expected cursor after a, got %+v", second["cursor"])
	}
	if !strings.Contains(out, "을지면옥") || !strings.Contains(out, "Pasta Bar") || !strings.Contains(out, "120m") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Index(out, "을지면옥") > strings.Index(out, "Pasta Bar") {
		t.Fatalf("rows must be distance ordered:\n%s", out)
	}
}

func TestSearchCommandFallsBackToDefaultCenter(t *testing.T) {
	t.Setenv("MEOMOK_LAT", "")
	t.Setenv("MEOMOK_LNG", "")
	server, requests := newTestServer(t, map[string][]string{
		"/api/search": {`{"places":[],"cacheTile":"wydm6d6","fetched":true,"hasMore":false,"nextCursor":null}`},
	})

	_, stderr, err := runCommand(t, "--api", server.URL, "search")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	body := (*requests)[0].Body
	if body["lat"] != 37.4979 || body["lng"] != 127.0276 || body["force"] != true {
		t.Fatalf("expected default center with force, got %+v", body)
	}
	if !strings.Contains(stderr, "default center") {
		t.Fatalf("expected fallback notice, got %q", stderr)
	}
}

func TestSearchCommandUsesEnvLocation(t *testing.T) {
	t.Setenv("MEOMOK_LAT", "35.1796")
	t.Setenv("MEOMOK_LNG", "129.0756")
	server, requests := newTestServer(t, map[string][]string{
		"/api/search": {`{"places":[],"cacheTile":"wy7b1","fetched":false,"hasMore":false,"nextCursor":null}`},
	})

	if _, _, err := runCommand(t, "--api", server.URL, "search"); err != nil {
		t.Fatalf("search failed: %v", err)
	}
	body := (*requests)[0].Body
	if body["lat"] != 35.1796 || body["lng"] != 129.0756 {
		t.Fatalf("expected env location, got %+v", body)
	}
	if _, ok := body["force"]; ok {
		t.Fatalf("env location must not force a refresh: %+v", body)
	}
}

func TestSearchCommandSurfacesAPIError(t *testing.T) {
	server, _ := newTestServer(t, map[string][]string{})
	_, _, err := runCommand(t, "--api", server.URL, "search", "--lat", "37.5", "--lng", "127")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected api error, got %v", err)
	}
}

func TestIngestCommandPrintsCounts(t *testing.T) {
	server, requests := newTestServer(t, map[string][]string{
		"/api/ingest": {`{"cacheTile":"wydm6d6","counts":{"kakao":12,"google":15},"received":{"kakao":13,"google":15}}`},
	})

	out, _, err := runCommand(t, "--api", server.URL, "ingest", "--lat", "37.4979", "--lng", "127.0276", "--radius", "500", "--query", "카페")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	body := (*requests)[0].Body
	if body["radius_m"] != float64(500) || body["query"] != "카페" {
		t.Fatalf("unexpected ingest body: %+v", body)
	}
	if !strings.Contains(out, "tile wydm6d6") || !strings.Contains(out, "12 of 13") || strings.Index(out, "google") > strings.Index(out, "kakao") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestSearchCommandRejectsZeroPages(t *testing.T) {
	if _, _, err := runCommand(t, "search", "--pages", "0"); err == nil {
		t.Fatalf("expected error for --pages 0")
	}
}
