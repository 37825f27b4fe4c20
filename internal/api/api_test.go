package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snapetech/xtreamcache/internal/cache"
	"github.com/snapetech/xtreamcache/internal/catalog"
	"github.com/snapetech/xtreamcache/internal/health"
	"github.com/snapetech/xtreamcache/internal/mediasource"
)

type fakeCoord struct {
	snap        *catalog.Snapshot
	status      cache.Status
	inFlight    bool
	cancelled   bool
	invalidated bool
}

func (f *fakeCoord) TriggerRefresh() (cache.Handle, bool) {
	if f.inFlight {
		return cache.Handle{ID: "run-1"}, false
	}
	f.inFlight = true
	return cache.Handle{ID: "run-1"}, true
}

func (f *fakeCoord) CancelRefresh() bool {
	wasRunning := f.inFlight
	f.inFlight = false
	f.cancelled = f.cancelled || wasRunning
	return wasRunning
}

func (f *fakeCoord) InvalidateCache() {
	f.invalidated = true
	f.snap = catalog.Empty()
}

func (f *fakeCoord) GetStatus() cache.Status     { return f.status }
func (f *fakeCoord) Snapshot() *catalog.Snapshot { return f.snap }
func (f *fakeCoord) IsCachePopulated() bool      { return f.snap.Populated() }

func testSnapshot() *catalog.Snapshot {
	return catalog.New(time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		map[catalog.Kind][]catalog.Category{
			catalog.KindLive: {{ID: 10, Name: "News", Kind: catalog.KindLive}},
			catalog.KindVOD:  {{ID: 20, Name: "Action", Kind: catalog.KindVOD}},
		},
		map[catalog.Kind]map[int][]catalog.Entry{
			catalog.KindLive: {10: {
				{ID: 101, Name: "[FR] Channel One (HD)", CategoryID: 10, Kind: catalog.KindLive, Number: 1, HasCatchup: true, CatchupDays: 7},
			}},
			catalog.KindVOD: {20: {
				{ID: 201, Name: "Some Film (2024)", CategoryID: 20, Kind: catalog.KindVOD, ContainerExt: "mkv"},
			}},
		},
	)
}

func testServer(coord *fakeCoord) *httptest.Server {
	builder := mediasource.NewBuilder(mediasource.Credentials{
		BaseURL: "http://panel.example:8080", Username: "u", Password: "p",
	}, nil)
	return httptest.NewServer(New(coord, builder, nil).Router())
}

func getJSON(t *testing.T, url string, into any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if into != nil {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestStatusEndpoint(t *testing.T) {
	coord := &fakeCoord{snap: catalog.Empty(), status: cache.Status{Refreshing: true, Progress: 0.5, Text: "fetching live 1/2: News"}}
	srv := testServer(coord)
	defer srv.Close()

	var got statusResponse
	if code := getJSON(t, srv.URL+"/api/status", &got); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if !got.Refreshing || got.Progress != 0.5 {
		t.Fatalf("status = %+v", got)
	}
	if got.IsCachePopulated {
		t.Error("empty snapshot must report unpopulated")
	}
}

func TestRefreshStartsThenConflicts(t *testing.T) {
	coord := &fakeCoord{snap: catalog.Empty()}
	srv := testServer(coord)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/refresh", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var first refreshResponse
	json.NewDecoder(resp.Body).Decode(&first)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted || !first.Started || first.RefreshID == "" {
		t.Fatalf("first refresh: code=%d body=%+v", resp.StatusCode, first)
	}

	resp, err = http.Post(srv.URL+"/api/refresh", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var second refreshResponse
	json.NewDecoder(resp.Body).Decode(&second)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second refresh code = %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("409 must carry Retry-After")
	}
	if second.RefreshID != first.RefreshID {
		t.Errorf("conflict must echo the running id: %q vs %q", second.RefreshID, first.RefreshID)
	}
}

func TestClearCancelsAndInvalidates(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot(), inFlight: true}
	srv := testServer(coord)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/clear", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	var got clearResponse
	json.NewDecoder(resp.Body).Decode(&got)
	resp.Body.Close()
	if !got.Interrupted {
		t.Error("clear during refresh must report interrupted")
	}
	if !coord.invalidated {
		t.Error("clear must invalidate the cache")
	}
	if coord.snap.Populated() {
		t.Error("snapshot still populated after clear")
	}
}

func TestCategoriesListing(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot()}
	srv := testServer(coord)
	defer srv.Close()

	var cats []categoryView
	if code := getJSON(t, srv.URL+"/api/live/categories", &cats); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(cats) != 1 || cats[0].Name != "News" {
		t.Fatalf("categories = %+v", cats)
	}

	if code := getJSON(t, srv.URL+"/api/radio/categories", nil); code != http.StatusNotFound {
		t.Fatalf("unknown kind code = %d", code)
	}
}

func TestChannelListingCleansNames(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot()}
	srv := testServer(coord)
	defer srv.Close()

	var entries []entryView
	if code := getJSON(t, srv.URL+"/api/live/categories/10/channels", &entries); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if e.Name != "Channel One" || e.RawName != "[FR] Channel One (HD)" {
		t.Errorf("name = %q raw = %q", e.Name, e.RawName)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "FR" || e.Tags[1] != "HD" {
		t.Errorf("tags = %v", e.Tags)
	}
	if !e.HasCatchup || e.CatchupDays != 7 {
		t.Errorf("catchup = %v/%d", e.HasCatchup, e.CatchupDays)
	}
}

func TestVODItemKeepsYearInTitle(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot()}
	srv := testServer(coord)
	defer srv.Close()

	var entries []entryView
	getJSON(t, srv.URL+"/api/vod/categories/20/items", &entries)
	if len(entries) != 1 || entries[0].Name != "Some Film (2024)" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].RawName != "" {
		t.Errorf("unchanged name must omit raw_name, got %q", entries[0].RawName)
	}
}

func TestSourceResolution(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot()}
	srv := testServer(coord)
	defer srv.Close()

	var desc mediasource.Descriptor
	if code := getJSON(t, srv.URL+"/api/vod/201/source", &desc); code != http.StatusOK {
		t.Fatalf("code = %d", code)
	}
	if desc.URL != "http://panel.example:8080/vod/u/p/201.mkv" {
		t.Errorf("url = %q", desc.URL)
	}
	if desc.Container != "mkv" || desc.Protocol != mediasource.ProtocolTranscode {
		t.Errorf("descriptor = %+v", desc)
	}

	if code := getJSON(t, srv.URL+"/api/live/999/source", nil); code != http.StatusNotFound {
		t.Errorf("unknown id code = %d", code)
	}
	if code := getJSON(t, srv.URL+"/api/live/abc/source", nil); code != http.StatusBadRequest {
		t.Errorf("non-numeric id code = %d", code)
	}
}

type fakeChecker struct{ rep health.Report }

func (f fakeChecker) Check(context.Context) health.Report { return f.rep }

func TestHealthzStatusCodes(t *testing.T) {
	coord := &fakeCoord{snap: testSnapshot()}
	builder := mediasource.NewBuilder(mediasource.Credentials{BaseURL: "http://x", Username: "u", Password: "p"}, nil)

	healthy := httptest.NewServer(New(coord, builder, fakeChecker{health.Report{CachePopulated: true, ProviderOK: true}}).Router())
	defer healthy.Close()
	if code := getJSON(t, healthy.URL+"/healthz", nil); code != http.StatusOK {
		t.Errorf("healthy code = %d", code)
	}

	unhealthy := httptest.NewServer(New(coord, builder, fakeChecker{health.Report{CachePopulated: false}}).Router())
	defer unhealthy.Close()
	if code := getJSON(t, unhealthy.URL+"/healthz", nil); code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy code = %d", code)
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	coord := &fakeCoord{snap: catalog.Empty()}
	srv := testServer(coord)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics code = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
}
