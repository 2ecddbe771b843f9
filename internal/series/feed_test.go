package series

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/series/pointstores"
)

const (
	fluxBody = `[
		{"frequency": 2800, "flux": 187, "time_tag": "2024-05-01T17:00:00", "reporting_schedule": "Afternoon"},
		{"frequency": 2800, "flux": null, "time_tag": "2024-05-01T20:00:00", "reporting_schedule": "Noon"},
		{"frequency": 2800, "flux": 176, "time_tag": "2024-04-30T20:00:00", "reporting_schedule": "Noon"}
	]`
	kpTableBody = `[
		["time_tag", "Kp", "a_running", "station_count"],
		["2024-05-01 12:00:00.000", "2.33", "9", "8"],
		["2024-05-01 15:00:00.000", "3.67", "22", "8"]
	]`
	kpObjectBody = `[
		{"time_tag": "2024-05-01T12:00:00", "Kp": 2.33, "a_running": 9, "station_count": 8},
		{"time_tag": "2024-05-01T15:00:00", "Kp": 5.0, "a_running": 48, "station_count": 8}
	]`
)

func feedParams(url string) config.FeedParams {
	return config.FeedParams{
		DefaultFlux: 150,
		DefaultKp:   2,
		FluxURL:     url + "/json/f107_cm_flux.json",
		KpURL:       url + "/products/noaa-planetary-k-index.json",
		Series:      "space-weather",
		Timeout:     time.Second,
		TTL:         time.Minute,
		Type:        config.NOAAFeed,
	}
}

func noaaServer(t *testing.T, kpBody string, calls *int) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/f107_cm_flux.json", func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Write([]byte(fluxBody))
	})
	mux.HandleFunc("/products/noaa-planetary-k-index.json", func(w http.ResponseWriter, r *http.Request) {
		if kpBody == "" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(kpBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestStaticFeed(t *testing.T) {
	conf := config.Config{Feed: config.FeedParams{DefaultFlux: 150, DefaultKp: 2, Type: config.StaticFeed}}
	feed, err := NewFeed(conf, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create static feed (%s)", err.Error())
	}
	w := feed.Current(context.Background())
	if w.F107 != 150 || w.Kp != 2 || w.Source != StaticSource {
		t.Errorf("Expected 150 / 2 from the static feed, got %+v", w)
	}

	conf.Feed.Type = config.StoreFeed
	_, err = NewFeed(conf, nil, nil)
	if err == nil {
		t.Errorf("The store feed shouldn't be created without a point store")
	}
}

func TestNOAAFeed(t *testing.T) {
	tests := []struct {
		name string
		body string
		kp   float64
	}{
		{"table", kpTableBody, 3.67},
		{"objects", kpObjectBody, 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			calls := 0
			srv := noaaServer(t, test.body, &calls)
			m := metrics.New()
			feed := NewNOAAFeed(resty.New(), feedParams(srv.URL), m)

			w := feed.Current(context.Background())
			if w.Source != FallbackSource || calls != 0 {
				t.Errorf("Expected the fallback values without calling NOAA before the first refresh, got %+v", w)
			}
			err := feed.(Refresher).Refresh(context.Background())
			if err != nil {
				t.Fatalf("Failed to refresh the feed (%s)", err.Error())
			}
			w = feed.Current(context.Background())
			if w.F107 != 187 || w.Kp != test.kp || w.Source != NOAASource {
				t.Errorf("Expected the most recent valid values (187, %f), got %+v", test.kp, w)
			}
			if w.UpdatedAt != time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC).Unix() {
				t.Errorf("Expected the timestamp of the newest value, got %d", w.UpdatedAt)
			}
			feed.Current(context.Background())
			if calls != 1 {
				t.Errorf("Queries should be answered from the cache, NOAA was called %d times", calls)
			}
			if v := testutil.ToFloat64(m.FeedFallbacks.WithLabelValues(pointstores.KpValue)); v != 0 {
				t.Errorf("No fallback should have been counted, got %f", v)
			}
		})
	}
}

func TestNOAAFeedFallback(t *testing.T) {
	calls := 0
	srv := noaaServer(t, "", &calls)
	m := metrics.New()
	feed := NewNOAAFeed(resty.New(), feedParams(srv.URL), m)

	feed.(Refresher).Refresh(context.Background())
	w := feed.Current(context.Background())
	if w.F107 != 187 || w.Kp != 2 || w.Source != NOAASource {
		t.Errorf("Expected the live flux and the fallback Kp, got %+v", w)
	}
	if v := testutil.ToFloat64(m.FeedFallbacks.WithLabelValues(pointstores.KpValue)); v != 1 {
		t.Errorf("Expected one Kp fallback to be counted, got %f", v)
	}

	fp := feedParams("http://127.0.0.1:1")
	feed = NewNOAAFeed(resty.New(), fp, m)
	if err := feed.(Refresher).Refresh(context.Background()); err == nil {
		t.Error("Expected the refresh to report that NOAA can't be reached")
	}
	w = feed.Current(context.Background())
	if w.F107 != 150 || w.Kp != 2 || w.Source != FallbackSource {
		t.Errorf("Expected 150 / 2 when NOAA can't be reached, got %+v", w)
	}
	if v := testutil.ToFloat64(m.FeedFallbacks.WithLabelValues(pointstores.FluxValue)); v != 1 {
		t.Errorf("Expected one flux fallback to be counted, got %f", v)
	}
}

func TestStoreFeed(t *testing.T) {
	ps := testStore(t)
	fp := feedParams("")
	fp.TTL = 0
	feed := NewStoreFeed(ps, fp, nil)

	feed.(Refresher).Refresh(context.Background())
	w := feed.Current(context.Background())
	if w.F107 != 150 || w.Kp != 2 || w.Source != FallbackSource {
		t.Errorf("Expected the fallback values while the series is empty, got %+v", w)
	}

	o := types.Observation{F107: float(99.5), Kp: float(6), TimeStamp: 777808800}
	err := ps.AddPoint(fp.Series, pointstores.FromObservation(map[string]string{"source": "test"}, o))
	if err != nil {
		t.Fatalf("Failed to add point (%s)", err.Error())
	}
	if w = feed.Current(context.Background()); w.Source != FallbackSource {
		t.Errorf("New observations shouldn't be visible before the next refresh, got %+v", w)
	}
	feed.(Refresher).Refresh(context.Background())
	w = feed.Current(context.Background())
	if w.F107 != 99.5 || w.Kp != 6 || w.Source != StoreSource || w.UpdatedAt != 777808800 {
		t.Errorf("Expected the stored observation, got %+v", w)
	}
}

func TestFeedRefreshCancelled(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/f107_cm_flux.json", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte(`[{"frequency": 2800, "flux": 210, "time_tag": "2024-05-02T17:00:00"}]`))
	})
	mux.HandleFunc("/products/noaa-planetary-k-index.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(kpTableBody))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	feed := NewNOAAFeed(resty.New(), feedParams(srv.URL), metrics.New()).(*cachedFeed)

	// A source that doesn't answer in time must not leave its fallback behind
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := feed.Refresh(ctx); err == nil {
		t.Fatal("Expected the refresh to fail once its context expired")
	}
	err := feed.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Failed to refresh the feed (%s)", err.Error())
	}
	if w := feed.Current(context.Background()); w.F107 != 210 || w.Source != NOAASource {
		t.Fatalf("Expected the live flux after a cancelled refresh, got %+v", w)
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	feed.Refresh(ctx)
	if w := feed.Current(context.Background()); w.F107 != 210 || w.Source != NOAASource {
		t.Errorf("A cancelled refresh replaced the cached weather with %+v", w)
	}

	// Queries never reach the source, even with an expired context
	feed.fetch = func(ctx context.Context) (types.Observation, error) {
		t.Error("Current shouldn't call the source")
		return types.Observation{}, nil
	}
	expired, stop := context.WithCancel(context.Background())
	stop()
	if w := feed.Current(expired); w.F107 != 210 {
		t.Errorf("Expected the cached flux for a query with an expired context, got %+v", w)
	}
}

func TestFeedRun(t *testing.T) {
	calls := 0
	srv := noaaServer(t, kpTableBody, &calls)
	feed := NewNOAAFeed(resty.New(), feedParams(srv.URL), nil)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error)
	go func() {
		stopped <- feed.(Refresher).Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for feed.Current(context.Background()).Source != NOAASource {
		if time.Now().After(deadline) {
			t.Fatal("The feed wasn't refreshed in the background")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Run returned an error after being cancelled (%s)", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run didn't stop after its context was cancelled")
	}
}

func TestNOAAHistory(t *testing.T) {
	calls := 0
	srv := noaaServer(t, kpTableBody, &calls)
	fp := feedParams(srv.URL)
	nf := NewNOAAFetcher(resty.New(), fp.FluxURL, fp.KpURL)

	observations, err := nf.History(context.Background())
	if err != nil {
		t.Fatalf("Failed to fetch history (%s)", err.Error())
	}
	if len(observations) != 4 {
		t.Fatalf("Expected 2 flux and 2 Kp observations, got %d", len(observations))
	}
	for i := 1; i < len(observations); i++ {
		if observations[i].TimeStamp <= observations[i-1].TimeStamp {
			t.Errorf("Observations should be sorted by time")
		}
	}
	first := observations[0]
	if first.F107 == nil || *first.F107 != 176 || first.Kp != nil {
		t.Errorf("Expected the oldest flux value first, got %+v", first)
	}
}
