package series

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/series/pointstores"
)

// Feed sources
const (
	FallbackSource = "fallback"
	NOAASource     = "noaa"
	StaticSource   = "static"
	StoreSource    = "store"
)

// Feed provides the space weather used to fill in the indices a density query leaves out. It never fails, when the
// source can't answer the configured fallback values are returned instead
type Feed interface {
	Current(ctx context.Context) types.Weather
}

// NewFeed returns the feed of the type specified in the configuration
func NewFeed(conf config.Config, ps pointstores.PointStore, m *metrics.Metrics) (Feed, error) {
	fallback := StaticFeed{F107: conf.Feed.DefaultFlux, Kp: conf.Feed.DefaultKp}
	switch conf.Feed.Type {
	case config.StaticFeed:
		return fallback, nil
	case config.StoreFeed:
		if ps == nil {
			return nil, errors.New("the store feed requires a point store")
		}
		return NewStoreFeed(ps, conf.Feed, m), nil
	case config.NOAAFeed:
		client := resty.New().
			SetTimeout(conf.Feed.Timeout).
			SetRetryCount(2).
			SetRetryWaitTime(500 * time.Millisecond)
		return NewNOAAFeed(client, conf.Feed, m), nil
	default:
		return nil, errors.New(conf.Feed.Type + " is not a valid feed type")
	}
}

// StaticFeed always returns the same values
type StaticFeed struct {
	F107 float64
	Kp   float64
}

// Current returns the configured values
func (sf StaticFeed) Current(ctx context.Context) types.Weather {
	return types.Weather{F107: sf.F107, Kp: sf.Kp, Source: StaticSource}
}

// Refresher is implemented by the feeds that poll their source in the background instead of on the query path
type Refresher interface {
	Refresh(ctx context.Context) error
	Run(ctx context.Context) error
}

// fetchFunc retrieves the latest observation from a source, indices it can't provide are left nil
type fetchFunc func(ctx context.Context) (types.Observation, error)

// cachedFeed serves the last answer of a source and fills in whatever the source couldn't provide. It is only
// updated through Refresh, so queries never wait on the source
type cachedFeed struct {
	fallback StaticFeed
	fetch    fetchFunc
	metrics  *metrics.Metrics
	source   string
	ttl      time.Duration

	mu      sync.RWMutex
	current *types.Weather
}

// Current returns the weather of the last refresh, or the fallback values if the source hasn't been read yet
func (cf *cachedFeed) Current(ctx context.Context) types.Weather {
	cf.mu.RLock()
	defer cf.mu.RUnlock()
	if cf.current == nil {
		return types.Weather{F107: cf.fallback.F107, Kp: cf.fallback.Kp, Source: FallbackSource, UpdatedAt: time.Now().Unix()}
	}
	return *cf.current
}

// Refresh reads the source and replaces the cached weather. If the context ends before the source answers nothing
// is cached, whatever was read can't be told apart from a source failure
func (cf *cachedFeed) Refresh(ctx context.Context) error {
	o, err := cf.fetch(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		logger.Warning("Failed to get space weather from " + cf.source + ", using fallback values (" + err.Error() + ")")
	}
	now := time.Now()
	w := types.Weather{Source: cf.source, UpdatedAt: now.Unix()}
	if o.TimeStamp > 0 {
		w.UpdatedAt = o.TimeStamp
	}
	fallbacks := 0
	if o.F107 != nil && *o.F107 > 0 && !math.IsInf(*o.F107, 0) {
		w.F107 = *o.F107
	} else {
		w.F107 = cf.fallback.F107
		cf.countFallback(pointstores.FluxValue, err)
		fallbacks++
	}
	if o.Kp != nil && *o.Kp >= 0 && *o.Kp <= 9 {
		w.Kp = *o.Kp
	} else {
		w.Kp = cf.fallback.Kp
		cf.countFallback(pointstores.KpValue, err)
		fallbacks++
	}
	if fallbacks == 2 {
		w.Source = FallbackSource
		w.UpdatedAt = now.Unix()
	}

	cf.mu.Lock()
	cf.current = &w
	cf.mu.Unlock()
	return err
}

// Run refreshes the feed right away and then once per TTL until the context is cancelled
func (cf *cachedFeed) Run(ctx context.Context) error {
	interval := cf.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		cf.Refresh(ctx)
		select {
		case <-ctx.Done():
			logger.Info("Stopped refreshing space weather from " + cf.source)
			return nil
		case <-ticker.C:
		}
	}
}

func (cf *cachedFeed) countFallback(index string, err error) {
	if err == nil {
		logger.Warning("No " + index + " value available from " + cf.source + ", using fallback value")
	}
	if cf.metrics != nil {
		cf.metrics.FeedFallbacks.WithLabelValues(index).Inc()
	}
}

// NewStoreFeed returns a feed that reads the latest observations ingested into the given series
func NewStoreFeed(ps pointstores.PointStore, fp config.FeedParams, m *metrics.Metrics) Feed {
	return &cachedFeed{
		fallback: StaticFeed{F107: fp.DefaultFlux, Kp: fp.DefaultKp},
		fetch: func(ctx context.Context) (types.Observation, error) {
			return Latest(ps, fp.Series, nil)
		},
		metrics: m,
		source:  StoreSource,
		ttl:     fp.TTL,
	}
}

// NOAAFetcher reads the F10.7 and Kp products published by NOAA's Space Weather Prediction Center
type NOAAFetcher struct {
	client  *resty.Client
	fluxURL string
	kpURL   string
}

// NewNOAAFetcher returns a fetcher for the given product URLs
func NewNOAAFetcher(client *resty.Client, fluxURL, kpURL string) NOAAFetcher {
	return NOAAFetcher{client: client, fluxURL: fluxURL, kpURL: kpURL}
}

// NewNOAAFeed returns a cached feed backed by the NOAA SWPC JSON products
func NewNOAAFeed(client *resty.Client, fp config.FeedParams, m *metrics.Metrics) Feed {
	nf := NewNOAAFetcher(client, fp.FluxURL, fp.KpURL)
	return &cachedFeed{
		fallback: StaticFeed{F107: fp.DefaultFlux, Kp: fp.DefaultKp},
		fetch:    nf.Fetch,
		metrics:  m,
		source:   NOAASource,
		ttl:      fp.TTL,
	}
}

// reading is a single value of one of the indices
type reading struct {
	timeTag string
	value   float64
}

// Fetch retrieves the latest value of both indices. An error is only returned when neither of them could be read
func (nf NOAAFetcher) Fetch(ctx context.Context) (types.Observation, error) {
	o := types.Observation{}
	flux, fluxErr := nf.fetchFlux(ctx)
	if fluxErr == nil && len(flux) > 0 {
		last := flux[len(flux)-1]
		o.F107 = &last.value
		o.TimeStamp = parseTimeTag(last.timeTag)
	} else if fluxErr != nil {
		logger.Warning("Failed to fetch F10.7 from NOAA (" + fluxErr.Error() + ")")
	}
	kp, kpErr := nf.fetchKp(ctx)
	if kpErr == nil && len(kp) > 0 {
		last := kp[len(kp)-1]
		o.Kp = &last.value
		if ts := parseTimeTag(last.timeTag); ts > o.TimeStamp {
			o.TimeStamp = ts
		}
	} else if kpErr != nil {
		logger.Warning("Failed to fetch Kp from NOAA (" + kpErr.Error() + ")")
	}
	if o.F107 == nil && o.Kp == nil {
		return o, errors.New("no index could be fetched from NOAA")
	}
	return o, nil
}

// History returns every valid value of both products as observations sorted by time, values reported at the same
// time are merged into a single observation. A product that can't be read is skipped unless both fail
func (nf NOAAFetcher) History(ctx context.Context) ([]types.Observation, error) {
	flux, fluxErr := nf.fetchFlux(ctx)
	if fluxErr != nil {
		logger.Warning("Failed to fetch F10.7 from NOAA (" + fluxErr.Error() + ")")
	}
	kp, kpErr := nf.fetchKp(ctx)
	if kpErr != nil {
		if fluxErr != nil {
			return nil, kpErr
		}
		logger.Warning("Failed to fetch Kp from NOAA (" + kpErr.Error() + ")")
	}
	byTime := map[int64]*types.Observation{}
	get := func(tag string) *types.Observation {
		ts := parseTimeTag(tag)
		if ts == 0 {
			return nil
		}
		if _, ok := byTime[ts]; !ok {
			byTime[ts] = &types.Observation{TimeStamp: ts}
		}
		return byTime[ts]
	}
	for i := range flux {
		if o := get(flux[i].timeTag); o != nil {
			o.F107 = &flux[i].value
		}
	}
	for i := range kp {
		if o := get(kp[i].timeTag); o != nil {
			o.Kp = &kp[i].value
		}
	}
	res := make([]types.Observation, 0, len(byTime))
	for _, o := range byTime {
		res = append(res, *o)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].TimeStamp < res[j].TimeStamp })
	return res, nil
}

func (nf NOAAFetcher) get(ctx context.Context, url string) ([]byte, error) {
	resp, err := nf.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode())
	}
	return resp.Body(), nil
}

// fetchFlux returns the positive F10.7 values of the flux product, oldest first
func (nf NOAAFetcher) fetchFlux(ctx context.Context) ([]reading, error) {
	body, err := nf.get(ctx, nf.fluxURL)
	if err != nil {
		return nil, fmt.Errorf("fetching flux: %w", err)
	}
	var entries []struct {
		TimeTag string   `json:"time_tag"`
		Flux    *float64 `json:"flux"`
	}
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("parsing flux: %w", err)
	}
	res := []reading{}
	for _, e := range entries {
		if e.Flux != nil && *e.Flux > 0 {
			res = append(res, reading{e.TimeTag, *e.Flux})
		}
	}
	if len(res) == 0 {
		return nil, errors.New("the flux product has no valid values")
	}
	// Time tags are ISO 8601 so they sort lexicographically
	sort.SliceStable(res, func(i, j int) bool { return res[i].timeTag < res[j].timeTag })
	return res, nil
}

// fetchKp returns the Kp values of the planetary K index product, oldest first. Both the table layout (a header row
// followed by rows of strings) and the list of objects layout of the product are accepted
func (nf NOAAFetcher) fetchKp(ctx context.Context) ([]reading, error) {
	body, err := nf.get(ctx, nf.kpURL)
	if err != nil {
		return nil, fmt.Errorf("fetching kp: %w", err)
	}
	res := []reading{}
	add := func(tag string, raw interface{}) {
		kp, ok := toFloat(raw)
		if ok && kp >= 0 && kp <= 9 {
			res = append(res, reading{tag, kp})
		}
	}

	var table [][]interface{}
	if err := json.Unmarshal(body, &table); err == nil {
		for i, row := range table {
			if i == 0 || len(row) < 2 {
				continue
			}
			tag, _ := row[0].(string)
			add(tag, row[1])
		}
	} else {
		var objects []map[string]interface{}
		if err := json.Unmarshal(body, &objects); err != nil {
			return nil, fmt.Errorf("parsing kp: %w", err)
		}
		for _, obj := range objects {
			tag, _ := obj["time_tag"].(string)
			if v, ok := obj["Kp"]; ok {
				add(tag, v)
			} else {
				add(tag, obj["kp_index"])
			}
		}
	}
	if len(res) == 0 {
		return nil, errors.New("the kp product has no valid values")
	}
	sort.SliceStable(res, func(i, j int) bool { return parseTimeTag(res[i].timeTag) < parseTimeTag(res[j].timeTag) })
	return res, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// parseTimeTag understands the timestamp formats used by the SWPC products, 0 is returned for anything else
func parseTimeTag(tag string) int64 {
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05.000", "2006-01-02 15:04:05", time.RFC3339} {
		t, err := time.Parse(layout, tag)
		if err == nil {
			return t.Unix()
		}
	}
	return 0
}
