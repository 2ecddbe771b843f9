package pointstores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"
	"time"

	elastic "github.com/elastic/go-elasticsearch/v7"
	"github.com/elastic/go-elasticsearch/v7/esapi"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
	"github.com/qvantel/solapse/internal/logger"
)

const defRetentionDays = 365

// ElasticAdapter is a point store implementation for Elasticsearch, each series is kept in its own index
type ElasticAdapter struct {
	client    *elastic.Client
	retention int
	timeout   time.Duration
}

// esQuery is the body of a search or count request
type esQuery map[string]interface{}

// searchResponse is used to parse the hits of a point query
type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source Point `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// NewElasticAdapter returns an initialized Elasticsearch point store. Besides the comma separated URLs, the store
// params can set RetentionDays (recorded in the metadata of new indices) and Timeout (a Go duration string)
func NewElasticAdapter(sp config.SeriesParams) (*ElasticAdapter, error) {
	urls, ok := sp.StoreParams["URLs"].(string)
	if !ok || urls == "" {
		return nil, errors.New("the elasticsearch point store requires a comma separated list of URLs")
	}
	ea := &ElasticAdapter{retention: defRetentionDays, timeout: 10 * time.Second}
	if days, ok := sp.StoreParams["RetentionDays"].(float64); ok && days > 0 {
		ea.retention = int(days)
	}
	if raw, ok := sp.StoreParams["Timeout"].(string); ok {
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid elasticsearch timeout: %w", err)
		}
		ea.timeout = timeout
	}
	client, err := elastic.NewClient(elastic.Config{
		Addresses: strings.Split(urls, ","),
		Username:  sp.StoreUser,
		Password:  sp.StorePass,
	})
	if err != nil {
		return nil, err
	}
	ea.client = client
	return ea, nil
}

// do runs a request with the adapter's timeout and returns the response body. A missing index is reported through
// found instead of an error so that callers can decide what an absent series means for them
func (ea ElasticAdapter) do(action string, req esapi.Request) (body []byte, found bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), ea.timeout)
	defer cancel()
	res, err := req.Do(ctx, ea.client)
	if err != nil {
		return nil, false, err
	}
	defer res.Body.Close()
	body, err = ioutil.ReadAll(res.Body)
	if err != nil {
		return nil, false, err
	}
	if res.StatusCode == http.StatusNotFound {
		return body, false, nil
	}
	if res.IsError() {
		return nil, false, fmt.Errorf("elasticsearch error while %s: %s %s", action, res.Status(), string(body))
	}
	return body, true, nil
}

// AddPoint upserts an observation into the index of a given series, creating it first if needed. The call waits for
// the next refresh so the point is visible to the queries that follow it
func (ea ElasticAdapter) AddPoint(name string, p Point) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	logger.Trace("Indexing observation " + string(data) + " into series " + name)
	body, found, err := ea.do("indexing observation", esapi.IndexRequest{
		Index:      seriesKey(name),
		DocumentID: p.ID(),
		Body:       bytes.NewReader(data),
		Refresh:    "wait_for",
	})
	if err != nil {
		return err
	}
	if !found {
		err = ea.AddSeries(name, p, ea.retention)
		if err != nil {
			return err
		}
		return ea.AddPoint(name, p)
	}
	var r struct {
		Result  string `json:"result"`
		Version int    `json:"_version"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return err
	}
	logger.Trace(fmt.Sprintf("Observation %s %s (version %d)", p.ID(), r.Result, r.Version))
	return nil
}

// AddSeries creates the index that holds a series. Labels are mapped as keywords so they can be used as filters and
// both indices are always mapped as doubles even if the sample only carries one of them
func (ea ElasticAdapter) AddSeries(name string, sample Point, retentionDays int) error {
	props := map[string]interface{}{
		"@timestamp": map[string]string{"type": "date"},
		FluxValue:    map[string]interface{}{"type": "double", "index": false},
		KpValue:      map[string]interface{}{"type": "double", "index": false},
	}
	for label := range sample.Labels {
		props[label] = map[string]string{"type": "keyword"}
	}
	for value := range sample.Values {
		props[value] = map[string]interface{}{"type": "double", "index": false}
	}
	mapping, err := json.Marshal(map[string]interface{}{
		"mappings": map[string]interface{}{
			"date_detection": false,
			"_meta":          map[string]interface{}{"series": name, "retention_days": retentionDays},
			"properties":     props,
		},
	})
	if err != nil {
		return err
	}
	logger.Info("Creating index for series " + name + " with this mapping: " + string(mapping))
	_, _, err = ea.do("creating index", esapi.IndicesCreateRequest{
		Index: seriesKey(name),
		Body:  bytes.NewReader(mapping),
	})
	return err
}

// DeleteSeries removes the index used to store a series, deleting a series that doesn't exist isn't an error
func (ea ElasticAdapter) DeleteSeries(name string) error {
	_, _, err := ea.do("deleting index", esapi.IndicesDeleteRequest{Index: []string{seriesKey(name)}})
	return err
}

// Exists returns true if an index for the specified series is present in Elasticsearch
func (ea ElasticAdapter) Exists(name string) (bool, error) {
	_, found, err := ea.do("checking if index exists", esapi.IndicesExistsRequest{Index: []string{seriesKey(name)}})
	return found, err
}

// GetCount retrieves the number of points recorded for the given series with the specified labels (0 if the series
// doesn't exist)
func (ea ElasticAdapter) GetCount(name string, labels map[string]string) (int, error) {
	q, err := json.Marshal(esQuery{"query": filter(labels)})
	if err != nil {
		return 0, err
	}
	body, found, err := ea.do("counting observations", esapi.CountRequest{
		Index: []string{seriesKey(name)},
		Body:  bytes.NewReader(q),
	})
	if err != nil || !found {
		return 0, err
	}
	var r struct {
		Count int `json:"count"`
	}
	err = json.Unmarshal(body, &r)
	return r.Count, err
}

// GetLatest retrieves the most recent point of the series with the specified labels
func (ea ElasticAdapter) GetLatest(name string, labels map[string]string) (Point, error) {
	points, err := ea.GetLastN(name, labels, 1)
	if err != nil {
		return Point{}, err
	}
	if len(points) == 0 {
		return Point{}, ErrNoPoints
	}
	return points[0], nil
}

// GetLastN retrieves up to n points of the given series with the specified labels, most recent first
func (ea ElasticAdapter) GetLastN(name string, labels map[string]string, n int) ([]Point, error) {
	q, err := json.Marshal(esQuery{
		"query": filter(labels),
		"sort":  []interface{}{map[string]interface{}{"@timestamp": map[string]string{"order": "desc"}}},
		"size":  n,
	})
	if err != nil {
		return nil, err
	}
	logger.Trace("Executing query " + string(q) + " for series " + name)
	body, found, err := ea.do("searching observations", esapi.SearchRequest{
		Index: []string{seriesKey(name)},
		Body:  bytes.NewReader(q),
	})
	points := []Point{}
	if err != nil || !found {
		return points, err
	}
	var r searchResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	for _, hit := range r.Hits.Hits {
		points = append(points, hit.Source)
	}
	return points, nil
}

// ListSeries returns every series that has an index in Elasticsearch along with its document count
func (ea ElasticAdapter) ListSeries() ([]types.BriefSeries, error) {
	body, _, err := ea.do("listing indices", esapi.CatIndicesRequest{
		Index:  []string{prefix + "*"},
		Format: "json",
		H:      []string{"index", "docs.count"},
	})
	if err != nil {
		return nil, err
	}
	var indices []struct {
		Index string `json:"index"`
		Count string `json:"docs.count"`
	}
	if err := json.Unmarshal(body, &indices); err != nil {
		return nil, err
	}
	series := make([]types.BriefSeries, 0, len(indices))
	for _, idx := range indices {
		count := 0
		if idx.Count != "" {
			count, err = strconv.Atoi(idx.Count)
			if err != nil {
				return nil, err
			}
		}
		series = append(series, types.BriefSeries{Name: strings.TrimPrefix(idx.Index, prefix), Count: count})
	}
	return series, nil
}

// filter builds a query clause that only matches the documents that carry every one of the labels
func filter(labels map[string]string) esQuery {
	if len(labels) == 0 {
		return esQuery{"match_all": map[string]interface{}{}}
	}
	terms := make([]esQuery, 0, len(labels))
	for k, v := range labels {
		terms = append(terms, esQuery{"term": map[string]string{k: v}})
	}
	return esQuery{"bool": esQuery{"filter": terms}}
}
