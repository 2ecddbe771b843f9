// Package pointstores contains the implementation of all the supported storage adapters for the space weather series
package pointstores

import (
	"errors"
	"strings"

	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/config"
)

const prefix string = "solapse-"

// ErrNoPoints is returned when a series exists but has no points that match the query
var ErrNoPoints = errors.New("no points found")

// PointStore is an abstraction over the storage service that will be used to keep the space weather history
type PointStore interface {
	// Adds a point to a series, should create it if it doesn't exist (calling AddSeries)
	AddPoint(name string, p Point) error
	// Create a new series
	AddSeries(name string, sample Point, retentionDays int) error
	// Delete a series
	DeleteSeries(name string) error
	Exists(name string) (bool, error)
	GetCount(name string, labels map[string]string) (int, error)
	// Gets the current value of the series
	GetLatest(name string, labels map[string]string) (Point, error)
	// Gets up to n points, most recent first
	GetLastN(name string, labels map[string]string, n int) ([]Point, error)
	// Get list of available series
	ListSeries() ([]types.BriefSeries, error)
}

// New returns an initialized point store of the type specified in the configuration
func New(conf config.Config) (PointStore, error) {
	switch conf.Series.StoreType {
	case config.FileSeriesStore:
		return NewFileAdapter(conf.Series.StoreParams)
	case config.ElasticsearchSeriesStore:
		return NewElasticAdapter(conf.Series)
	default:
		return nil, errors.New(conf.Series.StoreType + " is not a valid point store type")
	}
}

// matches returns true if the point carries every one of the given labels
func matches(p Point, labels map[string]string) bool {
	for k, v := range labels {
		if p.Labels[k] != v {
			return false
		}
	}
	return true
}

// seriesKey maps a series name to the lowercase, separator free key used for its index or directory
func seriesKey(name string) string {
	return prefix + strings.NewReplacer("/", "_", ":", "_", " ", "_").Replace(strings.ToLower(name))
}
