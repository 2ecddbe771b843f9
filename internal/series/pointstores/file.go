package pointstores

import (
	"encoding/json"
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/qvantel/solapse/api/types"
)

// FileAdapter is a point store implementation that uses the filesystem. Its main purpose is to facilitate
// testing and single instance deployments, given its low performance it is discouraged for long histories
type FileAdapter struct {
	Path string
}

// NewFileAdapter returns an initialized file point store object
func NewFileAdapter(conf map[string]interface{}) (*FileAdapter, error) {
	path, ok := conf["Path"].(string)
	if !ok || path == "" {
		return nil, errors.New("the file point store requires a Path")
	}
	err := os.MkdirAll(path, 0755)
	if err != nil {
		return nil, err
	}
	return &FileAdapter{Path: path}, nil
}

func (fa FileAdapter) dir(name string) string {
	return filepath.Join(fa.Path, seriesKey(name))
}

// AddPoint creates a new file with the JSON representation of the point in the subdirectory that corresponds to the
// given series, a point with the same ID replaces the previous one
func (fa FileAdapter) AddPoint(name string, p Point) error {
	dir := fa.dir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err = fa.AddSeries(name, p, 90)
		if err != nil {
			return err
		}
	}
	jPoint, err := json.Marshal(p)
	if err != nil {
		return err
	}
	// Write then rename so that concurrent readers never parse a partial point
	tmp, err := ioutil.TempFile(dir, ".tmp-")
	if err != nil {
		return err
	}
	_, err = tmp.Write(jPoint)
	if cErr := tmp.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, p.ID()))
}

// AddSeries creates a directory to hold a time series
func (fa FileAdapter) AddSeries(name string, sample Point, retentionDays int) error {
	return os.MkdirAll(fa.dir(name), 0755)
}

// DeleteSeries removes the subdirectory used to store a series
func (fa FileAdapter) DeleteSeries(name string) error {
	return os.RemoveAll(fa.dir(name))
}

// Exists returns true if a directory is present for the specified series
func (fa FileAdapter) Exists(name string) (bool, error) {
	_, err := os.Stat(fa.dir(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetCount retrieves the number of points recorded for the given series with the specified labels (returns 0 if the
// series doesn't exist)
func (fa FileAdapter) GetCount(name string, labels map[string]string) (int, error) {
	points, err := fa.read(name, labels)
	if os.IsNotExist(err) {
		return 0, nil
	}
	return len(points), err
}

// GetLatest returns the most recent point of the series with the specified labels
func (fa FileAdapter) GetLatest(name string, labels map[string]string) (Point, error) {
	points, err := fa.GetLastN(name, labels, 1)
	if err != nil {
		return Point{}, err
	}
	if len(points) == 0 {
		return Point{}, ErrNoPoints
	}
	return points[0], nil
}

// GetLastN returns the last n points for the given series, most recent first
func (fa FileAdapter) GetLastN(name string, labels map[string]string, n int) ([]Point, error) {
	points, err := fa.read(name, labels)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[j].TimeStamp < points[i].TimeStamp
	})
	if len(points) < n {
		n = len(points)
	}
	return points[:n], nil
}

// read loads every point of the series that carries the given labels
func (fa FileAdapter) read(name string, labels map[string]string) ([]Point, error) {
	dir := fa.dir(name)
	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	points := []Point{}
	for _, file := range files {
		if strings.HasPrefix(file.Name(), ".tmp-") {
			continue
		}
		dat, err := ioutil.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		var p Point
		err = json.Unmarshal(dat, &p)
		if err != nil {
			return nil, err
		}
		if matches(p, labels) {
			points = append(points, p)
		}
	}
	return points, nil
}

// ListSeries returns a list of all the available series in the configured directory
func (fa FileAdapter) ListSeries() ([]types.BriefSeries, error) {
	files, err := ioutil.ReadDir(fa.Path)
	if err != nil {
		return nil, err
	}
	series := []types.BriefSeries{}
	for _, file := range files {
		if !file.IsDir() || !strings.HasPrefix(file.Name(), prefix) {
			continue
		}
		name := strings.TrimPrefix(file.Name(), prefix)
		count, err := fa.GetCount(name, nil)
		if err != nil {
			return nil, err
		}
		series = append(series, types.BriefSeries{
			Name:  name,
			Count: count,
		})
	}

	return series, nil
}
