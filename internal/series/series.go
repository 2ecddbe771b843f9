// Package series contains the logic that manages the space weather observations used to complete density queries
package series

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudevents/sdk-go/v2/event"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/logger"
	"github.com/qvantel/solapse/internal/metrics"
	"github.com/qvantel/solapse/internal/series/pointstores"
)

// WeatherUpdateType is the cloud event type of space weather updates
const WeatherUpdateType = "com.qvantel.solapse.spaceweather"

// ErrUnsupportedEvent is returned for cloud events of any type other than WeatherUpdateType
var ErrUnsupportedEvent = errors.New("unsupported event type")

// ProcessUpdate serves to separate the cloud event processing logic from that which is Kafka specific, that way
// allowing for observations to be ingested into the system through other channels. It returns the number of
// observations stored, invalid ones are skipped
func ProcessUpdate(event event.Event, ps pointstores.PointStore, m *metrics.Metrics) (int, error) {
	switch event.Type() {
	case WeatherUpdateType:
		var wu types.WeatherUpdate
		err := json.Unmarshal(event.Data(), &wu)
		if err != nil {
			return 0, err
		}
		if wu.SeriesID == "" {
			return 0, errors.New("a weather update must have a series ID")
		}
		if len(wu.Observations) == 0 {
			return 0, errors.New("a weather update must carry at least one observation")
		}

		labels := map[string]string{}
		for k, v := range wu.Labels {
			labels[k] = v
		}
		labels["source"] = event.Source()
		stored := 0
		for _, o := range wu.Observations {
			if !o.HasValues() {
				logger.Debug(fmt.Sprintf("Skipping observation without valid indices at %d from %s", o.TimeStamp, event.Source()))
				continue
			}
			err = ps.AddPoint(wu.SeriesID, pointstores.FromObservation(labels, o))
			if err != nil {
				logger.Error("Error encountered while persisting point to store", err)
				return stored, err
			}
			stored++
		}
		if m != nil {
			m.Observations.WithLabelValues(wu.SeriesID).Add(float64(stored))
		}
		logger.Trace(fmt.Sprintf("Stored %d of %d observations for %s", stored, len(wu.Observations), wu.SeriesID))
		return stored, nil
	default:
		logger.Warning("Received cloud event with unsupported type (" + event.Type() + ") from " + event.Source())
		return 0, ErrUnsupportedEvent
	}
}

// latestWindow is how many points are inspected to find the latest value of each index, sources that report only one
// of them interleave their points
const latestWindow = 48

// Latest returns the most recent value of each index in the series. Each index can come from a different point, the
// timestamp is the one of the newest point used. An error is returned if the series has no points
func Latest(ps pointstores.PointStore, name string, labels map[string]string) (types.Observation, error) {
	points, err := ps.GetLastN(name, labels, latestWindow)
	if err != nil {
		return types.Observation{}, err
	}
	if len(points) == 0 {
		return types.Observation{}, pointstores.ErrNoPoints
	}
	var o types.Observation
	for _, p := range points {
		po := p.Observation()
		if o.F107 == nil && po.F107 != nil {
			o.F107 = po.F107
			o.TimeStamp = maxInt64(o.TimeStamp, p.TimeStamp)
		}
		if o.Kp == nil && po.Kp != nil {
			o.Kp = po.Kp
			o.TimeStamp = maxInt64(o.TimeStamp, p.TimeStamp)
		}
		if o.F107 != nil && o.Kp != nil {
			break
		}
	}
	return o, nil
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
