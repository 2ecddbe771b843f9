package main

import (
	"encoding/json"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/series"
)

type memProducer struct {
	keys   []string
	events [][]byte
}

func (mp *memProducer) Send(seriesID string, event []byte) error {
	mp.keys = append(mp.keys, seriesID)
	mp.events = append(mp.events, event)
	return nil
}

func (mp *memProducer) Close() {}

func TestSend(t *testing.T) {
	flux := 150.5
	mp := &memProducer{}
	err := send(mp, "testdata/observations.txt", "space-weather", []types.Observation{{F107: &flux, TimeStamp: 1714262400}})
	if err != nil {
		t.Fatalf("Failed to send observations (%s)", err.Error())
	}
	if len(mp.events) != 1 || mp.keys[0] != "space-weather" {
		t.Fatalf("Expected one event keyed by series, got %v", mp.keys)
	}

	event := cloudevents.NewEvent()
	err = json.Unmarshal(mp.events[0], &event)
	if err != nil {
		t.Fatalf("Failed to parse event (%s)", err.Error())
	}
	if event.Type() != series.WeatherUpdateType || event.Source() != "swcollect" || event.ID() == "" {
		t.Errorf("Unexpected event attributes %s", event.String())
	}
	var wu types.WeatherUpdate
	err = json.Unmarshal(event.Data(), &wu)
	if err != nil {
		t.Fatalf("Failed to parse event data (%s)", err.Error())
	}
	if wu.SeriesID != "space-weather" || len(wu.Observations) != 1 || *wu.Observations[0].F107 != flux {
		t.Errorf("Unexpected weather update %+v", wu)
	}
}
