package pointstores

import (
	"encoding/json"
	"testing"

	"github.com/qvantel/solapse/api/types"
)

func TestID(t *testing.T) {
	sec := int64(777808800)
	a := Point{map[string]string{"source": "noaa", "station": "penticton"}, map[string]float64{FluxValue: 142.1}, sec}
	b := Point{map[string]string{"station": "penticton", "source": "noaa"}, map[string]float64{FluxValue: 98.4}, sec}

	firstA := a.ID()
	firstB := b.ID()

	if firstA != firstB {
		t.Errorf("Two points with the same labels and timestamp didn't return the same id")
	}

	secondB := b.ID()
	if firstB != secondB {
		t.Errorf("Generating an ID for the same point must allways return the same value")
	}

	c := Point{map[string]string{"source": "noaa"}, map[string]float64{FluxValue: 98.4}, sec}
	if firstA == c.ID() {
		t.Errorf("The ID hash should be taking all label values into account")
	}
}

func TestUnmarshalJSON(t *testing.T) {
	sec := int64(777808800)
	a := Point{map[string]string{"source": "noaa", "station": "penticton"}, map[string]float64{KpValue: 3.33}, sec}

	jPoint, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("The custom JSON marshal method shouldn't fail to convert a known valid point (%s)", err.Error())
	}

	var b Point
	err = json.Unmarshal(jPoint, &b)
	if err != nil {
		t.Fatalf("The custom JSON unmarshal method shouldn't fail to convert a known valid point (%s)", err.Error())
	}
	if a.ID() != b.ID() || b.TimeStamp != sec || b.Values[KpValue] != 3.33 {
		t.Errorf("The result from unmarshalling a marshalled point should be an identical object, got %+v", b)
	}
}

func TestObservation(t *testing.T) {
	flux := 142.1
	p := FromObservation(map[string]string{"source": "noaa"}, types.Observation{F107: &flux, TimeStamp: 777808800})
	if _, ok := p.Values[KpValue]; ok {
		t.Errorf("Indices that weren't reported shouldn't be stored")
	}
	o := p.Observation()
	if o.Kp != nil || o.F107 == nil || *o.F107 != flux || o.TimeStamp != 777808800 {
		t.Errorf("Expected the original observation back, got %+v", o)
	}
}
