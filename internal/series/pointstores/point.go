package pointstores

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/qvantel/solapse/api/types"
)

// Names of the values a space weather point can carry
const (
	FluxValue = "f107"
	KpValue   = "kp"
)

// Point represents a single measurement in a time series
type Point struct {
	Labels    map[string]string
	Values    map[string]float64
	TimeStamp int64
}

// FromObservation turns a space weather observation into a point, indices that weren't reported are left out
func FromObservation(labels map[string]string, o types.Observation) Point {
	values := map[string]float64{}
	if o.F107 != nil {
		values[FluxValue] = *o.F107
	}
	if o.Kp != nil {
		values[KpValue] = *o.Kp
	}
	return Point{Labels: labels, Values: values, TimeStamp: o.TimeStamp}
}

// Observation is the inverse of FromObservation
func (p Point) Observation() types.Observation {
	o := types.Observation{TimeStamp: p.TimeStamp}
	if v, ok := p.Values[FluxValue]; ok {
		o.F107 = &v
	}
	if v, ok := p.Values[KpValue]; ok {
		o.Kp = &v
	}
	return o
}

// ID generates a string that uniquely identifies a point. Useful for deduplication
func (p Point) ID() string {
	// We have to sort the labels in the map to ensure the hash is deterministic
	keys := make([]string, 0, len(p.Labels))
	for k := range p.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	hash := sha256.New()
	hash.Write([]byte(strconv.FormatInt(p.TimeStamp, 10)))
	for _, key := range keys {
		hash.Write([]byte(key + "=" + p.Labels[key]))
	}
	return hex.EncodeToString(hash.Sum(nil))
}

// MarshalJSON is required for flattening the struct
func (p Point) MarshalJSON() ([]byte, error) {
	total := make(map[string]interface{}, 1+len(p.Labels)+len(p.Values))

	total["@timestamp"] = p.TimeStamp
	for label, value := range p.Labels {
		total[label] = value
	}
	for name, value := range p.Values {
		total[name] = value
	}
	return json.Marshal(total)
}

// UnmarshalJSON makes sure that we can recover a point struct from a flattened representation
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return err
	}
	p.Labels = map[string]string{}
	p.Values = map[string]float64{}
	for key, value := range raw {
		switch v := value.(type) {
		case float64:
			if key == "@timestamp" {
				p.TimeStamp = int64(v)
				continue
			}
			p.Values[key] = v
		case string:
			p.Labels[key] = v
		}
	}
	return nil
}
