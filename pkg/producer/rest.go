package producer

import (
	"crypto/tls"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// RestProducer is a Producer implementation for sending events directly to solapse through its API. Its use is
// discouraged when pairing it with a replicated setup given that it doesn't support load balancing by series ID
type RestProducer struct {
	endpoints []string
	client    *resty.Client

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRestProducer checks the provided addresses and creates a rest producer
func NewRestProducer(conf Config) (*RestProducer, error) {
	endpoints := reachable(conf.Addresses, conf.Timeout)
	if len(endpoints) == 0 {
		return nil, errors.New("none of the provided solapse endpoints are usable")
	}
	client := resty.New().
		SetTimeout(conf.Timeout).
		SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true}).
		SetHeader("Content-Type", "application/cloudevents+json")
	return &RestProducer{
		endpoints: endpoints,
		client:    client,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Close is required to be defined to comply with the Producer interface but not really needed for rest
func (rp *RestProducer) Close() {
	rp.client.GetClient().CloseIdleConnections()
}

// Send posts the given event to one of the reachable addresses picked at random
func (rp *RestProducer) Send(seriesID string, event []byte) error {
	rp.mu.Lock()
	i := rp.rng.Intn(len(rp.endpoints))
	rp.mu.Unlock()
	url := rp.endpoints[i] + "/api/v1/series/process"
	resp, err := rp.client.R().SetBody(event).Post(url)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusAccepted {
		return errors.New("received http status " + resp.Status())
	}
	return nil
}
