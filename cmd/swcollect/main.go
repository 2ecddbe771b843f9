package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/qvantel/solapse/api/types"
	"github.com/qvantel/solapse/internal/series"
	"github.com/qvantel/solapse/pkg/producer"
)

func main() {
	// Get arguments
	var (
		batchSize                               int
		headers                                 bool
		pc                                      producer.Config
		fluxURL, kpURL, sep, seriesID, targets string
	)
	flag.IntVar(&batchSize, "batch", 50, "Maximum number of observations to bundle in a single weather update")
	flag.BoolVar(&headers, "headers", false, "If true, the first line of the file will be skipped")
	flag.StringVar(
		&fluxURL,
		"flux-url",
		"https://services.swpc.noaa.gov/json/f107_cm_flux.json",
		"NOAA F10.7 product to read when no file is given",
	)
	flag.StringVar(
		&kpURL,
		"kp-url",
		"https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json",
		"NOAA planetary K index product to read when no file is given",
	)
	flag.DurationVar(&pc.Timeout, "timeout", 15*time.Second, "Maximum time to wait for the production of a message")
	flag.StringVar(&pc.Topic, "topic", "solapse-observations", "Where to produce the messages when using Kafka")
	flag.StringVar(&pc.Type, "producer", "rest", "What producer to use. Supported values are rest and kafka")
	flag.StringVar(&sep, "sep", " ", "String sequence that denotes the end of one field and the start of the next")
	flag.StringVar(&seriesID, "series", "space-weather", "ID of the series that these observations belong to")
	flag.StringVar(
		&targets,
		"targets",
		"",
		"Comma separated list of protocol://host:port for solapse instances when using rest, host:port of Kafka brokers when using kafka",
	)
	flag.Parse()

	// Check arguments
	if targets == "" {
		fmt.Println("ERROR: No targets specified")
		os.Exit(1)
	}
	if batchSize < 1 {
		fmt.Println("ERROR: The batch size must be at least 1")
		os.Exit(1)
	}

	// Initialize producer
	pc.Addresses = strings.Split(targets, ",")
	p, err := producer.New(pc)
	if err != nil {
		fmt.Println("ERROR: Failed to start producer (" + err.Error() + ")")
		os.Exit(1)
	}
	defer p.Close()
	fmt.Println(pc.Type + " producer initialized with targets: " + targets)

	// Collect observations from a file if one is given or from NOAA otherwise
	out := make(chan types.Observation, 10)
	subject := flag.Arg(0)
	var collectErr func() error
	if subject != "" {
		fc := NewFileCollector(headers, out, subject, sep)
		collectErr = fc.Err
		go fc.Collect()
		fmt.Println("file collector started for path: " + subject)
	} else {
		subject = fluxURL
		client := resty.New().SetTimeout(pc.Timeout).SetRetryCount(2)
		nf := series.NewNOAAFetcher(client, fluxURL, kpURL)
		var fetchErr error
		collectErr = func() error { return fetchErr }
		go func() {
			defer close(out)
			ctx, cancel := context.WithTimeout(context.Background(), 2*pc.Timeout)
			defer cancel()
			observations, err := nf.History(ctx)
			if err != nil {
				fetchErr = err
				return
			}
			for _, o := range observations {
				out <- o
			}
		}()
		fmt.Println("NOAA collector started")
	}

	batch := []types.Observation{}
	sent := 0
	for o := range out {
		batch = append(batch, o)
		if len(batch) < batchSize {
			continue
		}
		err = send(p, subject, seriesID, batch)
		if err != nil {
			fmt.Println("ERROR: " + err.Error())
			os.Exit(1)
		}
		sent += len(batch)
		batch = []types.Observation{}
	}
	if err := collectErr(); err != nil {
		fmt.Println("ERROR: " + err.Error())
		os.Exit(1)
	}
	// Send any remaining observations
	if len(batch) != 0 {
		err = send(p, subject, seriesID, batch)
		if err != nil {
			fmt.Println("ERROR: " + err.Error())
			os.Exit(1)
		}
		sent += len(batch)
	}
	fmt.Println("successfully produced " + strconv.Itoa(sent) + " observations")
}

// send encapsulates the logic for wrapping a batch of observations in a cloud event and sending it
func send(p producer.Producer, subject, seriesID string, observations []types.Observation) error {
	raw, err := newEvent(subject, types.WeatherUpdate{
		SeriesID:     seriesID,
		Labels:       map[string]string{"collector": "swcollect"},
		Observations: observations,
	})
	if err != nil {
		return err
	}
	return p.Send(seriesID, raw)
}

func newEvent(subject string, wu types.WeatherUpdate) ([]byte, error) {
	event := cloudevents.NewEvent()
	event.SetDataSchema("github.com/qvantel/solapse/api/types/")
	event.SetID(uuid.New().String())
	event.SetSource("swcollect")
	event.SetSubject(subject)
	event.SetType(series.WeatherUpdateType)

	err := event.SetData(cloudevents.ApplicationJSON, wu)
	if err != nil {
		return nil, err
	}
	return json.Marshal(event)
}
