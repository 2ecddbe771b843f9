// Package config centralizes the parsing of application configuration
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported store, feed and training option values
const (
	FileParamStore           = "file"
	RedisParamStore          = "redis"
	FileSeriesStore          = "file"
	ElasticsearchSeriesStore = "elasticsearch"
	StaticFeed               = "static"
	StoreFeed                = "store"
	NOAAFeed                 = "noaa"
	HydrostaticRegime        = "hydrostatic"
	ExponentialRegime        = "exponential"
	MSELoss                  = "mse"
	HuberLoss                = "huber"
)

// Kafka holds the necessary configuration to set up the connection to a Kafka cluster
type Kafka struct {
	Brokers []string
	GroupID string
	Topic   string
}

// APIParams holds the configuration of the HTTP server
type APIParams struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// LoggerParams holds the necessary configuration to initialize the logger
type LoggerParams struct {
	ArtifactID  string
	Level       string
	ServiceName string
}

// MLParams holds the parameters that determine how the density model is trained, which snapshots are served and where
// they are stored
type MLParams struct {
	Alpha         float64 // Adam learning rate
	BatchSize     int
	Convention    string // Tag of the normalization convention used for training and serving
	Cutoff        float64
	DataLoss      string
	Epochs        int
	Generations   int // Hyper-parameter search generations, 0 disables the search
	LogEvery      int
	PhysicsWeight float64
	Regime        string
	Seed          int64
	Skip          bool
	StoreType     string
	StoreParams   map[string]interface{}
	Variations    int
	Versions      []string // Snapshots to load at start, the first one is the default
}

// SeriesParams holds the parameters that determine how space weather observations are ingested and stored
type SeriesParams struct {
	FailLimit   int
	Source      Kafka
	StoreType   string
	StoreParams map[string]interface{}
	StorePass   string
	StoreUser   string
}

// FeedParams holds the configuration of the space weather feed used to fill in missing request fields
type FeedParams struct {
	DefaultFlux float64
	DefaultKp   float64
	FluxURL     string
	KpURL       string
	Series      string
	Timeout     time.Duration
	TTL         time.Duration
	Type        string
}

// Config holds all the configuration for the app
type Config struct {
	AppVersion string
	API        APIParams
	Feed       FeedParams
	Logger     LoggerParams
	ML         MLParams
	Series     SeriesParams
}

// New generates a Config object populated with values from the environment
func New() (*Config, error) {
	conf := Config{}

	// Take care of logging params first in case the app has to report a config related error
	conf.AppVersion = Getenv("VERSION", "unknown")
	conf.Logger.Level = Getenv("LOG_LEVEL", "INFO")
	conf.Logger.ArtifactID = Getenv("ARTIFACT_ID", "qvantel/solapse:"+conf.AppVersion)
	conf.Logger.ServiceName = Getenv("SERVICE_NAME", "solapse")

	// API params
	conf.API.Addr = Getenv("API_ADDR", ":5400")
	var err error
	conf.API.ShutdownTimeout, err = time.ParseDuration(Getenv("API_SHUTDOWN_TIMEOUT", "5s"))
	if err != nil {
		return &conf, err
	}

	err = conf.ML.fromEnv()
	if err != nil {
		return &conf, err
	}
	err = conf.Series.fromEnv()
	if err != nil {
		return &conf, err
	}
	err = conf.Feed.fromEnv()
	if err != nil {
		return &conf, err
	}
	return &conf, nil
}

func (ml *MLParams) fromEnv() error {
	var err error
	ml.Alpha, err = strconv.ParseFloat(Getenv("ML_ALPHA", "0.001"), 64)
	if err != nil {
		return err
	}
	if ml.Alpha <= 0 {
		return errors.New("ML_ALPHA must be greater than 0")
	}
	ml.BatchSize, err = strconv.Atoi(Getenv("ML_BATCH_SIZE", "200"))
	if err != nil {
		return err
	}
	ml.Convention = Getenv("ML_CONVENTION", "leo600-lnrho-v1")
	ml.Cutoff, err = strconv.ParseFloat(Getenv("ML_CUTOFF", "2500"), 64)
	if err != nil {
		return err
	}
	ml.DataLoss = Getenv("ML_DATA_LOSS", MSELoss)
	if ml.DataLoss != MSELoss && ml.DataLoss != HuberLoss {
		return errors.New(ml.DataLoss + " is not a valid data loss")
	}
	ml.Epochs, err = strconv.Atoi(Getenv("ML_EPOCHS", "5000"))
	if err != nil {
		return err
	}
	ml.Generations, err = strconv.Atoi(Getenv("ML_GENERATIONS", "0"))
	if err != nil {
		return err
	}
	ml.LogEvery, err = strconv.Atoi(Getenv("ML_LOG_EVERY", "500"))
	if err != nil {
		return err
	}
	ml.PhysicsWeight, err = strconv.ParseFloat(Getenv("ML_PHYSICS_WEIGHT", "1500"), 64)
	if err != nil {
		return err
	}
	ml.Regime = Getenv("ML_REGIME", HydrostaticRegime)
	if ml.Regime != HydrostaticRegime && ml.Regime != ExponentialRegime {
		return errors.New(ml.Regime + " is not a valid training regime")
	}
	ml.Seed, err = strconv.ParseInt(Getenv("ML_SEED", "0"), 10, 64)
	if err != nil {
		return err
	}
	ml.Skip, err = strconv.ParseBool(Getenv("ML_SKIP", "true"))
	if err != nil {
		return err
	}
	ml.StoreType = Getenv("ML_STORE_TYPE", FileParamStore)
	defStoreParams := `{"Path": "./weights"}`
	redis := os.Getenv("SD_REDIS")
	if redis != "" {
		defStoreParams = `{"URL": "` + redis + `"}`
	}
	err = json.Unmarshal([]byte(Getenv("ML_STORE_PARAMS", defStoreParams)), &ml.StoreParams)
	if err != nil {
		return err
	}
	ml.Variations, err = strconv.Atoi(Getenv("ML_VARIATIONS", "4"))
	if err != nil {
		return err
	}
	ml.Versions = strings.Split(Getenv("ML_VERSIONS", "solapse-v1"), ",")
	return nil
}

func (sp *SeriesParams) fromEnv() error {
	var err error
	sp.FailLimit, err = strconv.Atoi(Getenv("SERIES_FAIL_LIMIT", "5"))
	if err != nil {
		return err
	}
	// Kafka is optional, observations can also be posted through the API
	brokers := os.Getenv("SD_KAFKA")
	if brokers != "" {
		sp.Source = Kafka{
			Brokers: strings.Split(brokers, ","),
			GroupID: Getenv("SERIES_KAFKA_GROUP", "solapse"),
			Topic:   Getenv("SERIES_KAFKA_TOPIC", "solapse-observations"),
		}
	}
	sp.StoreType = Getenv("SERIES_STORE_TYPE", FileSeriesStore)
	defStoreParams := `{"Path": "./series"}`
	esNodes := os.Getenv("SD_ELASTICSEARCH")
	if esNodes != "" {
		defStoreParams = `{"URLs": "` + esNodes + `"}`
	}
	err = json.Unmarshal([]byte(Getenv("SERIES_STORE_PARAMS", defStoreParams)), &sp.StoreParams)
	if err != nil {
		return err
	}
	sp.StorePass = os.Getenv("SERIES_STORE_PASS")
	sp.StoreUser = os.Getenv("SERIES_STORE_USER")
	return nil
}

func (fp *FeedParams) fromEnv() error {
	var err error
	fp.DefaultFlux, err = strconv.ParseFloat(Getenv("FEED_DEFAULT_F107", "150"), 64)
	if err != nil {
		return err
	}
	fp.DefaultKp, err = strconv.ParseFloat(Getenv("FEED_DEFAULT_KP", "2"), 64)
	if err != nil {
		return err
	}
	fp.FluxURL = Getenv("FEED_F107_URL", "https://services.swpc.noaa.gov/json/f107_cm_flux.json")
	fp.KpURL = Getenv("FEED_KP_URL", "https://services.swpc.noaa.gov/products/noaa-planetary-k-index.json")
	fp.Series = Getenv("FEED_SERIES", "space-weather")
	fp.Timeout, err = time.ParseDuration(Getenv("FEED_TIMEOUT", "10s"))
	if err != nil {
		return err
	}
	fp.TTL, err = time.ParseDuration(Getenv("FEED_TTL", "15m"))
	if err != nil {
		return err
	}
	fp.Type = Getenv("FEED_TYPE", StaticFeed)
	switch fp.Type {
	case StaticFeed, StoreFeed, NOAAFeed:
	default:
		return errors.New(fp.Type + " is not a valid feed type")
	}
	return nil
}

// Getenv is useful for retrieving the value of an env var with a default
func Getenv(env, fallback string) string {
	value := os.Getenv(env)
	if value == "" {
		return fallback
	}
	return value
}
