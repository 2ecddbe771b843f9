package config

import (
	"os"
	"testing"
)

func TestGetenv(t *testing.T) {
	got := Getenv("VAR_THAT_DOES_NOT_EXIST", "default value")
	if got != "default value" {
		t.Errorf("Getenv(\"VAR_THAT_DOES_NOT_EXIST\", \"default value\") = %s; want default value", got)
	}
}

func TestNewDefaults(t *testing.T) {
	conf, err := New()
	if err != nil {
		t.Fatalf("Failed to build the default configuration (%s)", err.Error())
	}
	if conf.ML.Regime != HydrostaticRegime {
		t.Errorf("Expected the default regime to be %s, got %s", HydrostaticRegime, conf.ML.Regime)
	}
	if conf.ML.PhysicsWeight != 1500 {
		t.Errorf("Expected the default physics weight to be 1500, got %f", conf.ML.PhysicsWeight)
	}
	if conf.ML.Convention != "leo600-lnrho-v1" {
		t.Errorf("Expected the default convention to be leo600-lnrho-v1, got %s", conf.ML.Convention)
	}
	if len(conf.ML.Versions) != 1 || conf.ML.Versions[0] != "solapse-v1" {
		t.Errorf("Expected the default versions to be [solapse-v1], got %v", conf.ML.Versions)
	}
	if conf.Feed.DefaultFlux != 150 || conf.Feed.DefaultKp != 2 {
		t.Errorf("Expected feed defaults 150/2, got %f/%f", conf.Feed.DefaultFlux, conf.Feed.DefaultKp)
	}
}

func TestNewRejectsUnknownRegime(t *testing.T) {
	os.Setenv("ML_REGIME", "magnetohydrodynamic")
	defer os.Unsetenv("ML_REGIME")
	_, err := New()
	if err == nil {
		t.Error("An unknown regime should be rejected")
	}
}

func TestNewRejectsUnknownFeed(t *testing.T) {
	os.Setenv("FEED_TYPE", "carrier-pigeon")
	defer os.Unsetenv("FEED_TYPE")
	_, err := New()
	if err == nil {
		t.Error("An unknown feed type should be rejected")
	}
}
