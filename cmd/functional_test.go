// +build functional

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/qvantel/solapse/api/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	solapse    testcontainers.Container
	solapseURL string
)

func post(path string, body interface{}, status int) ([]byte, error) {
	raw, _ := json.Marshal(body)
	resp, err := http.Post(solapseURL+path, "application/json", bytes.NewBuffer(raw))
	if err != nil {
		return nil, err
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode != status {
		return nil, errors.New(resp.Status)
	}
	return ioutil.ReadAll(resp.Body)
}

func predict(altitude float64) (float64, error) {
	f107, kp := 150.0, 2.0
	body, err := post("/predict", types.PredictRequest{Altitude: &altitude, F107: &f107, Kp: &kp}, http.StatusOK)
	if err != nil {
		return 0, err
	}
	var res types.PredictResponse
	err = json.Unmarshal(body, &res)
	if err != nil {
		return 0, err
	}
	return res.Density, nil
}

func ready() bool {
	resp, err := http.Get(solapseURL + "/api/v1/health/ready")
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func startSolapse(ctx context.Context) (err error) {
	req := testcontainers.ContainerRequest{
		Env: map[string]string{
			"ML_EPOCHS":     "300",
			"ML_BATCH_SIZE": "64",
			"ML_SEED":       "7",
		},
		FromDockerfile: testcontainers.FromDockerfile{Context: "../"},
		ExposedPorts:   []string{"5400/tcp"},
		WaitingFor:     wait.ForHTTP("/api/v1/health/startup").WithPort("5400/tcp"),
	}
	solapse, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return err
	}
	solapseURL, err = solapse.Endpoint(ctx, "")
	if err != nil {
		return err
	}
	solapseURL = "http://" + solapseURL
	return nil
}

func TestQuickStart(t *testing.T) {
	ctx := context.Background()

	// Nothing is served before training
	if ready() {
		t.Fatal("Service shouldn't be ready before a snapshot is trained")
	}
	_, err := post("/predict", map[string]float64{"altitude": 400}, http.StatusServiceUnavailable)
	if err != nil {
		t.Fatalf("Expected predictions to be refused before training (%s)", err.Error())
	}

	// Ingest a few observations with the collector
	err = solapse.CopyFileToContainer(ctx, "swcollect/testdata/observations.txt", "/observations.txt", 0777)
	if err != nil {
		t.Fatalf("Failed to copy observations into the container (%s)", err.Error())
	}
	exitCode, err := solapse.Exec(ctx, []string{
		"/opt/docker/swcollect",
		"-batch", "2",
		"-headers",
		"-targets", "http://localhost:5400",
		"/observations.txt",
	})
	if err != nil {
		t.Fatalf("Failed to run swcollect (%s)", err.Error())
	}
	if exitCode != 0 {
		t.Fatalf("swcollect returned an error exit code (%d)", exitCode)
	}

	// Trigger training and wait for the snapshot to be served
	_, err = post("/api/v1/nets", types.TrainRequest{Version: "solapse-v1", Topology: []int{3, 16, 16, 1}}, http.StatusAccepted)
	if err != nil {
		t.Fatalf("Failed to request training (%s)", err.Error())
	}
	deadline := time.Now().Add(2 * time.Minute)
	for !ready() {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the trained snapshot to be served")
		}
		time.Sleep(time.Second)
	}

	// Predict
	surface, err := predict(0)
	if err != nil {
		t.Fatalf("Failed to predict the density at the surface (%s)", err.Error())
	}
	if surface != 0 {
		t.Errorf("Expected a density of 0 at the surface, got %g", surface)
	}
	low, err := predict(200)
	if err != nil {
		t.Fatalf("Failed to predict the density at 200km (%s)", err.Error())
	}
	if !(low > 0) {
		t.Errorf("Expected a positive density at 200km, got %g", low)
	}
}

func TestMain(m *testing.M) {
	// Setup
	ctx := context.Background()
	err := startSolapse(ctx)
	if err != nil {
		fmt.Printf("Error starting test solapse container (%s)", err.Error())
		os.Exit(1)
	}
	// Run
	code := m.Run()
	// Teardown
	if err == nil {
		solapse.Terminate(ctx)
	}
	os.Exit(code)
}
