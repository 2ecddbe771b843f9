package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/qvantel/solapse/internal/config"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)
	Init(config.Config{Logger: config.LoggerParams{Level: "WARN", ServiceName: "solapse"}})

	Info("should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("INFO events shouldn't be written when the level is WARN, got %s", buf.String())
	}

	Error("training failed", errors.New("boom"))
	var event EventLogData
	err := json.Unmarshal(buf.Bytes(), &event)
	if err != nil {
		t.Fatalf("Failed to parse log event (%s)", err.Error())
	}
	if event.LogLevel != "ERROR" || event.LevelValue != errorLevel {
		t.Errorf("Expected an ERROR event, got %s (%d)", event.LogLevel, event.LevelValue)
	}
	if event.Message != "training failed (boom)" {
		t.Errorf("Expected the error to be appended to the message, got %s", event.Message)
	}
	if event.ServiceName != "solapse" {
		t.Errorf("Expected service name solapse, got %s", event.ServiceName)
	}
}

func TestGinFormatter(t *testing.T) {
	Init(config.Config{Logger: config.LoggerParams{Level: "DEBUG", ServiceName: "solapse"}})
	defer Init(config.Config{})

	param := gin.LogFormatterParams{
		Request:    httptest.NewRequest(http.MethodPost, "/predict", nil),
		TimeStamp:  time.Date(2024, 5, 1, 17, 0, 0, 0, time.UTC),
		StatusCode: http.StatusOK,
		Method:     http.MethodPost,
		Path:       "/predict",
	}
	if line := GinFormatter(param); line != "" {
		t.Errorf("Successful requests should only be logged at TRACE, got %s", line)
	}

	param.StatusCode = http.StatusBadRequest
	var event EventLogData
	err := json.Unmarshal([]byte(GinFormatter(param)), &event)
	if err != nil {
		t.Fatalf("Failed to parse access log event (%s)", err.Error())
	}
	if event.LogLevel != "DEBUG" || event.TimeStamp != "2024-05-01T17:00:00.000+0000" {
		t.Errorf("Unexpected access log event %+v", event)
	}
}
