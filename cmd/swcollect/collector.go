package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qvantel/solapse/api/types"
)

// FileCollector extracts space weather observations from the lines of a file. Each line holds a timestamp (unix
// seconds, RFC 3339 or a date), the F10.7 flux and the Kp index, a dash marks an index that wasn't measured
type FileCollector struct {
	err     error
	Headers bool
	Out     chan types.Observation
	Path    string
	Sep     string
}

// NewFileCollector creates a new file collector instance
func NewFileCollector(headers bool, out chan types.Observation, path, sep string) *FileCollector {
	return &FileCollector{
		Headers: headers,
		Out:     out,
		Path:    path,
		Sep:     sep,
	}
}

// Collect reads the file at the configured path and returns the observations through the collector's channel
func (fc *FileCollector) Collect() {
	defer close(fc.Out)
	file, err := os.Open(fc.Path)
	if err != nil {
		fc.err = err
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 0; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if (line == 0 && fc.Headers) || text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		o, err := parseLine(text, fc.Sep)
		if err != nil {
			fmt.Println("WARNING: Skipping line " + strconv.Itoa(line+1) + " (" + err.Error() + ")")
			continue
		}
		if !o.HasValues() {
			fmt.Println("WARNING: Skipping line " + strconv.Itoa(line+1) + " (no valid index)")
			continue
		}
		fc.Out <- o
	}
	if err := scanner.Err(); err != nil {
		fc.err = err
	}
}

// Err returns the last recorded error during collection or nil if none were encountered
func (fc *FileCollector) Err() error {
	return fc.err
}

func parseLine(text, sep string) (types.Observation, error) {
	fields := strings.Split(text, sep)
	if len(fields) != 3 {
		return types.Observation{}, fmt.Errorf("expected 3 fields, got %d", len(fields))
	}
	ts, err := parseTimeStamp(strings.TrimSpace(fields[0]))
	if err != nil {
		return types.Observation{}, err
	}
	o := types.Observation{TimeStamp: ts}
	o.F107, err = parseIndex(fields[1])
	if err != nil {
		return types.Observation{}, err
	}
	o.Kp, err = parseIndex(fields[2])
	if err != nil {
		return types.Observation{}, err
	}
	return o, nil
}

func parseTimeStamp(raw string) (int64, error) {
	if ts, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return ts, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("%s is not a valid timestamp", raw)
}

func parseIndex(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "-" || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid number", raw)
	}
	return &v, nil
}
