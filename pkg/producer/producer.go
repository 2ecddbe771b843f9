// Package producer exposes common logic that all Go collectors can use for sending space weather updates to solapse
package producer

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"time"
)

// Supported producer types
const (
	KafkaType = "kafka"
	RestType  = "rest"
)

// Producer is an abstraction over how a collector sends space weather updates to solapse. Events are keyed by the ID
// of the series they belong to
type Producer interface {
	Send(seriesID string, event []byte) error
	Close()
}

// Config holds the necessary configuration to set up a producer
type Config struct {
	Addresses []string      `json:"addresses"` // Kafka brokers or solapse instances
	Timeout   time.Duration `json:"timeout"`
	Topic     string        `json:"topic"` // Only used by the Kafka producer
	Type      string        `json:"type"`
}

// New returns a producer of the type selected in the configuration
func New(conf Config) (Producer, error) {
	switch conf.Type {
	case KafkaType:
		return NewKafkaProducer(conf)
	case RestType:
		return NewRestProducer(conf)
	default:
		return nil, errors.New(conf.Type + " is not a valid producer type")
	}
}

// reachable filters the given addresses down to the ones that accept TCP connections
func reachable(addrs []string, timeout time.Duration) []string {
	up := []string{}
	for _, addr := range addrs {
		hostPort, err := cleanHostPort(addr)
		if err != nil {
			continue
		}
		conn, err := net.DialTimeout("tcp", hostPort, timeout)
		if err != nil {
			continue
		}
		conn.Close()
		up = append(up, addr)
	}
	return up
}

// cleanHostPort turns an address with or without a scheme into host:port so that it can be dialed, http and https
// addresses without a port get the default one for their scheme
func cleanHostPort(addr string) (string, error) {
	if !strings.Contains(addr, "://") {
		_, _, err := net.SplitHostPort(addr)
		return addr, err
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.New(addr + " has no host")
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	case "http":
		return net.JoinHostPort(u.Hostname(), "80"), nil
	default:
		return "", errors.New(addr + " has no port")
	}
}
