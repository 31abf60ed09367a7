package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/google/uuid"
)

type Config struct {
	// TCP Address optionally specifies the broker address to connect to,
	// in the form "host:port". If empty, and no other transport is
	// configured, "localhost:1883" is used.
	TCP struct {
		Address string `json:"address"`
	} `json:"tcp"`

	// TLS Address optionally specifies a broker address for a TLS
	// connection, in the form "host:port". Cert/Key optionally configure
	// a client certificate.
	TLS struct {
		Address    string `json:"address"`
		ServerName string `json:"server_name"`
		keyPair
	} `json:"tls"`

	// WS URL optionally specifies a websocket broker endpoint,
	// e.g. "ws://broker:8080/mqtt".
	WS struct {
		URL string `json:"url"`
	} `json:"ws"`

	// ClientID identifies the session to the broker. Randomized if empty.
	ClientID string `json:"client_id"`

	Username string `json:"username"`
	Password string `json:"password"`

	// KeepAlive interval in seconds. Default 60.
	KeepAlive uint16 `json:"keep_alive"`

	// PersistentSession asks the broker to keep session state across
	// connections (Clean Session flag unset).
	PersistentSession bool `json:"persistent_session"`

	// Subscriptions to establish after connecting.
	Subscriptions []Subscription `json:"subscriptions"`

	// Store configures the directory of the local subscription store.
	// Defaults to ~/.mqttwire.
	Store struct {
		Dir string `json:"dir"`
	} `json:"store"`

	// Log configures optional log output file as well as the log level setting.
	Log struct {
		File  string `json:"file"`
		Level string `json:"level"`
	} `json:"log"`
}

type Subscription struct {
	Topic string `json:"topic"`
	QoS   uint8  `json:"qos"`
}

type keyPair struct {
	Cert string `json:"cert"`
	Key  string `json:"key"`
}

func (c *Config) LoadFromFile(fPath string) error {
	f, err := os.Open(fPath)
	if err != nil {
		return errors.New("error opening config file: " + err.Error())
	}

	defer f.Close()

	if err = json.NewDecoder(f).Decode(&c); err != nil {
		return errors.New("error reading config file: " + err.Error())
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	n := 0
	if c.TCP.Address != "" {
		if !strings.Contains(c.TCP.Address, ":") {
			c.TCP.Address += ":1883" // if just ip/host specified
		}
		n++
	}
	if c.TLS.Address != "" {
		if (c.TLS.Cert == "") != (c.TLS.Key == "") {
			return errors.New("invalid TLS client certificate and/or private key file path setup")
		}
		if !strings.Contains(c.TLS.Address, ":") {
			c.TLS.Address += ":8883"
		}
		n++
	}
	if c.WS.URL != "" {
		if !strings.HasPrefix(c.WS.URL, "ws://") && !strings.HasPrefix(c.WS.URL, "wss://") {
			return errors.New("websocket url must start with ws:// or wss://")
		}
		n++
	}

	switch n {
	case 0:
		c.TCP.Address = "localhost:1883"
	case 1:
	default:
		return errors.New("more than one transport configured")
	}

	if c.ClientID == "" {
		c.ClientID = "mqttwire-" + uuid.NewString()[:8]
	}
	if len(c.ClientID) > 23 {
		// 1-23 chars is the only length all brokers must accept.
		return errors.New("client_id longer than 23 characters")
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}

	for _, s := range c.Subscriptions {
		if s.Topic == "" {
			return errors.New("subscription with empty topic filter")
		}
		// The agent implements the receiver side of QoS 0 and 1 only.
		if s.QoS > 1 {
			return errors.New("subscription QoS must be 0 or 1: " + s.Topic)
		}
	}

	return nil
}
