// Package mqttwire is a client agent that maintains a configured set of MQTT
// subscriptions against a broker over TCP, TLS or websocket. SUBSCRIBE
// packets are produced by the resumable encoder in the mqtt subpackage,
// driven through fixed-size output windows so a packet of any size can be
// written through a small transmit buffer.
package mqttwire

import (
	"bufio"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"

	"github.com/mqttwire/mqttwire/internal/config"
	"github.com/mqttwire/mqttwire/internal/websocket"
	"github.com/mqttwire/mqttwire/mqtt"
)

// Output window size the resumable encoder is driven through.
const txChunkSize = 256

type Agent struct {
	config.Config

	// OnMessage is invoked for every PUBLISH delivered on a subscribed
	// topic. It runs on the read loop; long work must be handed off.
	OnMessage func(topic string, payload []byte, qos uint8)

	conn  net.Conn
	proto *mqtt.Proto
	db    *pebble.DB

	txLock sync.Mutex
	tx     *bufio.Writer
	txBuf  []byte
	pIDCnt uint16

	pendLock     sync.Mutex
	pendingSubs  map[uint16]*mqtt.Subscribe
	pendingUnsub map[uint16][]string

	packet packet

	onlyOnce sync.Once
	done     chan struct{}
}

// Run connects to the broker, performs the CONNECT handshake, issues the
// configured and persisted subscriptions, and then serves the connection
// until it fails or Shutdown is called.
func (a *Agent) Run() error {
	if err := a.setupLogging(); err != nil {
		return err
	}

	a.proto = mqtt.V311
	a.txBuf = make([]byte, txChunkSize)
	a.pendingSubs = make(map[uint16]*mqtt.Subscribe, 2)
	a.pendingUnsub = make(map[uint16][]string, 2)
	a.done = make(chan struct{})

	if err := a.diskInit(); err != nil {
		return err
	}
	defer a.db.Close()

	conn, err := a.dial()
	if err != nil {
		return err
	}
	a.conn = conn
	a.tx = bufio.NewWriter(conn)
	defer conn.Close()

	log.WithFields(log.Fields{
		"address":  conn.RemoteAddr(),
		"clientId": a.ClientID,
	}).Info("Connecting to MQTT broker")

	if err = a.connect(); err != nil {
		return err
	}
	if err = a.resubscribeAll(); err != nil {
		return err
	}

	go a.keepAliver()

	err = a.readLoop()
	select {
	case <-a.done:
		return nil // Shutdown closed the conn underneath the reader
	default:
		return err
	}
}

// Shutdown sends DISCONNECT and tears down the connection, unblocking Run.
func (a *Agent) Shutdown() {
	a.onlyOnce.Do(func() {
		close(a.done)
		if a.conn != nil {
			a.sendDisconnect()
			a.conn.Close()
		}
	})
}

func (a *Agent) setupLogging() error {
	if a.Log.File != "" {
		f, err := os.OpenFile(a.Log.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		log.SetOutput(f)
	}
	if a.Log.Level != "" {
		switch strings.ToLower(a.Log.Level) {
		case "error":
			log.SetLevel(log.ErrorLevel)
		case "warn":
			log.SetLevel(log.WarnLevel)
		case "info":
			log.SetLevel(log.InfoLevel)
		case "debug":
			log.SetLevel(log.DebugLevel)
		default:
			return errors.New("unknown log level: " + a.Log.Level)
		}
	}

	return nil
}

func (a *Agent) dial() (net.Conn, error) {
	switch {
	case a.TLS.Address != "":
		cfg := &tls.Config{ServerName: a.TLS.ServerName}
		if a.TLS.Cert != "" {
			cert, err := tls.LoadX509KeyPair(a.TLS.Cert, a.TLS.Key)
			if err != nil {
				return nil, err
			}
			cfg.Certificates = []tls.Certificate{cert}
		}
		return tls.Dial("tcp", a.TLS.Address, cfg)
	case a.WS.URL != "":
		return websocket.Dial(a.WS.URL, nil)
	default:
		return net.Dial("tcp", a.TCP.Address)
	}
}

// connect sends CONNECT and waits for the 4 byte CONNACK.
func (a *Agent) connect() error {
	if err := a.sendConnect(); err != nil {
		return err
	}

	if err := a.conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}

	var connack [4]byte
	if _, err := io.ReadFull(a.conn, connack[:]); err != nil {
		return err
	}
	if connack[0] != mqtt.CONNACK<<4 || connack[1] != 2 {
		return protocolViolation("expected CONNACK")
	}
	if rc := connack[3]; rc != mqtt.ConnAccepted {
		return errors.New("connection refused by broker: " + connackRefusedReason(rc))
	}

	a.updateTimeout()
	log.WithFields(log.Fields{
		"clientId":       a.ClientID,
		"sessionPresent": connack[2]&0x01 > 0,
	}).Info("Connected")
	return nil
}

func connackRefusedReason(rc uint8) string {
	switch rc {
	case mqtt.ConnRefusedVersion:
		return "unacceptable protocol version"
	case mqtt.ConnRefusedID:
		return "identifier rejected"
	case mqtt.ConnRefusedUnavailable:
		return "server unavailable"
	case mqtt.ConnRefusedBadCredentials:
		return "bad user name or password"
	case mqtt.ConnRefusedNotAuthorized:
		return "not authorized"
	}
	return "unknown reason"
}

// resubscribeAll issues one SUBSCRIBE covering the configured topics plus
// any persisted grants not in the config anymore.
func (a *Agent) resubscribeAll() error {
	subs := make([]mqtt.Subscription, 0, len(a.Subscriptions))
	seen := make(map[string]struct{}, len(a.Subscriptions))

	for _, s := range a.Subscriptions {
		subs = append(subs, mqtt.Subscription{TopicFilter: s.Topic, Options: s.QoS})
		seen[s.Topic] = struct{}{}
	}

	err := a.diskLoadSubs(func(topic string, options, granted uint8) {
		if _, ok := seen[topic]; ok {
			return
		}
		subs = append(subs, mqtt.Subscription{TopicFilter: topic, Options: options})
		log.WithFields(log.Fields{
			"topicFilter": topic,
			"grantedQoS":  granted,
		}).Debug("Restoring persisted subscription")
	})
	if err != nil {
		return err
	}

	if len(subs) == 0 {
		return nil
	}
	return a.Subscribe(subs...)
}

// updateTimeout pushes the read deadline out by 1.5x the keep alive.
func (a *Agent) updateTimeout() {
	if a.KeepAlive > 0 {
		d := time.Duration(a.KeepAlive) * time.Second * 3 / 2
		a.conn.SetReadDeadline(time.Now().Add(d))
	}
}

func (a *Agent) keepAliver() {
	if a.KeepAlive == 0 {
		return
	}

	t := time.NewTicker(time.Duration(a.KeepAlive) * time.Second)
	defer t.Stop()

	for {
		select {
		case <-a.done:
			return
		case <-t.C:
			if err := a.sendPingreq(); err != nil {
				log.WithFields(log.Fields{"err": err}).Error("Unable to send PINGREQ")
				return
			}
		}
	}
}

func protocolViolation(msg string) error {
	return errors.New("broker protocol violation: " + msg)
}
