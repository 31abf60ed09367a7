package mqttwire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	log "github.com/sirupsen/logrus"

	"github.com/mqttwire/mqttwire/mqtt"
)

// RX parser states
const (
	controlAndFlags = iota
	length
	body
)

type packet struct {
	body []byte

	remainingLength int
	lenMul          int

	rxState     uint8
	controlType uint8
	flags       uint8
}

func (a *Agent) readLoop() error {
	rx := make([]byte, 1024)
	for {
		n, err := a.conn.Read(rx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errors.New("broker closed the connection")
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return errors.New("broker keep alive timeout")
			}
			return err
		}
		if err = a.parseStream(rx[:n]); err != nil {
			return err
		}
	}
}

func (a *Agent) parseStream(rx []byte) error {
	p, l := &a.packet, len(rx)
	var i int

	for i < l {
		switch p.rxState {
		case controlAndFlags:
			p.controlType, p.flags = rx[i]>>4, rx[i]&0x0F

			switch p.controlType {
			case mqtt.PUBLISH:
				if p.flags&0x06 == 6 { // [MQTT-3.3.1-4]
					return protocolViolation("malformed PUBLISH - no QoS3")
				}
			case mqtt.SUBACK, mqtt.UNSUBACK, mqtt.PINGRESP, mqtt.PUBACK:
				if p.flags != 0 {
					return protocolViolation("malformed packet - reserved flags must be 0")
				}
			case mqtt.CONNACK:
				return protocolViolation("unexpected second CONNACK")
			default:
				return protocolViolation("unexpected packet type from broker")
			}

			p.lenMul, p.remainingLength = 1, 0
			p.rxState = length
			i++
		case length:
			p.remainingLength += int(rx[i]&127) * p.lenMul
			p.lenMul *= 128
			if p.lenMul > 128*128*128 {
				return protocolViolation("malformed remaining length")
			}

			if rx[i]&128 == 0 {
				p.body = p.body[:0]
				if p.remainingLength == 0 {
					if err := a.handlePacket(); err != nil {
						return err
					}
					p.rxState = controlAndFlags
				} else {
					p.rxState = body
				}
			}
			i++
		case body:
			avail := l - i
			toRead := p.remainingLength - len(p.body)
			if avail < toRead {
				toRead = avail
			}

			p.body = append(p.body, rx[i:i+toRead]...)

			if len(p.body) == p.remainingLength {
				if err := a.handlePacket(); err != nil {
					return err
				}
				p.rxState = controlAndFlags
			}
			i += toRead
		}
	}

	return nil
}

func (a *Agent) handlePacket() error {
	a.updateTimeout()

	switch a.packet.controlType {
	case mqtt.PUBLISH:
		return a.handlePublish()
	case mqtt.PUBACK:
		return nil
	case mqtt.SUBACK:
		return a.handleSuback()
	case mqtt.UNSUBACK:
		return a.handleUnsuback()
	case mqtt.PINGRESP:
		log.Debug("Got PINGRESP")
	}
	return nil
}

func (a *Agent) handlePublish() error {
	p := &a.packet
	if len(p.body) < 2 {
		return protocolViolation("malformed PUBLISH - missing topic")
	}

	topicLen := int(binary.BigEndian.Uint16(p.body))
	qos := (p.flags & 0x06) >> 1
	offs := 2 + topicLen
	if qos > 0 {
		offs += 2
	}
	if len(p.body) < offs {
		return protocolViolation("malformed PUBLISH - body too short")
	}

	topic := string(p.body[2 : 2+topicLen])
	payload := p.body[offs:]

	if log.IsLevelEnabled(log.DebugLevel) {
		log.WithFields(log.Fields{
			"topicName": topic,
			"QoS":       qos,
			"payload":   string(payload),
		}).Debug("Got PUBLISH packet")
	}

	if a.OnMessage != nil {
		a.OnMessage(topic, payload, qos)
	}

	switch qos {
	case 1:
		return a.sendPuback(binary.BigEndian.Uint16(p.body[2+topicLen:]))
	case 2:
		// Never requested; delivering above the granted QoS is a fault.
		return protocolViolation("QoS 2 PUBLISH for a QoS <= 1 subscription")
	}
	return nil
}

func (a *Agent) handleSuback() error {
	p := &a.packet
	if len(p.body) < 3 {
		return protocolViolation("malformed SUBACK")
	}

	pID := binary.BigEndian.Uint16(p.body)
	rcs := p.body[2:]

	a.pendLock.Lock()
	pkt, ok := a.pendingSubs[pID]
	delete(a.pendingSubs, pID)
	a.pendLock.Unlock()

	if !ok {
		return protocolViolation("SUBACK for unknown packet id")
	}
	if len(rcs) != len(pkt.Subscriptions) { // [MQTT-3.8.4-2]
		return protocolViolation("SUBACK return code count mismatch")
	}

	for i, rc := range rcs {
		sub := pkt.Subscriptions[i]
		if rc == mqtt.SubackFailure {
			log.WithFields(log.Fields{
				"topicFilter": sub.TopicFilter,
			}).Warn("Broker rejected subscription")
			continue
		}

		if err := a.diskStoreSub(sub.TopicFilter, sub.Options, rc); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"topicFilter": sub.TopicFilter,
			"grantedQoS":  rc,
		}).Info("Subscription granted")
	}
	return nil
}

func (a *Agent) handleUnsuback() error {
	p := &a.packet
	if len(p.body) != 2 {
		return protocolViolation("malformed UNSUBACK")
	}

	pID := binary.BigEndian.Uint16(p.body)

	a.pendLock.Lock()
	topics, ok := a.pendingUnsub[pID]
	delete(a.pendingUnsub, pID)
	a.pendLock.Unlock()

	if !ok {
		return protocolViolation("UNSUBACK for unknown packet id")
	}

	for _, t := range topics {
		if err := a.diskDeleteSub(t); err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"topicFilter": t,
		}).Info("Subscription removed")
	}
	return nil
}
