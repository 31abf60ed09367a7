package mqttwire

import (
	log "github.com/sirupsen/logrus"

	"github.com/mqttwire/mqttwire/codec"
	"github.com/mqttwire/mqttwire/mqtt"
)

// Subscribe sends one SUBSCRIBE packet covering subs and records it as
// pending until the matching SUBACK arrives.
func (a *Agent) Subscribe(subs ...mqtt.Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	a.txLock.Lock()
	pkt := &mqtt.Subscribe{PacketID: a.nextPID(), Subscriptions: subs}

	a.pendLock.Lock()
	a.pendingSubs[pkt.PacketID] = pkt
	a.pendLock.Unlock()

	err := a.writeSubscribe(pkt)
	a.txLock.Unlock()

	if err != nil {
		a.pendLock.Lock()
		delete(a.pendingSubs, pkt.PacketID)
		a.pendLock.Unlock()
		return err
	}

	if log.IsLevelEnabled(log.DebugLevel) {
		filters := make([]string, len(subs))
		for i := range subs {
			filters[i] = subs[i].TopicFilter
		}
		log.WithFields(log.Fields{
			"pID":          pkt.PacketID,
			"topicFilters": filters,
		}).Debug("Sent SUBSCRIBE packet")
	}
	return nil
}

// Unsubscribe sends one UNSUBSCRIBE packet covering topics.
func (a *Agent) Unsubscribe(topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	a.txLock.Lock()
	pID := a.nextPID()

	a.pendLock.Lock()
	a.pendingUnsub[pID] = topics
	a.pendLock.Unlock()

	err := a.writePacket(mqtt.AppendUnsubscribe(a.txBuf[:0], pID, topics))
	a.txLock.Unlock()
	return err
}

// writeSubscribe drives the resumable encoder through txBuf sized output
// windows, flushing every filled window to the connection. Caller must hold
// txLock.
func (a *Agent) writeSubscribe(pkt *mqtt.Subscribe) error {
	buf := codec.NewBuffer(a.txBuf)
	buf.SetPart(true)

	enc := mqtt.SubscribeEncoder(a.proto, pkt)
	for {
		enc = enc.Pull(buf)
		if _, err := a.tx.Write(buf.Bytes()); err != nil {
			return err
		}
		if enc.IsDone() {
			return a.tx.Flush()
		}
		if enc.IsError() {
			return enc.Err()
		}
		buf.Reset()
	}
}

func (a *Agent) sendConnect() error {
	a.txLock.Lock()
	defer a.txLock.Unlock()

	var pass []byte
	if a.Password != "" {
		pass = []byte(a.Password)
	}
	p := mqtt.AppendConnect(a.txBuf[:0], a.ClientID, a.Username, pass,
		a.KeepAlive, !a.PersistentSession)
	return a.writePacket(p)
}

func (a *Agent) sendPuback(pID uint16) error {
	a.txLock.Lock()
	defer a.txLock.Unlock()
	return a.writePacket(mqtt.AppendPuback(a.txBuf[:0], pID))
}

func (a *Agent) sendPingreq() error {
	a.txLock.Lock()
	defer a.txLock.Unlock()

	log.Debug("Sending PINGREQ")
	return a.writePacket(mqtt.AppendPingreq(a.txBuf[:0]))
}

func (a *Agent) sendDisconnect() error {
	a.txLock.Lock()
	defer a.txLock.Unlock()
	return a.writePacket(mqtt.AppendDisconnect(a.txBuf[:0]))
}

// writePacket writes a fully built packet. Caller must hold txLock.
func (a *Agent) writePacket(p []byte) error {
	if _, err := a.tx.Write(p); err != nil {
		return err
	}
	return a.tx.Flush()
}

// nextPID allocates a non-zero packet id. Caller must hold txLock.
func (a *Agent) nextPID() uint16 {
	a.pIDCnt++
	if a.pIDCnt == 0 {
		a.pIDCnt++
	}
	return a.pIDCnt
}
