package mqtt

import "errors"

// Proto carries the protocol-level encoding rules shared by all packet
// encoders. It is threaded through size computations and encoder entry
// points so packet values stay plain data.
type Proto struct {
	// Version is the protocol level from CONNECT (4 for MQTT 3.1.1).
	Version uint8
}

// V311 encodes packets for protocol level 4 connections.
var V311 = &Proto{Version: 4}

var (
	// ErrLengthTooLong is reported when a packet body cannot be declared
	// in the 4 byte remaining length field.
	ErrLengthTooLong = errors.New("packet length too long")

	// ErrLengthTooShort is reported when a packet emitted more body bytes
	// than its precomputed body size declared. The precomputed size and
	// the bytes actually written disagree; the stream must be discarded.
	ErrLengthTooShort = errors.New("packet length too short")
)

func invalidFilter(msg string) error {
	return errors.New("invalid topic filter: " + msg)
}

// Subscription is a single topic filter entry in a SUBSCRIBE payload.
type Subscription struct {
	TopicFilter string
	Options     uint8 // bits 1-0 carry the requested QoS
}

// size is the encoded byte count of the entry: 2 length bytes, the filter,
// and the options byte.
func (s Subscription) size(proto *Proto) int {
	return 2 + len(s.TopicFilter) + 1
}

// Subscribe is an MQTT SUBSCRIBE control packet.
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func (p *Subscribe) packetType() byte  { return SUBSCRIBE }
func (p *Subscribe) packetFlags() byte { return 0x02 } // [MQTT-3.8.1-1]

// bodySize is the exact byte count of the variable header plus payload,
// known before any byte is written.
func (p *Subscribe) bodySize(proto *Proto) int {
	n := 2
	for _, s := range p.Subscriptions {
		n += s.size(proto)
	}
	return n
}
