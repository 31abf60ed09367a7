package mqtt

import (
	"fmt"

	"github.com/mqttwire/mqttwire/codec"
)

// subscribeEncoder steps. Steps advance monotonically, never backward;
// subStepPayload+i is the step encoding subscription entry i.
const (
	subStepHeader  = 1
	subStepLen1    = 2
	subStepLen4    = 5
	subStepIDHigh  = 6
	subStepIDLow   = 7
	subStepPayload = 8
)

// subscribeEncoder is a suspended SUBSCRIBE encode. It captures exactly the
// state needed to resume: the remaining length value still being varint
// coded, the count of body bytes not yet written, the in-flight subscription
// encoder if one is mid-entry, and the step to re-enter at. It never holds
// buffer state across pulls.
type subscribeEncoder struct {
	proto     *Proto
	packet    *Subscribe
	part      codec.Encoder
	length    int
	remaining int
	step      int
}

// SubscribeEncoder returns a cold encoder that emits packet when pulled.
func SubscribeEncoder(proto *Proto, packet *Subscribe) codec.Encoder {
	return &subscribeEncoder{proto: proto, packet: packet, step: subStepHeader}
}

// EncodeSubscribe writes packet to out, returning a suspended encoder if
// out runs out of room before the packet is complete.
func (p *Proto) EncodeSubscribe(out codec.OutputBuffer, packet *Subscribe) codec.Encoder {
	return encodeSubscribe(out, p, packet, nil, 0, 0, subStepHeader)
}

func (e *subscribeEncoder) Pull(out codec.OutputBuffer) codec.Encoder {
	return encodeSubscribe(out, e.proto, e.packet, e.part, e.length, e.remaining, e.step)
}

func (e *subscribeEncoder) IsDone() bool  { return false }
func (e *subscribeEncoder) IsError() bool { return false }
func (e *subscribeEncoder) Err() error    { return nil }

func encodeSubscribe(out codec.OutputBuffer, proto *Proto, packet *Subscribe,
	part codec.Encoder, length, remaining, step int) codec.Encoder {

	if step == subStepHeader && out.IsCont() {
		length = packet.bodySize(proto)
		remaining = length
		out.Write(packet.packetType()<<4 | packet.packetFlags()&0x0f)
		step = subStepLen1
	}
	for step >= subStepLen1 && step <= subStepLen4 && out.IsCont() {
		b := byte(length & 0x7f)
		length >>= 7
		if length > 0 {
			b |= 0x80
		}
		out.Write(b)
		if length == 0 {
			step = subStepIDHigh
			break
		}
		if step == subStepLen4 {
			return codec.Error(fmt.Errorf("%w: %d", ErrLengthTooLong, remaining))
		}
		step++
	}
	// remaining > 0 guards generalize to packet kinds without an id.
	if step == subStepIDHigh && remaining > 0 && out.IsCont() {
		out.Write(byte(packet.PacketID >> 8))
		remaining--
		step = subStepIDLow
	}
	if step == subStepIDLow && remaining > 0 && out.IsCont() {
		out.Write(byte(packet.PacketID))
		remaining--
		step = subStepPayload
	}
	for step >= subStepPayload && step < subStepPayload+len(packet.Subscriptions) && out.IsCont() {
		start := out.Index()
		limit := out.Limit()
		window := limit - start

		// Cap the window at the bytes still owed to the payload so the
		// entry encoder cannot overrun into a following packet, and tell
		// it whether more room exists beyond what it currently sees.
		if remaining < window {
			out.SetLimit(start + remaining)
		}
		wasPart := out.IsPart()
		out.SetPart(remaining > window)

		if part == nil {
			part = packet.Subscriptions[step-subStepPayload].encodeTo(out, proto)
		} else {
			part = part.Pull(out)
		}

		out.SetLimit(limit)
		out.SetPart(wasPart)
		remaining -= out.Index() - start

		if part.IsDone() {
			part = nil
			step++
		} else if part.IsError() {
			return part
		}
	}
	if step == subStepPayload+len(packet.Subscriptions) && remaining == 0 {
		return codec.Done()
	}
	if remaining < 0 {
		return codec.Error(ErrLengthTooShort)
	} else if out.IsDone() {
		return codec.Error(codec.ErrTruncated)
	} else if out.IsError() {
		return codec.Error(out.Trap())
	}
	return &subscribeEncoder{proto, packet, part, length, remaining, step}
}
