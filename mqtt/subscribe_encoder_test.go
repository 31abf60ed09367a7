package mqtt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/mqttwire/mqttwire/codec"
)

// encodeFull encodes pkt into a single buffer large enough for the whole
// packet and fails the test if it does not complete in one pull.
func encodeFull(t *testing.T, pkt *Subscribe) []byte {
	t.Helper()

	buf := codec.NewBuffer(make([]byte, pkt.bodySize(V311)+5))
	enc := V311.EncodeSubscribe(buf, pkt)
	if enc.IsError() {
		t.Fatal(enc.Err())
	}
	if !enc.IsDone() {
		t.Fatal("did not complete in one pull")
	}
	return buf.Bytes()
}

// encodeChunked drives the encoder through windows of chunk bytes each,
// concatenating the flushed chunks.
func encodeChunked(t *testing.T, pkt *Subscribe, chunk int) []byte {
	t.Helper()

	var out []byte
	buf := codec.NewBuffer(make([]byte, chunk))
	buf.SetPart(true)

	enc := SubscribeEncoder(V311, pkt)
	for {
		enc = enc.Pull(buf)
		out = append(out, buf.Bytes()...)
		if enc.IsDone() {
			return out
		}
		if enc.IsError() {
			t.Fatal(enc.Err())
		}
		buf.Reset()
	}
}

var longFilter = strings.Repeat("t", 0xFFFF)

// packetOfBodySize builds a packet whose bodySize is exactly size, reusing
// one max-length filter string so huge bodies stay cheap to declare.
func packetOfBodySize(size int) *Subscribe {
	subs := make([]Subscription, 0, size/0x10002+1)
	rem := size - 2
	for rem > 0 {
		n := rem
		if n > 0x10002 {
			n = 0x10002
		}
		if rem-n > 0 && rem-n < 4 {
			n = rem - 4
		}
		subs = append(subs, Subscription{TopicFilter: longFilter[:n-3], Options: 1})
		rem -= n
	}
	return &Subscribe{PacketID: 0x0A0B, Subscriptions: subs}
}

func TestSubscribeWireFormat(t *testing.T) {
	pkt := &Subscribe{
		PacketID:      1,
		Subscriptions: []Subscription{{TopicFilter: "a", Options: 0}},
	}

	want := []byte{0x82, 0x06, 0x00, 0x01, 0x00, 0x01, 'a', 0x00}
	if got := encodeFull(t, pkt); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestSubscribeEmptyPayload(t *testing.T) {
	pkt := &Subscribe{PacketID: 0x1234}

	want := []byte{0x82, 0x02, 0x12, 0x34}
	if got := encodeFull(t, pkt); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}

	// An exactly-sized window must still complete, not report truncation.
	buf := codec.NewBuffer(make([]byte, 4))
	if enc := V311.EncodeSubscribe(buf, pkt); !enc.IsDone() {
		t.Fatal("not done on exact-size window:", enc.Err())
	}
}

func TestSubscribeChunkedIdentical(t *testing.T) {
	pkt := &Subscribe{
		PacketID: 0xBEEF,
		Subscriptions: []Subscription{
			{TopicFilter: "sensors/+/temperature", Options: 1},
			{TopicFilter: "a/b", Options: 2},
			{TopicFilter: "metrics/Ω/load", Options: 0},
		},
	}

	want := encodeFull(t, pkt)
	if len(want) != 1+1+pkt.bodySize(V311) {
		t.Fatal("wire length does not match declared body size")
	}

	for chunk := 1; chunk <= 7; chunk++ {
		if got := encodeChunked(t, pkt, chunk); !bytes.Equal(got, want) {
			t.Fatalf("chunk %d: got % x, want % x", chunk, got, want)
		}
	}
}

func TestRemainingLengthBoundaries(t *testing.T) {
	for _, tc := range []struct {
		bodySize int
		varint   []byte
	}{
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16383, []byte{0xff, 0x7f}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xff, 0xff, 0x7f}},
		{2097152, []byte{0x80, 0x80, 0x80, 0x01}},
		{268435455, []byte{0xff, 0xff, 0xff, 0x7f}},
	} {
		pkt := packetOfBodySize(tc.bodySize)
		if got := pkt.bodySize(V311); got != tc.bodySize {
			t.Fatal("bad test packet body size:", got, tc.bodySize)
		}

		// Only the header and length field are of interest; the
		// suspended encoder is simply abandoned.
		buf := codec.NewBuffer(make([]byte, 8))
		buf.SetPart(true)
		if enc := V311.EncodeSubscribe(buf, pkt); enc.IsError() {
			t.Fatal(enc.Err())
		}

		b := buf.Bytes()
		if b[0] != 0x82 {
			t.Fatalf("bodySize %d: first byte %#x", tc.bodySize, b[0])
		}
		if !bytes.Equal(b[1:1+len(tc.varint)], tc.varint) {
			t.Fatalf("bodySize %d: length field % x, want % x",
				tc.bodySize, b[1:1+len(tc.varint)], tc.varint)
		}
	}
}

func TestRemainingLengthOverflow(t *testing.T) {
	pkt := packetOfBodySize(maxRemainingLength + 1)

	buf := codec.NewBuffer(make([]byte, 16))
	buf.SetPart(true)
	enc := V311.EncodeSubscribe(buf, pkt)
	if !enc.IsError() {
		t.Fatal("oversized packet did not fail")
	}
	if !errors.Is(enc.Err(), ErrLengthTooLong) {
		t.Fatal(enc.Err())
	}
}

func TestSubscribeTruncated(t *testing.T) {
	pkt := &Subscribe{
		PacketID:      7,
		Subscriptions: []Subscription{{TopicFilter: "a/b", Options: 1}},
	}

	// Window ends for good mid-packet (not marked part).
	for _, size := range []int{1, 3, 6} {
		buf := codec.NewBuffer(make([]byte, size))
		enc := V311.EncodeSubscribe(buf, pkt)
		if !enc.IsError() || !errors.Is(enc.Err(), codec.ErrTruncated) {
			t.Fatalf("window %d: got %v, want truncated", size, enc.Err())
		}
	}

	// A part window of the same size suspends instead.
	buf := codec.NewBuffer(make([]byte, 6))
	buf.SetPart(true)
	enc := V311.EncodeSubscribe(buf, pkt)
	if enc.IsDone() || enc.IsError() {
		t.Fatal("part window must suspend")
	}

	// Resuming on a terminated window then fails.
	end := codec.NewBuffer(make([]byte, 0))
	if enc = enc.Pull(end); !errors.Is(enc.Err(), codec.ErrTruncated) {
		t.Fatal(enc.Err())
	}
}

func TestSubscribeTrappedFault(t *testing.T) {
	cause := errors.New("connection reset by peer")

	buf := codec.NewBuffer(make([]byte, 16))
	buf.Fault(cause)

	enc := V311.EncodeSubscribe(buf, &Subscribe{PacketID: 1})
	if !enc.IsError() || enc.Err() != cause {
		t.Fatal("trapped cause not propagated verbatim:", enc.Err())
	}
}

func TestSubscribeInvalidFilter(t *testing.T) {
	for _, f := range []string{"", "a\x00b", longFilter + "t"} {
		buf := codec.NewBuffer(make([]byte, 32))
		pkt := &Subscribe{
			PacketID:      1,
			Subscriptions: []Subscription{{TopicFilter: f, Options: 0}},
		}
		enc := V311.EncodeSubscribe(buf, pkt)
		if !enc.IsError() {
			t.Fatalf("filter %q accepted", f)
		}
		if !strings.Contains(enc.Err().Error(), "invalid topic filter") {
			t.Fatal(enc.Err())
		}
	}
}

// skewedBuffer reports one extra index advance per write once armed,
// simulating a buffer implementation whose byte accounting disagrees with
// the declared body size.
type skewedBuffer struct {
	*codec.Buffer
	armed bool
	skew  int
}

func (b *skewedBuffer) Write(c byte) {
	b.Buffer.Write(c)
	if b.armed {
		b.skew++
	}
}

func (b *skewedBuffer) Index() int { return b.Buffer.Index() + b.skew }

func TestSubscribeLengthAccountingMismatch(t *testing.T) {
	pkt := &Subscribe{
		PacketID:      2,
		Subscriptions: []Subscription{{TopicFilter: "ab", Options: 0}},
	}

	buf := &skewedBuffer{Buffer: codec.NewBuffer(make([]byte, 32)), armed: true}
	enc := V311.EncodeSubscribe(buf, pkt)
	if !enc.IsError() {
		t.Fatal("accounting mismatch not detected")
	}
	if !errors.Is(enc.Err(), ErrLengthTooShort) {
		t.Fatal(enc.Err())
	}
}

func TestSubscribeDoneIsStable(t *testing.T) {
	pkt := &Subscribe{PacketID: 9, Subscriptions: []Subscription{{TopicFilter: "x", Options: 0}}}

	buf := codec.NewBuffer(make([]byte, 16))
	enc := V311.EncodeSubscribe(buf, pkt)
	if !enc.IsDone() {
		t.Fatal(enc.Err())
	}
	if enc = enc.Pull(buf); !enc.IsDone() {
		t.Fatal("done encoder regressed")
	}
	if buf.Index() != 8 {
		t.Fatal("done encoder wrote more bytes")
	}
}
