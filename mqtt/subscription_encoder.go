package mqtt

import "github.com/mqttwire/mqttwire/codec"

const (
	entryStepLenHigh = 1
	entryStepLenLow  = 2
	entryStepFilter  = 3
	entryStepOptions = 4
)

// subscriptionEncoder is a suspended encode of one subscription entry.
// index counts the topic filter bytes already written.
type subscriptionEncoder struct {
	sub   Subscription
	index int
	step  int
}

// encodeTo starts encoding the entry into out: 16-bit filter length, the
// filter bytes, then the options byte.
func (s Subscription) encodeTo(out codec.OutputBuffer, proto *Proto) codec.Encoder {
	return encodeSubscription(out, s, 0, entryStepLenHigh)
}

func (e *subscriptionEncoder) Pull(out codec.OutputBuffer) codec.Encoder {
	return encodeSubscription(out, e.sub, e.index, e.step)
}

func (e *subscriptionEncoder) IsDone() bool  { return false }
func (e *subscriptionEncoder) IsError() bool { return false }
func (e *subscriptionEncoder) Err() error    { return nil }

func encodeSubscription(out codec.OutputBuffer, sub Subscription, index, step int) codec.Encoder {
	n := len(sub.TopicFilter)

	if step == entryStepLenHigh {
		if n == 0 { // [MQTT-4.7.3-1]
			return codec.Error(invalidFilter("empty"))
		}
		if n > 0xFFFF {
			return codec.Error(invalidFilter("longer than 65535 bytes"))
		}
		if err := checkUTF8(sub.TopicFilter, false); err != nil { // [MQTT-3.8.3-1]
			return codec.Error(invalidFilter(err.Error()))
		}
		if out.IsCont() {
			out.Write(byte(n >> 8))
			step = entryStepLenLow
		}
	}
	if step == entryStepLenLow && out.IsCont() {
		out.Write(byte(n))
		step = entryStepFilter
	}
	if step == entryStepFilter {
		for index < n && out.IsCont() {
			out.Write(sub.TopicFilter[index])
			index++
		}
		if index == n {
			step = entryStepOptions
		}
	}
	if step == entryStepOptions && out.IsCont() {
		out.Write(sub.Options)
		return codec.Done()
	}
	if out.IsDone() {
		return codec.Error(codec.ErrTruncated)
	} else if out.IsError() {
		return codec.Error(out.Trap())
	}
	return &subscriptionEncoder{sub, index, step}
}
