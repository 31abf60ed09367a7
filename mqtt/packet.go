// Package mqtt implements the MQTT 3.1.1 wire format for the packets the
// agent speaks, including a resumable SUBSCRIBE encoder that can suspend at
// any byte boundary and resume on a later output window.
package mqtt

import (
	"errors"
	"unicode/utf8"
)

// Control packet types.
const (
	CONNECT     = 1
	CONNACK     = 2
	PUBLISH     = 3
	PUBACK      = 4
	PUBREC      = 5
	PUBREL      = 6
	PUBCOMP     = 7
	SUBSCRIBE   = 8
	SUBACK      = 9
	UNSUBSCRIBE = 10
	UNSUBACK    = 11
	PINGREQ     = 12
	PINGRESP    = 13
	DISCONNECT  = 14
)

// CONNACK return codes.
const (
	ConnAccepted = iota
	ConnRefusedVersion
	ConnRefusedID
	ConnRefusedUnavailable
	ConnRefusedBadCredentials
	ConnRefusedNotAuthorized
)

// SUBACK failure return code. [MQTT-3.9.3-2]
const SubackFailure = 0x80

// Largest value a 4 byte remaining length field can carry (256 MB).
const maxRemainingLength = 268435455

// VariableLengthEncode appends the base-128 continuation coding of l.
func VariableLengthEncode(packet []byte, l int) []byte {
	for {
		eb := l % 128
		l /= 128
		if l > 0 {
			eb |= 128
		}
		packet = append(packet, byte(eb))
		if l <= 0 {
			break
		}
	}
	return packet
}

// LengthToNumberOfVariableLengthBytes returns the encoded size of l.
func LengthToNumberOfVariableLengthBytes(l int) int {
	switch {
	case l < 128:
		return 1
	case l < 16384:
		return 2
	case l < 2097152:
		return 3
	default:
		return 4
	}
}

var errInvalidUTF = errors.New("invalid UTF8")
var errContainsWildCards = errors.New("contains wildcard characters")

// [MQTT-1.5.3-1] [MQTT-1.5.3-3]
func checkUTF8(str string, checkWildCards bool) error {
	for i := 0; i < len(str); {
		if str[i] == 0 { // [MQTT-1.5.3-2]
			return errInvalidUTF
		}

		if checkWildCards && (str[i] == '+' || str[i] == '#') {
			return errContainsWildCards
		} else if str[i]&0x80 == 0 {
			i++
		} else {
			r, size := utf8.DecodeRuneInString(str[i:])
			if r == utf8.RuneError {
				if size != 1 {
					return nil
				} else {
					return errInvalidUTF
				}
			}
			i += size
		}
	}
	return nil
}
