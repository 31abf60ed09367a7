package mqtt

// Append-style builders for the fixed-size control packets the agent writes
// in one piece. SUBSCRIBE goes through the resumable encoder instead.

// AppendConnect appends a CONNECT packet for a protocol level 4 session.
// password may be nil; a non-empty username enables the credential flags.
func AppendConnect(p []byte, clientID, username string, password []byte, keepAlive uint16, cleanSession bool) []byte {
	var flags byte
	if cleanSession {
		flags |= 0x02
	}
	if username != "" {
		flags |= 0x80
		if password != nil {
			flags |= 0x40
		}
	}

	rl := 10 + 2 + len(clientID)
	if username != "" {
		rl += 2 + len(username)
		if password != nil {
			rl += 2 + len(password)
		}
	}

	p = append(p, CONNECT<<4)
	p = VariableLengthEncode(p, rl)
	p = append(p, 0, 4, 'M', 'Q', 'T', 'T', 4, flags, byte(keepAlive>>8), byte(keepAlive))
	p = appendString(p, clientID)
	if username != "" {
		p = appendString(p, username)
		if password != nil {
			p = append(p, byte(len(password)>>8), byte(len(password)))
			p = append(p, password...)
		}
	}
	return p
}

// AppendUnsubscribe appends an UNSUBSCRIBE packet. [MQTT-3.10.1-1]
func AppendUnsubscribe(p []byte, pID uint16, topics []string) []byte {
	rl := 2
	for _, t := range topics {
		rl += 2 + len(t)
	}

	p = append(p, UNSUBSCRIBE<<4|0x02)
	p = VariableLengthEncode(p, rl)
	p = append(p, byte(pID>>8), byte(pID))
	for _, t := range topics {
		p = appendString(p, t)
	}
	return p
}

// AppendPuback appends a PUBACK for the given packet id.
func AppendPuback(p []byte, pID uint16) []byte {
	return append(p, PUBACK<<4, 2, byte(pID>>8), byte(pID))
}

// AppendPingreq appends a PINGREQ packet.
func AppendPingreq(p []byte) []byte {
	return append(p, PINGREQ<<4, 0)
}

// AppendDisconnect appends a DISCONNECT packet.
func AppendDisconnect(p []byte) []byte {
	return append(p, DISCONNECT<<4, 0)
}

func appendString(p []byte, s string) []byte {
	p = append(p, byte(len(s)>>8), byte(len(s)))
	return append(p, s...)
}
