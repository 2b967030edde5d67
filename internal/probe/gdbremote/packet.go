package gdbremote

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

const maxRetransmits = 3

// checksum is the modulo-256 sum of the packet payload.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// frame wraps a payload as $payload#cs.
func frame(payload string) []byte {
	return []byte(fmt.Sprintf("$%s#%02x", payload, checksum([]byte(payload))))
}

// writePacket sends a payload and waits for the stub's acknowledgement,
// retransmitting on '-'.
func writePacket(w io.Writer, r *bufio.Reader, payload string) error {
	pkt := frame(payload)
	for attempt := 0; attempt <= maxRetransmits; attempt++ {
		if _, err := w.Write(pkt); err != nil {
			return err
		}
		ack, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch ack {
		case '+':
			return nil
		case '-':
			continue
		default:
			return fmt.Errorf("unexpected byte %q while waiting for ack", ack)
		}
	}
	return fmt.Errorf("packet %q rejected %d times", payload, maxRetransmits+1)
}

// readPacket receives one packet, acknowledging it. Bytes before the
// leading '$' (stray acks, console noise) are skipped.
func readPacket(w io.Writer, r *bufio.Reader) (string, error) {
	for attempt := 0; attempt <= maxRetransmits; attempt++ {
		if _, err := r.ReadBytes('$'); err != nil {
			return "", err
		}
		body, err := r.ReadBytes('#')
		if err != nil {
			return "", err
		}
		body = body[:len(body)-1]

		var cs [2]byte
		if _, err := io.ReadFull(r, cs[:]); err != nil {
			return "", err
		}
		want, err := strconv.ParseUint(string(cs[:]), 16, 8)
		if err != nil || byte(want) != checksum(body) {
			if _, err := w.Write([]byte{'-'}); err != nil {
				return "", err
			}
			continue
		}
		if _, err := w.Write([]byte{'+'}); err != nil {
			return "", err
		}
		return string(decode(body)), nil
	}
	return "", fmt.Errorf("gave up after %d corrupted packets", maxRetransmits+1)
}

// decode undoes '}' escaping and '*' run-length encoding.
func decode(body []byte) []byte {
	var out bytes.Buffer
	for i := 0; i < len(body); i++ {
		switch c := body[i]; {
		case c == '}' && i+1 < len(body):
			i++
			out.WriteByte(body[i] ^ 0x20)
		case c == '*' && i+1 < len(body) && out.Len() > 0:
			i++
			prev := out.Bytes()[out.Len()-1]
			for n := int(body[i]) - 29; n > 0; n-- {
				out.WriteByte(prev)
			}
		default:
			out.WriteByte(c)
		}
	}
	return out.Bytes()
}
