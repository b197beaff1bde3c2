// Package wire implements the framed message codec peers use to talk to
// each other: a 4-byte big-endian length prefix, one byte naming the Code,
// then the JSON-encoded payload; the length counts the code byte and the
// payload. It is grounded on
// the same encode/decode-a-tagged-envelope shape used for HTTP node-to-node
// calls elsewhere in this repository, just carried over a plain
// net.Conn instead of HTTP so the sync manager can hold a long-lived
// streaming connection to a peer.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// Code identifies the kind of message carried in an envelope.
type Code uint8

// The set of message codes peers exchange.
const (
	Disconnect Code = iota + 1
	Status
	GetNodes
	Nodes
	NewTransactions
	NewBlock
	GetBlocks
	Blocks
	GetBlockHeaders
	BlockHeaders
)

// String returns the human-readable name of a code, for logging.
func (c Code) String() string {
	switch c {
	case Disconnect:
		return "DISCONNECT"
	case Status:
		return "STATUS"
	case GetNodes:
		return "GET_NODES"
	case Nodes:
		return "NODES"
	case NewTransactions:
		return "NEW_TRANSACTIONS"
	case NewBlock:
		return "NEW_BLOCK"
	case GetBlocks:
		return "GET_BLOCKS"
	case Blocks:
		return "BLOCKS"
	case GetBlockHeaders:
		return "GET_BLOCK_HEADERS"
	case BlockHeaders:
		return "BLOCK_HEADERS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// maxFrameSize guards against a malicious or buggy peer claiming an
// unbounded frame length and exhausting memory on decode.
const maxFrameSize = 16 * 1024 * 1024

// Envelope is the decoded form of one wire message.
type Envelope struct {
	Code    Code
	Payload []byte
}

// Encode writes value as the payload of a framed message tagged with code.
func Encode(w io.Writer, code Code, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	if len(payload) > maxFrameSize {
		return fmt.Errorf("payload of %d bytes exceeds max frame size", len(payload))
	}

	frame := make([]byte, 5+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(len(payload)+1))
	frame[4] = byte(code)
	copy(frame[5:], payload)

	_, err = w.Write(frame)
	return err
}

// Decode reads one framed message off r and returns its envelope. It
// blocks until a full frame has arrived or the read fails.
func Decode(r *bufio.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}

	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Envelope{}, fmt.Errorf("empty frame")
	}
	if n > maxFrameSize {
		return Envelope{}, fmt.Errorf("frame of %d bytes exceeds max frame size", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, err
	}

	return Envelope{Code: Code(body[0]), Payload: body[1:]}, nil
}

// DecodePayload unmarshals an envelope's payload into v.
func DecodePayload(env Envelope, v any) error {
	return json.Unmarshal(env.Payload, v)
}
