package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire magic and version for the peer protocol (spec.md §6).
var magic = [4]byte{0x49, 0x46, 0x53, 0x48} // "IFSH"

const wireVersion = 1

const maxFrameLength = 16 << 20 // 16MiB guards against a bad length field wedging a reader

// MessageType identifies the body encoding carried by a frame.
type MessageType uint8

const (
	MsgHeartbeat MessageType = iota + 1
	MsgHeartbeatAck
	MsgMembershipDelta
	MsgLoadSample
	MsgTokenDelta
	MsgElectionRequest
	MsgElectionAck
	MsgCoordinator
	MsgForward
	MsgForwardReply
	MsgCancel
	MsgAnnounce
)

func (m MessageType) String() string {
	switch m {
	case MsgHeartbeat:
		return "heartbeat"
	case MsgHeartbeatAck:
		return "heartbeat_ack"
	case MsgMembershipDelta:
		return "membership_delta"
	case MsgLoadSample:
		return "load_sample"
	case MsgTokenDelta:
		return "token_delta"
	case MsgElectionRequest:
		return "election_request"
	case MsgElectionAck:
		return "election_ack"
	case MsgCoordinator:
		return "coordinator"
	case MsgForward:
		return "forward"
	case MsgForwardReply:
		return "forward_reply"
	case MsgCancel:
		return "cancel"
	case MsgAnnounce:
		return "announce"
	default:
		return "unknown"
	}
}

// Frame is one decoded wire message: header fields plus an undecoded body.
type Frame struct {
	Type MessageType
	Body []byte
}

// WriteFrame writes one frame: magic(4) version(1) msg_type(1) reserved(2)
// length(4 BE) body(length).
func WriteFrame(w io.Writer, f Frame) error {
	var header [12]byte
	copy(header[0:4], magic[:])
	header[4] = wireVersion
	header[5] = byte(f.Type)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(f.Body)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(f.Body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads and validates one frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("read frame header: %w", err)
	}
	if header[0] != magic[0] || header[1] != magic[1] || header[2] != magic[2] || header[3] != magic[3] {
		return Frame{}, fmt.Errorf("%w: bad magic", ErrProtocolError)
	}
	if header[4] != wireVersion {
		return Frame{}, fmt.Errorf("%w: unsupported version %d", ErrProtocolError, header[4])
	}

	length := binary.BigEndian.Uint32(header[8:12])
	if length > maxFrameLength {
		return Frame{}, fmt.Errorf("%w: frame length %d exceeds max", ErrProtocolError, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("read frame body: %w", err)
	}

	return Frame{Type: MessageType(header[5]), Body: body}, nil
}
