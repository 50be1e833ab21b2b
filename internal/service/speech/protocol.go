package speech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Volcengine v3 speech websocket framing. Every frame starts with a 4 byte
// header:
//
//	byte 0: version(4) | header size in 4-byte words(4)
//	byte 1: message type(4) | flags(4)
//	byte 2: serialization(4) | compression(4)
//	byte 3: reserved
//
// followed by an optional sequence, optional event block, and a sized payload.
const protocolVersion = 0b0001

type messageType uint8

const (
	msgFullClientRequest  messageType = 0b0001
	msgFullServerResponse messageType = 0b1001
	msgAudioOnlyResponse  messageType = 0b1011
	msgError              messageType = 0b1111
)

type messageFlags uint8

const (
	flagNoSequence       messageFlags = 0b0000
	flagPositiveSequence messageFlags = 0b0001
	flagLastNoSequence   messageFlags = 0b0010
	flagNegativeSequence messageFlags = 0b0011
	flagWithEvent        messageFlags = 0b0100

	sequenceMask messageFlags = 0b0011
)

type serialization uint8

const (
	serialRaw  serialization = 0b0000
	serialJSON serialization = 0b0001
)

type compression uint8

const (
	compressNone compression = 0b0000
	compressGzip compression = 0b0001
)

type eventType int32

const (
	eventConnectionStarted  eventType = 50
	eventConnectionFailed   eventType = 51
	eventConnectionFinished eventType = 52
	eventSessionStarted     eventType = 150
	eventSessionFinished    eventType = 152
	eventSessionFailed      eventType = 153
	eventStartConnection    eventType = 1
	eventFinishConnection   eventType = 2
)

// frame is a decoded protocol message.
type frame struct {
	Type          messageType
	Flags         messageFlags
	Serialization serialization
	Compression   compression

	Sequence  int32
	Event     eventType
	SessionID string
	ConnectID string
	ErrorCode uint32
	Payload   []byte
}

func (f *frame) hasSequence() bool {
	s := f.Flags & sequenceMask
	return s == flagPositiveSequence || s == flagNegativeSequence
}

func (f *frame) hasEvent() bool {
	return f.Flags&flagWithEvent != 0
}

// last reports whether the server marked this as the final packet.
func (f *frame) last() bool {
	s := f.Flags & sequenceMask
	return s == flagLastNoSequence || s == flagNegativeSequence
}

// Connection-level events carry no session id; connection acks carry a connect id.
func (e eventType) carriesSessionID() bool {
	switch e {
	case eventStartConnection, eventFinishConnection,
		eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return false
	}
	return true
}

func (e eventType) carriesConnectID() bool {
	switch e {
	case eventConnectionStarted, eventConnectionFailed, eventConnectionFinished:
		return true
	}
	return false
}

func appendSized(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func encodeFrame(f *frame) []byte {
	buf := make([]byte, 0, 16+len(f.Payload))
	buf = append(buf,
		protocolVersion<<4|1,
		byte(f.Type)<<4|byte(f.Flags),
		byte(f.Serialization)<<4|byte(f.Compression),
		0,
	)

	if f.hasSequence() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Sequence))
	}
	if f.hasEvent() {
		buf = binary.BigEndian.AppendUint32(buf, uint32(f.Event))
		if f.Event.carriesSessionID() {
			buf = appendSized(buf, []byte(f.SessionID))
		}
		if f.Event.carriesConnectID() {
			buf = appendSized(buf, []byte(f.ConnectID))
		}
	}
	if f.Type == msgError {
		buf = binary.BigEndian.AppendUint32(buf, f.ErrorCode)
	}
	return appendSized(buf, f.Payload)
}

type frameReader struct {
	r   *bytes.Reader
	err error
}

func (fr *frameReader) u32(what string) uint32 {
	if fr.err != nil {
		return 0
	}
	var v uint32
	if err := binary.Read(fr.r, binary.BigEndian, &v); err != nil {
		fr.err = fmt.Errorf("read %s: %w", what, err)
	}
	return v
}

func (fr *frameReader) bytes(what string, n uint32) []byte {
	if fr.err != nil || n == 0 {
		return nil
	}
	if int64(n) > int64(fr.r.Len()) {
		fr.err = fmt.Errorf("read %s: want %d bytes, have %d", what, n, fr.r.Len())
		return nil
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(fr.r, out); err != nil {
		fr.err = fmt.Errorf("read %s: %w", what, err)
	}
	return out
}

func (fr *frameReader) sized(what string) []byte {
	return fr.bytes(what, fr.u32(what+" size"))
}

func decodeFrame(data []byte) (*frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if v := data[0] >> 4; v != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version: %d", v)
	}
	headerLen := int(data[0]&0x0F) * 4
	if headerLen < 4 || headerLen > len(data) {
		return nil, fmt.Errorf("invalid header size: %d", headerLen)
	}

	f := &frame{
		Type:          messageType(data[1] >> 4),
		Flags:         messageFlags(data[1] & 0x0F),
		Serialization: serialization(data[2] >> 4),
		Compression:   compression(data[2] & 0x0F),
	}

	fr := &frameReader{r: bytes.NewReader(data[headerLen:])}
	if f.hasSequence() {
		f.Sequence = int32(fr.u32("sequence"))
	}
	if f.hasEvent() {
		f.Event = eventType(int32(fr.u32("event")))
		if f.Event.carriesSessionID() {
			f.SessionID = string(fr.sized("session id"))
		}
		if f.Event.carriesConnectID() {
			f.ConnectID = string(fr.sized("connect id"))
		}
	}
	if f.Type == msgError {
		f.ErrorCode = fr.u32("error code")
	}
	f.Payload = fr.sized("payload")

	if fr.err != nil {
		return nil, fr.err
	}
	return f, nil
}

// newClientRequest wraps a JSON body, gzip-compressed when requested.
func newClientRequest(body []byte, method compression) (*frame, error) {
	payload, err := compress(body, method)
	if err != nil {
		return nil, err
	}
	return &frame{
		Type:          msgFullClientRequest,
		Flags:         flagNoSequence,
		Serialization: serialJSON,
		Compression:   method,
		Payload:       payload,
	}, nil
}
