package swim

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/ugorji/go/codec"
)

type messageType uint8

const (
	messageTypeProbe messageType = iota + 1
	messageTypeProbeAck
	messageTypeProbeRequest
	messageTypeProbeResponse
	messageTypeParentPing
	messageTypeStatus
)

func (t messageType) String() string {
	switch t {
	case messageTypeProbe:
		return "probe"
	case messageTypeProbeAck:
		return "probe-ack"
	case messageTypeProbeRequest:
		return "probe-request"
	case messageTypeProbeResponse:
		return "probe-response"
	case messageTypeParentPing:
		return "parent-ping"
	case messageTypeStatus:
		return "status"
	default:
		return "unknown"
	}
}

const (
	supportedVersion uint8 = 0

	// maxBodyOverhead is the maximum number of bytes added when framing a
	// body, plus headroom for a relay to add itself to the header.
	maxBodyOverhead = 64
)

type envelopeKind uint8

const (
	// envelopeDirect is a message sent straight to its destination.
	envelopeDirect envelopeKind = iota
	// envelopeSourceRelay is a message sent to a parent of the destination,
	// asking the parent to relay it.
	envelopeSourceRelay
	// envelopeRelay is a message relayed by a parent to its nated child.
	envelopeRelay
)

func (k envelopeKind) String() string {
	switch k {
	case envelopeDirect:
		return "direct"
	case envelopeSourceRelay:
		return "source-relay"
	case envelopeRelay:
		return "relay"
	default:
		return "unknown"
	}
}

type header struct {
	Kind        envelopeKind `codec:"kind"`
	Source      PeerAddress  `codec:"source"`
	Destination PeerAddress  `codec:"destination"`
	// Relay is the parent relaying the message, set for source-relay and
	// relay envelopes.
	Relay *PeerAddress `codec:"relay,omitempty"`
}

// packet is a framed message. Body is the encoded message which relays
// forward untouched.
type packet struct {
	Type   messageType
	Header header
	Body   []byte
}

type message interface {
	messageType() messageType
}

type probe struct {
	Incarnation uint64 `codec:"incarnation"`
}

func (m *probe) messageType() messageType {
	return messageTypeProbe
}

type probeAck struct {
	Incarnation uint64
	Records     []Record
}

func (m *probeAck) messageType() messageType {
	return messageTypeProbeAck
}

type probeAckHeader struct {
	Incarnation uint64 `codec:"incarnation"`
}

type probeRequest struct {
	Target PeerAddress `codec:"target"`
}

func (m *probeRequest) messageType() messageType {
	return messageTypeProbeRequest
}

type probeResponse struct {
	Target      PeerAddress `codec:"target"`
	Incarnation uint64      `codec:"incarnation"`
}

func (m *probeResponse) messageType() messageType {
	return messageTypeProbeResponse
}

type parentPing struct {
}

func (m *parentPing) messageType() messageType {
	return messageTypeParentPing
}

func (s *Status) messageType() messageType {
	return messageTypeStatus
}

type encoder struct {
	encoder *codec.Encoder
}

func newEncoder(writer io.Writer) *encoder {
	var handle codec.MsgpackHandle
	return &encoder{
		encoder: codec.NewEncoder(writer, &handle),
	}
}

func (e *encoder) Encode(v interface{}) error {
	return e.encoder.Encode(v)
}

type decoder struct {
	decoder *codec.Decoder
}

func newDecoder(reader io.Reader) *decoder {
	var handle codec.MsgpackHandle
	return &decoder{
		decoder: codec.NewDecoder(reader, &handle),
	}
}

func (d *decoder) Decode(v interface{}) error {
	return d.decoder.Decode(v)
}

func encodePacket(p *packet) ([]byte, error) {
	// Add fixed header.
	var buf bytes.Buffer
	_ = buf.WriteByte(uint8(p.Type))
	_ = buf.WriteByte(supportedVersion)

	encoder := newEncoder(&buf)
	if err := encoder.Encode(&p.Header); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if err := encoder.Encode(p.Body); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func decodePacket(b []byte) (*packet, error) {
	r := bytes.NewBuffer(b)

	firstByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	messageType := messageType(firstByte)
	if messageType.String() == "unknown" {
		return nil, fmt.Errorf("unknown message type: %d", firstByte)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if version != supportedVersion {
		return nil, fmt.Errorf("unsupported version: %d", version)
	}

	decoder := newDecoder(r)
	p := &packet{
		Type: messageType,
	}
	if err := decoder.Decode(&p.Header); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := decoder.Decode(&p.Body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return p, nil
}

// encodeMessage encodes the message body. If the body would exceed
// maxBodySize, trailing piggyback records are dropped.
func encodeMessage(m message, maxBodySize int) ([]byte, error) {
	var buf bytes.Buffer
	encoder := newEncoder(&buf)

	ack, ok := m.(*probeAck)
	if !ok {
		if err := encoder.Encode(m); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		if buf.Len() > maxBodySize {
			return nil, fmt.Errorf(
				"max packet size too small for %s: %d < %d",
				m.messageType(), maxBodySize, buf.Len(),
			)
		}
		return buf.Bytes(), nil
	}

	if err := encoder.Encode(&probeAckHeader{
		Incarnation: ack.Incarnation,
	}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if buf.Len() > maxBodySize {
		return nil, fmt.Errorf(
			"max packet size too small for header: %d < %d",
			maxBodySize, buf.Len(),
		)
	}

	// Keep appending records until we exceed the max packet size. bufLen
	// contains the number of bytes to send (which may be less than
	// buf.Len() if we exceed the packet limit).
	bufLen := buf.Len()
	for _, record := range ack.Records {
		if err := encoder.Encode(&record); err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}

		if buf.Len() > maxBodySize {
			break
		}
		bufLen = buf.Len()
	}

	return buf.Bytes()[:bufLen], nil
}

func decodeMessage(t messageType, b []byte) (message, error) {
	decoder := newDecoder(bytes.NewReader(b))

	var m message
	switch t {
	case messageTypeProbe:
		m = &probe{}
	case messageTypeProbeAck:
		return decodeProbeAck(decoder)
	case messageTypeProbeRequest:
		m = &probeRequest{}
	case messageTypeProbeResponse:
		m = &probeResponse{}
	case messageTypeParentPing:
		m = &parentPing{}
	case messageTypeStatus:
		m = &Status{}
	default:
		return nil, fmt.Errorf("unknown message type: %d", t)
	}

	if err := decoder.Decode(m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return m, nil
}

func decodeProbeAck(decoder *decoder) (*probeAck, error) {
	var header probeAckHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	ack := &probeAck{
		Incarnation: header.Incarnation,
	}
	for {
		// Read records until EOF.
		var record Record
		if err := decoder.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode: %w", err)
		}
		ack.Records = append(ack.Records, record)
	}
	return ack, nil
}

// EncodeStatus encodes a status report packet from the given source.
func EncodeStatus(source PeerAddress, status *Status) ([]byte, error) {
	body, err := encodeMessage(status, 1<<16)
	if err != nil {
		return nil, err
	}
	return encodePacket(&packet{
		Type: messageTypeStatus,
		Header: header{
			Kind:   envelopeDirect,
			Source: source,
		},
		Body: body,
	})
}

// DecodeStatus decodes a status report packet, returning the reporting
// nodes address and status.
func DecodeStatus(b []byte) (PeerAddress, *Status, error) {
	p, err := decodePacket(b)
	if err != nil {
		return PeerAddress{}, nil, err
	}
	if p.Type != messageTypeStatus {
		return PeerAddress{}, nil, fmt.Errorf("incorrect message type: %s", p.Type)
	}
	m, err := decodeMessage(p.Type, p.Body)
	if err != nil {
		return PeerAddress{}, nil, err
	}
	return p.Header.Source, m.(*Status), nil
}
