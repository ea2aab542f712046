package swim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Packet(t *testing.T) {
	parent := PeerAddress{ID: 10, Addr: "10.0.0.10:7946"}
	nated := PeerAddress{ID: 4, Addr: "192.168.1.4:7946", NAT: NATTypeNated}.WithParent(parent)

	sent := &packet{
		Type: messageTypeProbe,
		Header: header{
			Kind:        envelopeSourceRelay,
			Source:      testAddr(2),
			Destination: nated,
			Relay:       &parent,
		},
		Body: []byte{1, 2, 3},
	}

	b, err := encodePacket(sent)
	require.NoError(t, err)
	assert.Equal(t, uint8(messageTypeProbe), b[0])
	assert.Equal(t, supportedVersion, b[1])

	received, err := decodePacket(b)
	require.NoError(t, err)
	assert.Equal(t, sent, received)
}

func TestCodec_PacketErrors(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		_, err := decodePacket(nil)
		assert.Error(t, err)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := decodePacket([]byte{99, supportedVersion})
		assert.Error(t, err)
	})

	t.Run("unsupported version", func(t *testing.T) {
		_, err := decodePacket([]byte{uint8(messageTypeProbe), 5})
		assert.Error(t, err)
	})

	t.Run("truncated", func(t *testing.T) {
		b, err := encodePacket(&packet{
			Type:   messageTypeProbe,
			Header: header{Source: testAddr(2), Destination: testAddr(3)},
			Body:   []byte{1, 2, 3},
		})
		require.NoError(t, err)

		_, err = decodePacket(b[:len(b)-5])
		assert.Error(t, err)
	})
}

func TestCodec_Messages(t *testing.T) {
	parent := PeerAddress{ID: 10, Addr: "10.0.0.10:7946"}

	tests := []struct {
		name string
		m    message
	}{
		{"probe", &probe{Incarnation: 5}},
		{"probe request", &probeRequest{Target: testAddr(3)}},
		{"probe response", &probeResponse{Target: testAddr(3), Incarnation: 2}},
		{"parent ping", &parentPing{}},
		{"status", &Status{
			NodeID:      2,
			RunID:       "b1c5e7c0-0e44-4a4e-9d38-2f3c2f0ad3b1",
			Members:     4,
			NewNode:     1,
			Suspected:   2,
			Incarnation: 3,
			Parents:     1,
		}},
		{"probe ack", &probeAck{
			Incarnation: 7,
			Records: []Record{
				{Kind: RecordKindNewNode, Target: testAddr(3), Incarnation: 1},
				{Kind: RecordKindNewParent, Target: testAddr(4), Parent: &parent},
			},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := encodeMessage(tt.m, 1400)
			require.NoError(t, err)

			m, err := decodeMessage(tt.m.messageType(), b)
			require.NoError(t, err)
			assert.Equal(t, tt.m, m)
		})
	}
}

// Tests partially encoding an ack due to exceeding the maximum packet size.
func TestCodec_ProbeAckTruncated(t *testing.T) {
	var records []Record
	for id := NodeID(2); id != 50; id++ {
		records = append(records, Record{
			Kind:   RecordKindNewNode,
			Target: testAddr(id),
		})
	}

	b, err := encodeMessage(&probeAck{Incarnation: 3, Records: records}, 300)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(b), 300)

	m, err := decodeMessage(messageTypeProbeAck, b)
	require.NoError(t, err)

	ack := m.(*probeAck)
	assert.Equal(t, uint64(3), ack.Incarnation)
	assert.NotEmpty(t, ack.Records)
	assert.Less(t, len(ack.Records), len(records))
	// Records are kept in order.
	assert.Equal(t, records[:len(ack.Records)], ack.Records)
}

func TestCodec_MessageTooLarge(t *testing.T) {
	_, err := encodeMessage(&probeRequest{Target: testAddr(3)}, 4)
	assert.Error(t, err)
}

func TestCodec_Status(t *testing.T) {
	status := &Status{NodeID: 2, RunID: "run", Members: 3}

	b, err := EncodeStatus(testAddr(2), status)
	require.NoError(t, err)

	source, decoded, err := DecodeStatus(b)
	require.NoError(t, err)
	assert.Equal(t, testAddr(2), source)
	assert.Equal(t, status, decoded)

	// Other message types are rejected.
	b, err = encodePacket(&packet{Type: messageTypeProbe, Body: []byte{0x80}})
	require.NoError(t, err)
	_, _, err = DecodeStatus(b)
	assert.Error(t, err)
}
