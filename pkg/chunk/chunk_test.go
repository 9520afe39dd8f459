package chunk

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkRoundTripStream(t *testing.T) {
	c := &Chunk{
		Kind:          KindVideo,
		PayloadKind:   PayloadStream,
		ChannelNumber: 2,
		FrameTime:     999,
		FrameRate:     3000,
		Payload:       make([]byte, 0x30),
		Padding:       0x10,
	}
	for i := range c.Payload {
		c.Payload[i] = byte(i)
	}

	buf, err := c.Marshal()
	require.NoError(t, err)
	require.Equal(t, 0x60, len(buf))
	require.Equal(t, "@SFV", string(buf[0:4]))

	var decoded Chunk
	n, err := decoded.Unmarshal(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	require.Equal(t, c.Kind, decoded.Kind)
	require.Equal(t, c.PayloadKind, decoded.PayloadKind)
	require.Equal(t, c.ChannelNumber, decoded.ChannelNumber)
	require.Equal(t, c.FrameTime, decoded.FrameTime)
	require.Equal(t, c.FrameRate, decoded.FrameRate)
	require.Equal(t, c.Payload, decoded.Payload)
	require.Equal(t, c.Padding, decoded.Padding)
}

func TestChunkIsPageTable(t *testing.T) {
	c := &Chunk{Payload: []byte("@UTF0000")}
	require.True(t, c.IsPageTable())

	raw := &Chunk{Payload: []byte("#CONTENTS END   ===============\x00")}
	require.False(t, raw.IsPageTable())
}

func TestChunkUnmarshalRejectsUnknownKind(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], "XXXX")
	var c Chunk
	_, err := c.Unmarshal(buf, 0)
	require.Error(t, err)
}

func TestChunkUnmarshalRejectsNegativePayloadSize(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], "CRID")
	// lengthAfter8 too small relative to padding+payloadOffset
	buf[9] = 0x18
	buf[11] = 0xFF
	var c Chunk
	_, err := c.Unmarshal(buf, 42)
	require.Error(t, err)
}

func TestChunkMarshalRejectsUnknownKind(t *testing.T) {
	c := &Chunk{Kind: "????"}
	_, err := c.Marshal()
	require.Error(t, err)
}

func TestChunkMarshalSizeMultipleOfAlignment(t *testing.T) {
	c := &Chunk{Kind: KindAudio, Payload: make([]byte, 7), Padding: 0x20 - (HeaderSize+7)%Alignment}
	require.Equal(t, 0, c.MarshalSize()%Alignment)
}
