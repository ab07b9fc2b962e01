package transport

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Type: MsgHeartbeat, Body: []byte("hello")}

	require.NoError(t, WriteFrame(&buf, want))

	got, err := ReadFrame(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.Equal(t, want.Type, got.Type)
	require.Equal(t, want.Body, got.Body)
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0, 0, 0, 0, 1, byte(MsgHeartbeat), 0, 0, 0, 0, 0, 0})

	_, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrProtocolError)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(wireVersion)
	buf.WriteByte(byte(MsgHeartbeat))
	buf.Write([]byte{0, 0})
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})

	_, err := ReadFrame(bufio.NewReader(&buf))
	require.ErrorIs(t, err, ErrProtocolError)
}

func TestEncoderDecoderRoundTrip(t *testing.T) {
	enc := NewEncoder().PutUint8(7).PutUint32(42).PutUint64(1000).PutString("peer-a").PutBytes([]byte{1, 2, 3})

	dec := NewDecoder(enc.Bytes())
	require.Equal(t, uint8(7), dec.GetUint8())
	require.Equal(t, uint32(42), dec.GetUint32())
	require.Equal(t, uint64(1000), dec.GetUint64())
	require.Equal(t, "peer-a", dec.GetString())
	require.Equal(t, []byte{1, 2, 3}, dec.GetBytes())
	require.NoError(t, dec.Err())
}

func TestDecoderErrorsOnShortRecord(t *testing.T) {
	dec := NewDecoder([]byte{0, 0})
	dec.GetUint64()
	require.ErrorIs(t, dec.Err(), ErrProtocolError)
}
