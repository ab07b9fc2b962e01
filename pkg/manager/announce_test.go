package manager

import (
	"testing"

	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeAnnounceRoundTrips(t *testing.T) {
	id := clustertypes.NewNodeID()
	endpoints := []clustertypes.Endpoint{
		{Host: "10.0.0.1", Port: 7600},
		{Host: "10.0.0.2", Port: 7601},
	}

	body := encodeAnnounce(id, 42, endpoints)
	got, err := decodeAnnounce(body)
	require.NoError(t, err)
	require.Equal(t, id, got.nodeID)
	require.Equal(t, uint64(42), got.incarnation)
	require.Equal(t, endpoints, got.endpoints)
}

func TestDecodeAnnounceRejectsTruncatedBody(t *testing.T) {
	_, err := decodeAnnounce([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestDecodeAnnounceRejectsMalformedNodeID(t *testing.T) {
	body := encodeAnnounce(clustertypes.NewNodeID(), 1, nil)
	// Corrupt the string-form NodeID written at the start of the body.
	body[4] = 'z'
	_, err := decodeAnnounce(body)
	require.Error(t, err)
}
