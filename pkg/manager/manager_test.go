package manager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWiresEveryComponentWithoutStartingAnyListener(t *testing.T) {
	cfg := Config{
		DataDir:       t.TempDir(),
		ListenAddr:    "127.0.0.1:0",
		AdminAddr:     "127.0.0.1:0",
		ClusterSecret: []byte("cluster-secret"),
		TokenSecret:   []byte("token-secret"),
	}

	m, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NotNil(t, m.tr)
	require.NotNil(t, m.fd)
	require.NotNil(t, m.goss)
	require.NotNil(t, m.elec)
	require.NotNil(t, m.pool)
	require.NotNil(t, m.disp)
	require.NotNil(t, m.admin)
	require.NotNil(t, m.collector)
	require.NotNil(t, m.router.fd)
	require.NotNil(t, m.router.goss)
	require.NotNil(t, m.router.elec)
	require.NotNil(t, m.router.disp)

	require.NoError(t, m.Close())
}

func TestNewRejectsEmptySecrets(t *testing.T) {
	cfg := Config{
		DataDir:    t.TempDir(),
		ListenAddr: "127.0.0.1:0",
		AdminAddr:  "127.0.0.1:0",
	}
	_, err := New(cfg)
	require.Error(t, err)
}

func TestOnLeaderChangeStartsAndStopsHousekeeper(t *testing.T) {
	cfg := Config{
		DataDir:       t.TempDir(),
		ListenAddr:    "127.0.0.1:0",
		AdminAddr:     "127.0.0.1:0",
		ClusterSecret: []byte("cluster-secret"),
		TokenSecret:   []byte("token-secret"),
	}
	m, err := New(cfg)
	require.NoError(t, err)
	defer m.Close()

	m.onLeaderChange(true, 1)
	require.NotNil(t, m.housekeeper)
	require.NotNil(t, m.hkCancel)

	m.onLeaderChange(false, 1)
	require.Nil(t, m.housekeeper)
	require.Nil(t, m.hkCancel)
}
