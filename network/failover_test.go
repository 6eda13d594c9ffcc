package network

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFailoverNeedsEndpoints(t *testing.T) {
	_, err := NewFailover()
	require.ErrorIs(t, err, ErrNoEndpoints)
}

func TestFailoverRotates(t *testing.T) {
	heights := func(h uint64) *MockChainService {
		return &MockChainService{GetBlockHeightFn: func(context.Context) (uint64, error) { return h, nil }}
	}
	f, err := NewFailover(
		Endpoint{URL: "http://a", Service: heights(1)},
		Endpoint{URL: "http://b", Service: heights(2)},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, f.Len())
	assert.Equal(t, "http://a", f.URL())
	assert.Equal(t, []string{"http://a", "http://b"}, f.URLs())

	h, err := f.GetBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h)

	assert.Equal(t, "http://b", f.Rotate())
	h, err = f.GetBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), h)

	assert.Equal(t, "http://a", f.Rotate())
}

func TestNewRPCFailover(t *testing.T) {
	node := newFakeNode(t, map[string]nodeHandler{"getblockcount": respond(7)})
	f, err := NewRPCFailover(RPCConfig{URL: "http://127.0.0.1:1"}, RPCConfig{URL: node.server.URL})
	require.NoError(t, err)

	_, err = f.GetBlockHeight(context.Background())
	require.True(t, IsTransient(err))

	f.Rotate()
	h, err := f.GetBlockHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), h)
}

func TestMockUnsetMethod(t *testing.T) {
	m := &MockChainService{}
	_, err := m.GetVault(context.Background(), "v")
	require.ErrorIs(t, err, ErrMockNotConfigured)
	require.NoError(t, m.ImportAddress(context.Background(), "a"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection", fmt.Errorf("%w: dial", ErrConnectionFailed), true},
		{"invalid response", ErrInvalidResponse, true},
		{"deadline", context.DeadlineExceeded, true},
		{"rpc error", &RPCError{Code: -26, Message: "rejected"}, false},
		{"broadcast rejected", ErrBroadcastRejected, false},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestResolveConfigLayers(t *testing.T) {
	cfg, err := ResolveConfig(nil, nil, "testnet")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:18554", cfg.URL)
	assert.Equal(t, "testnet", cfg.Network)

	cfg, err = ResolveConfig(nil, map[string]string{"MAXI_RPC_URL": "http://env:1", "MAXI_RPC_USER": "u"}, "testnet")
	require.NoError(t, err)
	assert.Equal(t, "http://env:1", cfg.URL)
	assert.Equal(t, "u", cfg.User)

	cfg, err = ResolveConfig(&RPCConfig{URL: "http://flag:1", Timeout: 5 * time.Second}, map[string]string{"MAXI_RPC_URL": "http://env:1"}, "testnet")
	require.NoError(t, err)
	assert.Equal(t, "http://flag:1", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	_, err = ResolveConfig(nil, nil, "mainnet")
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
