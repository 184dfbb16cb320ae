package universe

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"aapl", "AAPL", true},
		{" sp500 ", "^GSPC", true},
		{"btc", "BTC-USD", true},
		{"ETH-USD", "ETH-USD", true},
		{"BRK.B", "BRK.B", true},
		{"TOOLONGTICKER", "", false},
		{"BAD$", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.in)
		if !tt.ok {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestIsCrypto(t *testing.T) {
	assert.True(t, IsCrypto("BTC-USD"))
	assert.False(t, IsCrypto("BTC-EUR"))
	assert.False(t, IsCrypto("AAPL"))
}

func TestResolve_DedupAndReject(t *testing.T) {
	symbols, rejected := Resolve([]string{"aapl", "AAPL", "btc", "BTC-USD", "nasdaq", "b@d"})
	assert.Equal(t, []string{"AAPL", "BTC-USD", "^IXIC"}, symbols)
	require.Len(t, rejected, 1)
	assert.Equal(t, "B@D", rejected[0].Symbol)
}

func TestResolve_Cap(t *testing.T) {
	raw := make([]string, 0, MaxSymbols+3)
	for i := 0; i < MaxSymbols+3; i++ {
		raw = append(raw, fmt.Sprintf("S%d", i))
	}
	symbols, rejected := Resolve(raw)
	assert.Len(t, symbols, MaxSymbols)
	assert.Len(t, rejected, 3)
}
