package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSwapCommand(t *testing.T) {
	tests := []struct {
		in           string
		amount       string
		source, dest string
	}{
		{"swap 1 SOL to USDC", "1", "SOL", "USDC"},
		{"1.5 jup to bonk", "1.5", "JUP", "BONK"},
		{"  convert   100.25 usdc   TO   wsol ", "100.25", "USDC", "SOL"},
		{"quote 0.001 btc to sol", "0.001", "WBTC", "SOL"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			req, err := ParseSwapCommand(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.amount, req.Amount.String())
			assert.Equal(t, tt.source, req.SourceToken)
			assert.Equal(t, tt.dest, req.DestToken)
		})
	}
}

func TestParseSwapCommandErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"swap SOL to USDC",
		"swap 1 SOL USDC",
		"swap -1 SOL to USDC",
		"swap 0 SOL to USDC",
		"swap 1 SOL to WSOL",
	} {
		_, err := ParseSwapCommand(in)
		assert.Error(t, err, in)
	}
}
