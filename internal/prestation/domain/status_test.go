package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" performed ")
	require.NoError(t, err)
	assert.Equal(t, StatusPerformed, s)

	_, err = ParseStatus("DONE")
	assert.Error(t, err)
}

func TestStockActionFor(t *testing.T) {
	tests := []struct {
		from, to Status
		want     StockAction
	}{
		{StatusPlanned, StatusPerformed, StockApply},
		{StatusPerformed, StatusPlanned, StockRevert},
		{StatusPerformed, StatusCancelled, StockRevert},
		{StatusPlanned, StatusCancelled, StockRevert},
		{StatusPerformed, StatusPaid, StockNone},
		{StatusPaid, StatusCancelled, StockNone},
		{StatusPerformed, StatusPerformed, StockNone},
		{StatusPlanned, StatusPlanned, StockNone},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, StockActionFor(tt.from, tt.to))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusPlanned, StatusPerformed))
	assert.True(t, CanTransition(StatusPerformed, StatusPlanned))
	assert.True(t, CanTransition(StatusPerformed, StatusPaid))
	assert.True(t, CanTransition(StatusPaid, StatusCancelled))
	assert.True(t, CanTransition(StatusCancelled, StatusCancelled))

	assert.False(t, CanTransition(StatusCancelled, StatusPlanned))
	assert.False(t, CanTransition(StatusCancelled, StatusPerformed))
	assert.False(t, CanTransition(StatusPaid, StatusPlanned))
	assert.False(t, CanTransition(StatusPlanned, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusPerformed))
}

func TestPathTo(t *testing.T) {
	assert.Nil(t, PathTo(StatusPlanned))
	assert.Equal(t, []Status{StatusPerformed}, PathTo(StatusPerformed))
	assert.Equal(t, []Status{StatusPerformed, StatusPaid}, PathTo(StatusPaid))
	assert.Equal(t, []Status{StatusCancelled}, PathTo(StatusCancelled))

	for _, to := range []Status{StatusPerformed, StatusPaid, StatusCancelled} {
		from := StatusPlanned
		for _, s := range PathTo(to) {
			assert.True(t, CanTransition(from, s), "%s -> %s", from, s)
			from = s
		}
	}
}

func TestStockAction_String(t *testing.T) {
	assert.Equal(t, "apply", StockApply.String())
	assert.Equal(t, "revert", StockRevert.String())
	assert.Equal(t, "none", StockNone.String())
}
