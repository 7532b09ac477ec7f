package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRoundsHalfUp(t *testing.T) {
	cases := map[string]Cents{
		"12":     1200,
		"12.5":   1250,
		"12.345": 1235,
		"12.344": 1234,
		"0.005":  1,
		"0":      0,
	}
	for raw, want := range cases {
		got, err := Parse(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := Parse("abc")
	assert.Error(t, err)
}

func TestUnmarshalAcceptsNumbersAndStrings(t *testing.T) {
	var payload struct {
		A Cents `json:"a"`
		B Cents `json:"b"`
		C Cents `json:"c"`
	}
	err := json.Unmarshal([]byte(`{"a": 10.1, "b": "3.333", "c": null}`), &payload)
	require.NoError(t, err)
	assert.Equal(t, Cents(1010), payload.A)
	assert.Equal(t, Cents(333), payload.B)
	assert.Equal(t, Cents(0), payload.C)
}

func TestMarshalWritesDecimalString(t *testing.T) {
	out, err := json.Marshal(map[string]Cents{"total": 2900})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"29.00"}`, string(out))
}

func TestLineAmountRoundsFractionalQuantity(t *testing.T) {
	assert.Equal(t, Cents(1000), LineAmount(decimal.NewFromInt(4), 250))
	// 1.333 * 3.00 = 3.999
	assert.Equal(t, Cents(400), LineAmount(decimal.RequireFromString("1.333"), 300))
}

func TestPercentAndShare(t *testing.T) {
	assert.Equal(t, Cents(150), Cents(3000).Percent(decimal.NewFromInt(5)))
	assert.Equal(t, Cents(33), Cents(100).Share(1000, 3000))
	assert.Equal(t, Cents(50), Cents(100).Share(1, 2))
}
