package currency

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRaw(t *testing.T) {
	value, err := ParseRaw("1000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000", value.String())

	// Values past uint64 must stay exact.
	value, err = ParseRaw("340282366920938463463374607431768211456")
	require.NoError(t, err)
	assert.Equal(t, "340282366920938463463374607431768211456", value.String())

	_, err = ParseRaw("")
	assert.Error(t, err)

	_, err = ParseRaw("12.5")
	assert.Error(t, err)

	_, err = ParseRaw("-5")
	assert.Error(t, err)
}

func TestToDisplay(t *testing.T) {
	raw := big.NewInt(1500000)
	assert.Equal(t, "1.5", ToDisplay(raw, 6))
	assert.Equal(t, "1500000", ToDisplay(raw, 0))
	assert.Equal(t, "0.0015", ToDisplay(raw, 9))
	assert.Equal(t, "0", ToDisplay(nil, 6))
}

func TestFromDisplay(t *testing.T) {
	raw, err := FromDisplay("1.5", 6)
	require.NoError(t, err)
	assert.Equal(t, "1500000", raw.String())

	raw, err = FromDisplay("0.000001", 6)
	require.NoError(t, err)
	assert.Equal(t, "1", raw.String())

	_, err = FromDisplay("0.0000001", 6)
	assert.Error(t, err, "more fractional digits than decimals")

	_, err = FromDisplay("-1", 6)
	assert.Error(t, err)

	_, err = FromDisplay("abc", 6)
	assert.Error(t, err)
}

func TestDisplayRoundTrip(t *testing.T) {
	raw, err := ParseRaw("123456789000000000000000000000")
	require.NoError(t, err)

	display := ToDisplay(raw, 30)
	back, err := FromDisplay(display, 30)
	require.NoError(t, err)
	assert.Zero(t, raw.Cmp(back))
}
