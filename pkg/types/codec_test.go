package types

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVectorLiteralRoundTrip(t *testing.T) {
	elems, err := ParseVectorLiteral("[0.1,0.2,0.3]")
	require.NoError(t, err)
	assert.Len(t, elems, 3)
	assert.InDelta(t, 0.1, elems[0], 1e-6)

	assert.Equal(t, "[0.1,0.2,0.3]", FormatVectorLiteral(elems))
}

func TestParseVectorLiteralEmpty(t *testing.T) {
	elems, err := ParseVectorLiteral("[]")
	require.NoError(t, err)
	assert.Empty(t, elems)
}

func TestParseVectorLiteralRejectsMalformed(t *testing.T) {
	_, err := ParseVectorLiteral("0.1,0.2,0.3")
	assert.Error(t, err)

	_, err = ParseVectorLiteral("[0.1,notanumber]")
	assert.Error(t, err)
}

func TestParseVectorLiteralRejectsOversizedDimension(t *testing.T) {
	big := "["
	for i := 0; i < MaxVectorDimension+1; i++ {
		if i > 0 {
			big += ","
		}
		big += "1"
	}
	big += "]"

	_, err := ParseVectorLiteral(big)
	assert.Error(t, err)
}

func TestDecimalNumericRoundTrip(t *testing.T) {
	d, err := decimal.NewFromString("1234.5600")
	require.NoError(t, err)

	n := DecimalToNumeric(d)
	require.True(t, n.Valid)

	back, err := NumericToDecimal(n)
	require.NoError(t, err)
	assert.True(t, d.Equal(back))
}
