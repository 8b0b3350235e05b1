package valuefmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreRoundTrip(t *testing.T) {
	for s := -InfinityMagnitude; s <= InfinityMagnitude; s += 137 {
		got, err := ParseScore(FormatScore(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestScoreSentinels(t *testing.T) {
	pos, err := ParseScore("INFINITY")
	require.NoError(t, err)
	assert.Equal(t, InfinityMagnitude, pos)

	pos2, err := ParseScore("+INFINITY")
	require.NoError(t, err)
	assert.Equal(t, InfinityMagnitude, pos2)

	neg, err := ParseScore("-INFINITY")
	require.NoError(t, err)
	assert.Equal(t, -InfinityMagnitude, neg)

	assert.Equal(t, "INFINITY", FormatScore(InfinityMagnitude))
	assert.Equal(t, "-INFINITY", FormatScore(-InfinityMagnitude))
}

func TestScoreSaturates(t *testing.T) {
	n, err := ParseScore("5000000")
	require.NoError(t, err)
	assert.Equal(t, InfinityMagnitude, n)
}
