package rangedl

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFullMiddleRange(t *testing.T) {
	br, err := Parse("bytes=0-99", 1000)
	require.NoError(t, err)
	require.Equal(t, ByteRange{Start: 0, End: 99}, br)
	require.Equal(t, int64(100), br.Length())
}

func TestParseOpenEndedRange(t *testing.T) {
	br, err := Parse("bytes=500-", 1000)
	require.NoError(t, err)
	require.Equal(t, ByteRange{Start: 500, End: 999}, br)
}

func TestParseSuffixRange(t *testing.T) {
	br, err := Parse("bytes=-100", 1000)
	require.NoError(t, err)
	require.Equal(t, ByteRange{Start: 900, End: 999}, br)
}

func TestParseSuffixRangeLargerThanSizeClamps(t *testing.T) {
	br, err := Parse("bytes=-5000", 1000)
	require.NoError(t, err)
	require.Equal(t, ByteRange{Start: 0, End: 999}, br)
}

func TestParseEndBeyondSizeUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=900-5000", 1000)
	require.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseStartBeyondSizeUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=1000-1001", 1000)
	require.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseZeroSizeUnsatisfiable(t *testing.T) {
	_, err := Parse("bytes=0-0", 0)
	require.ErrorIs(t, err, ErrUnsatisfiable)
}

func TestParseMalformedInputs(t *testing.T) {
	cases := []string{"", "0-99", "bytes=", "bytes=abc-99", "bytes=50-10", "bytes=0-99,200-299"}

	for _, c := range cases {
		_, err := Parse(c, 1000)
		require.True(t, errors.Is(err, ErrMalformed) || errors.Is(err, ErrUnsatisfiable), "input %q: %v", c, err)
	}
}
