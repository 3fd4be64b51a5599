//go:build unit

package anonengine

import (
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterDateKeepsYearAndMonth(t *testing.T) {
	rs := NewSeededSource(9)
	for i := 0; i < 100; i++ {
		got := JitterDate(rs, "2021-02-15")
		require.True(t, strings.HasPrefix(got, "2021-02-"), "got %q", got)
		day, err := strconv.Atoi(got[8:])
		require.NoError(t, err)
		assert.GreaterOrEqual(t, day, 1)
		assert.LessOrEqual(t, day, 28)
	}
}

func TestJitterDateLeapYearFebruary(t *testing.T) {
	rs := NewSeededSource(9)
	saw29 := false
	for i := 0; i < 500; i++ {
		got := JitterDate(rs, "2020-02-15")
		require.True(t, strings.HasPrefix(got, "2020-02-"), "got %q", got)
		day, err := strconv.Atoi(got[8:])
		require.NoError(t, err)
		require.LessOrEqual(t, day, 29)
		if day == 29 {
			saw29 = true
		}
	}
	assert.True(t, saw29, "expected day 29 to be drawn at least once in 500 tries")
}

func TestJitterDateMonthLengths(t *testing.T) {
	cases := []struct {
		input   string
		maxDay  int
		prefix  string
		comment string
	}{
		{"2023-01-10", 31, "2023-01-", "january"},
		{"2023-04-10", 30, "2023-04-", "april"},
		{"2023-02-10", 28, "2023-02-", "non-leap february"},
		{"2000-02-10", 29, "2000-02-", "century leap year"},
		{"1900-02-10", 28, "1900-02-", "century non-leap year"},
	}
	rs := NewSeededSource(9)
	for _, tc := range cases {
		t.Run(tc.comment, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				got := JitterDate(rs, tc.input)
				require.True(t, strings.HasPrefix(got, tc.prefix), "got %q", got)
				day, err := strconv.Atoi(got[8:])
				require.NoError(t, err)
				assert.LessOrEqual(t, day, tc.maxDay)
				assert.GreaterOrEqual(t, day, 1)
			}
		})
	}
}

func TestJitterDatePassesThroughAbsentAndMalformed(t *testing.T) {
	rs := NewSeededSource(9)
	for _, input := range []string{"", "not-a-date", "15.02.2021", "2021-13-40", "0000-00-00"} {
		t.Run(fmt.Sprintf("input %q", input), func(t *testing.T) {
			assert.Equal(t, input, JitterDate(rs, input))
		})
	}
}
