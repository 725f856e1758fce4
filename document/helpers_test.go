package document

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoolToYesNo(t *testing.T) {
	require.Equal(t, "Yes", BoolToYesNo(true))
	require.Equal(t, "No", BoolToYesNo(false))
}

func TestParseCardDate(t *testing.T) {
	t.Run("iso date", func(t *testing.T) {
		result, err := ParseCardDate("2024-03-15")
		require.NoError(t, err)
		require.Equal(t, 2024, result.Year())
		require.Equal(t, time.March, result.Month())
		require.Equal(t, 15, result.Day())
	})

	t.Run("day first with slashes", func(t *testing.T) {
		result, err := ParseCardDate("15/03/2024")
		require.NoError(t, err)
		require.Equal(t, time.March, result.Month())
		require.Equal(t, 15, result.Day())
	})

	t.Run("short day and month", func(t *testing.T) {
		result, err := ParseCardDate("5/3/2024")
		require.NoError(t, err)
		require.Equal(t, time.March, result.Month())
		require.Equal(t, 5, result.Day())
	})

	t.Run("yymmdd in the future gets 100 years subtracted", func(t *testing.T) {
		nextYear := time.Now().Year()%100 + 1
		result, err := ParseCardDate(fmt.Sprintf("%02d0101", nextYear%100))
		require.NoError(t, err)
		require.False(t, result.After(time.Now()))
	})

	t.Run("empty", func(t *testing.T) {
		_, err := ParseCardDate("  ")
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseCardDate("next tuesday")
		require.ErrorContains(t, err, "unrecognised card date")
	})
}
