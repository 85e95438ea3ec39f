package filter_test

import (
	"testing"
	"time"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
	"github.com/keilerkonzept/climate-telemetry-tui/internal/reading"
	"github.com/stretchr/testify/require"
)

func r(sensor int64, ts string) reading.Reading {
	t, err := time.ParseInLocation(time.DateTime, ts, time.UTC)
	if err != nil {
		panic(err)
	}
	return reading.Reading{SensorID: sensor, Timestamp: t}
}

func ids(rs []reading.Reading) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.SensorID
	}
	return out
}

func TestNoCriteriaPassesSetThrough(t *testing.T) {
	in := []reading.Reading{r(1, "2024-01-01 10:00:00"), r(2, "1999-01-01 00:00:00")}

	out, err := filter.Apply(in, filter.Criteria{}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, in, out)
	require.Same(t, &in[0], &out[0])
}

func TestStartDateOnly(t *testing.T) {
	in := []reading.Reading{r(1, "2024-01-01 10:00:00"), r(2, "2024-01-02 10:00:00")}

	out, err := filter.Apply(in, filter.Criteria{StartDate: "2024-01-02"}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, ids(out))
}

func TestEndDateIncludesWholeDay(t *testing.T) {
	in := []reading.Reading{
		r(1, "2024-01-02 23:59:59"),
		r(2, "2024-01-03 00:00:00"),
		r(3, "2024-01-01 00:00:00"),
	}

	out, err := filter.Apply(in, filter.Criteria{EndDate: "2024-01-02"}, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, ids(out))
}

func TestTimesNarrowBothSides(t *testing.T) {
	in := []reading.Reading{
		r(1, "2024-01-02 08:59:59"),
		r(2, "2024-01-02 09:00:00"),
		r(3, "2024-01-02 17:30:59"),
		r(4, "2024-01-02 17:31:00"),
	}
	c := filter.Criteria{StartDate: "2024-01-02", StartTime: "09:00", EndDate: "2024-01-02", EndTime: "17:30"}

	out, err := filter.Apply(in, c, time.UTC)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, ids(out))
}

func TestTimeWithSeconds(t *testing.T) {
	c := filter.Criteria{EndDate: "2024-01-02", EndTime: "17:30:10"}
	b, err := c.Bounds(time.UTC)
	require.NoError(t, err)
	require.False(t, b.HasLower)
	require.Equal(t, time.Date(2024, 1, 2, 17, 30, 10, 0, time.UTC), b.Upper)
}

func TestTimeWithoutDateIsRejected(t *testing.T) {
	for _, c := range []filter.Criteria{
		{StartTime: "10:00"},
		{EndTime: "10:00"},
		{StartDate: "2024-01-01", EndTime: "10:00"},
	} {
		require.ErrorIs(t, c.Validate(), filter.ErrTimeWithoutDate, c)
		_, err := filter.Apply(nil, c, time.UTC)
		require.ErrorIs(t, err, filter.ErrTimeWithoutDate)
	}
}

func TestInvalidFields(t *testing.T) {
	require.ErrorIs(t, filter.Criteria{StartDate: "01/02/2024"}.Validate(), filter.ErrInvalidDate)
	require.ErrorIs(t, filter.Criteria{StartDate: "2024-01-02", StartTime: "9"}.Validate(), filter.ErrInvalidTime)
	require.ErrorIs(t, filter.Criteria{EndDate: "2024-01-02", EndTime: "25:00"}.Validate(), filter.ErrInvalidTime)
}

func TestInvertedRangeMatchesNothing(t *testing.T) {
	c := filter.Criteria{StartDate: "2024-01-03", EndDate: "2024-01-02"}
	require.NoError(t, c.Validate())

	rs := []reading.Reading{r(1, "2024-01-02 12:00:00"), r(2, "2024-01-03 12:00:00")}
	got, err := filter.Apply(rs, c, time.UTC)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestBoundsUseLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	b, err := filter.Criteria{StartDate: "2024-01-02"}.Bounds(loc)
	require.NoError(t, err)
	require.True(t, b.Lower.Equal(time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC)))
}

func TestString(t *testing.T) {
	require.Equal(t, "all readings", filter.Criteria{}.String())
	require.Equal(t, "2024-01-02 09:00 → …", filter.Criteria{StartDate: "2024-01-02", StartTime: "09:00"}.String())
	require.Equal(t, filter.Criteria{StartDate: "2024-01-02"}, filter.Criteria{StartDate: " 2024-01-02 "}.Normalize())
}
