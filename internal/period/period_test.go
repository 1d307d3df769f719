package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIDs(t *testing.T) {
	ts := time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC)

	assert.Equal(t, "2026-10-16", DailyID(ts))
	assert.Equal(t, "2026-W42", WeeklyID(ts))
	assert.Equal(t, "alltime", ID(AllTime, ts))
	assert.Equal(t, "2026-10-15", Yesterday(ts))
}

func TestIDsUseUTC(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*3600)
	// 01:00 local is 22:00 the previous day in UTC
	ts := time.Date(2026, 10, 17, 1, 0, 0, 0, loc)
	assert.Equal(t, "2026-10-16", DailyID(ts))
}

func TestISOWeekBoundaries(t *testing.T) {
	// 2027-01-01 is a Friday and belongs to ISO week 53 of 2026
	assert.Equal(t, "2026-W53", WeeklyID(time.Date(2027, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2027-W01", WeeklyID(time.Date(2027, 1, 4, 0, 0, 0, 0, time.UTC)))
}

func TestWeekStart(t *testing.T) {
	thu := time.Date(2026, 10, 15, 18, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(thu))

	sun := time.Date(2026, 10, 18, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), WeekStart(sun))

	mon := time.Date(2026, 10, 19, 0, 5, 0, 0, time.UTC)
	assert.True(t, IsWeekStart(mon))
	assert.Equal(t, "2026-W42", PreviousWeek(mon))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(Daily, "2026-10-16"))
	assert.Error(t, Validate(Daily, "2026-13-01"))
	assert.NoError(t, Validate(Weekly, "2026-W42"))
	assert.Error(t, Validate(Weekly, "2026-W60"))
	assert.Error(t, Validate(Weekly, "2026-42"))
	assert.NoError(t, Validate(AllTime, "alltime"))
	assert.Error(t, Validate(AllTime, "2026"))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("weekly")
	assert.NoError(t, err)
	assert.Equal(t, Weekly, typ)
	assert.True(t, typ.PoolType())
	assert.False(t, AllTime.PoolType())

	_, err = ParseType("monthly")
	assert.Error(t, err)
}
