package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsUTC_ConvertsNonUTCLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	local := time.Date(2026, 1, 1, 9, 0, 0, 0, loc)
	got := asUTC(local)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, local.Unix(), got.Unix())
}

func TestAsUTC_LeavesUTCUnchanged(t *testing.T) {
	in := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	assert.Equal(t, in, asUTC(in))
}
