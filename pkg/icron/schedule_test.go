package icron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTriggerInfo(t *testing.T) {
	ref := time.Date(2024, 3, 1, 10, 2, 30, 0, time.UTC)

	info, err := GetTriggerInfo("*/5 * * * *", ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC), info.Next)
	assert.Equal(t, 2*time.Minute+30*time.Second, info.TimeUntilNext)
	assert.Equal(t, "*/5 * * * *", info.Expression)

	_, err = GetTriggerInfo("not a cron", ref)
	assert.Error(t, err)
}
