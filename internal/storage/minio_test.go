package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotLifecycle(t *testing.T) {
	cfg := snapshotLifecycle(30)
	require.Len(t, cfg.Rules, 1)
	rule := cfg.Rules[0]
	assert.Equal(t, "Enabled", rule.Status)
	assert.Equal(t, SnapshotPrefix, rule.RuleFilter.Prefix)
	assert.EqualValues(t, 30, rule.Expiration.Days)
}
