// SPDX-License-Identifier: GPL-3.0-or-later

package neat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg := NewConfig()

	require.NotNil(t, cfg)

	// ErrClassifier should use errclass by default.
	assert.Equal(t, "", cfg.ErrClassifier.Classify(nil))
	assert.Equal(t, "ETIMEDOUT", cfg.ErrClassifier.Classify(context.DeadlineExceeded))

	// TimeNow should be set and return a valid time.
	now := cfg.TimeNow()
	assert.False(t, now.IsZero())

	// Upstream servers: two v4, two v6, per spec §4.2.
	assert.Len(t, cfg.UpstreamServers[FamilyV4], 2)
	assert.Len(t, cfg.UpstreamServers[FamilyV6], 2)

	// Timeouts/limits per spec §4.2/§6.
	assert.Equal(t, 100*time.Millisecond, cfg.DNSLiteralTimeout)
	assert.Equal(t, time.Second, cfg.DNSResolvedTimeout)
	assert.Equal(t, 30*time.Second, cfg.DNSTimeout)
	assert.Equal(t, 8, cfg.MaxNumResolved)
	assert.Equal(t, 100, cfg.ListenBacklog)

	// Reactor/AddressMonitor are left for the caller to supply.
	assert.Nil(t, cfg.Reactor)
	assert.Nil(t, cfg.AddressMonitor)
}
