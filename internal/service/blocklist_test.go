package service

import (
	"testing"
	"time"

	"workspace-realtime/internal/domain"
	"workspace-realtime/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBlocklist(alerts domain.AlertDispatcher, clock *fakeClock) *IPBlocklist {
	b := NewIPBlocklist(DefaultBlocklistConfig(), alerts, logger.Nop())
	b.now = clock.Now
	return b
}

func TestIPBlocklist_BlocksOnThreshold(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	alerts := new(MockAlertDispatcher)
	alerts.On("SendAlert", mock.Anything, domain.AlertIPBlocked, mock.MatchedBy(func(d map[string]string) bool {
		return d["ip"] == "203.0.113.7" && d["failures"] == "10"
	})).Return().Once()
	alerts.On("SendAlert", mock.Anything, domain.AlertBruteForce, map[string]string{
		"ip":       "203.0.113.7",
		"attempts": "10",
	}).Return().Once()
	blocklist := newTestBlocklist(alerts, clock)
	defer blocklist.Close()

	// Act & Assert
	for i := 1; i <= 9; i++ {
		assert.False(t, blocklist.RecordFailure("203.0.113.7"), "failure %d", i)
	}
	assert.False(t, blocklist.IsBlocked("203.0.113.7"))

	assert.True(t, blocklist.RecordFailure("203.0.113.7"))
	assert.True(t, blocklist.IsBlocked("203.0.113.7"))

	until, blocked := blocklist.BlockedUntil("203.0.113.7")
	require.True(t, blocked)
	assert.Equal(t, clock.Now().Add(30*time.Minute), until)

	// falhas extras não renovam o bloqueio nem repetem alertas
	clock.Advance(10 * time.Minute)
	assert.True(t, blocklist.RecordFailure("203.0.113.7"))
	again, _ := blocklist.BlockedUntil("203.0.113.7")
	assert.Equal(t, until, again)

	alerts.AssertExpectations(t)
}

func TestIPBlocklist_BlockExpires(t *testing.T) {
	// Arrange
	clock := newFakeClock()
	alerts := new(MockAlertDispatcher)
	alerts.On("SendAlert", mock.Anything, mock.Anything, mock.Anything).Return()
	blocklist := newTestBlocklist(alerts, clock)
	defer blocklist.Close()

	for i := 0; i < 10; i++ {
		blocklist.RecordFailure("198.51.100.1")
	}
	require.True(t, blocklist.IsBlocked("198.51.100.1"))

	// Act
	clock.Advance(29 * time.Minute)
	stillBlocked := blocklist.IsBlocked("198.51.100.1")
	clock.Advance(time.Minute)
	afterWindow := blocklist.IsBlocked("198.51.100.1")

	// Assert
	assert.True(t, stillBlocked)
	assert.False(t, afterWindow)
	assert.Equal(t, 0, blocklist.Stats().Tracked)
	assert.False(t, blocklist.RecordFailure("198.51.100.1"))
	assert.Equal(t, 1, blocklist.Stats().Records[0].FailureCount)
}

func TestIPBlocklist_RecordSuccessClearsFailures(t *testing.T) {
	// Arrange
	blocklist := newTestBlocklist(nil, newFakeClock())
	defer blocklist.Close()
	for i := 0; i < 9; i++ {
		blocklist.RecordFailure("192.0.2.10")
	}

	// Act
	blocklist.RecordSuccess("192.0.2.10")
	blocked := blocklist.RecordFailure("192.0.2.10")

	// Assert
	assert.False(t, blocked)
	stats := blocklist.Stats()
	require.Len(t, stats.Records, 1)
	assert.Equal(t, 1, stats.Records[0].FailureCount)
}

func TestIPBlocklist_Unblock(t *testing.T) {
	// Arrange
	blocklist := NewIPBlocklist(BlocklistConfig{Threshold: 2}, nil, logger.Nop())
	defer blocklist.Close()
	blocklist.RecordFailure("192.0.2.20")
	blocklist.RecordFailure("192.0.2.20")
	require.True(t, blocklist.IsBlocked("192.0.2.20"))

	// Act
	removed := blocklist.Unblock("192.0.2.20")
	removedAgain := blocklist.Unblock("192.0.2.20")

	// Assert
	assert.True(t, removed)
	assert.False(t, removedAgain)
	assert.False(t, blocklist.IsBlocked("192.0.2.20"))
}

func TestIPBlocklist_Stats(t *testing.T) {
	// Arrange
	blocklist := NewIPBlocklist(BlocklistConfig{Threshold: 2}, nil, logger.Nop())
	defer blocklist.Close()
	blocklist.RecordFailure("10.0.0.2")
	blocklist.RecordFailure("10.0.0.1")
	blocklist.RecordFailure("10.0.0.1")

	// Act
	stats := blocklist.Stats()

	// Assert
	assert.Equal(t, 2, stats.Tracked)
	assert.Equal(t, 1, stats.Blocked)
	require.Len(t, stats.Records, 2)
	assert.Equal(t, "10.0.0.1", stats.Records[0].IP)
	assert.NotNil(t, stats.Records[0].BlockedUntil)
	assert.Nil(t, stats.Records[1].BlockedUntil)
}

func TestIPBlocklist_RecordsExpireWithoutBlock(t *testing.T) {
	blocklist := NewIPBlocklist(BlocklistConfig{RecordTTL: 20 * time.Millisecond}, nil, logger.Nop())
	defer blocklist.Close()

	blocklist.RecordFailure("10.1.1.1")
	require.Equal(t, 1, blocklist.Stats().Tracked)

	assert.Eventually(t, func() bool {
		return blocklist.Stats().Tracked == 0
	}, time.Second, 10*time.Millisecond)
}

func TestIPBlocklist_BlockedRecordOutlivesRecordTTL(t *testing.T) {
	blocklist := NewIPBlocklist(BlocklistConfig{
		Threshold:     1,
		BlockDuration: 150 * time.Millisecond,
		RecordTTL:     10 * time.Millisecond,
	}, nil, logger.Nop())
	defer blocklist.Close()

	require.True(t, blocklist.RecordFailure("10.2.2.2"))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, blocklist.IsBlocked("10.2.2.2"))

	assert.Eventually(t, func() bool {
		return blocklist.Stats().Tracked == 0
	}, time.Second, 10*time.Millisecond)
}
