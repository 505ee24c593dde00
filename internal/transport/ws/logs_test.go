package ws

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AutoFlowLabs/ios-bridge/internal/hostdriver"
)

func TestHandleLogsStreamsBacklogEntries(t *testing.T) {
	resolver := &fakeSessionResolver{udids: map[string]string{"sess-1": "udid-1"}}
	driver := &fakeHostDriver{logEntries: []hostdriver.LogEntry{
		{Process: "SpringBoard", Level: "default", Message: "hello"},
		{Process: "SpringBoard", Level: "error", Message: "world"},
	}}
	_, wsURL := testServer(t, testDeps(resolver, driver))

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/sess-1/logs", nil)
	require.NoError(t, err)
	defer conn.Close()

	var first, second logEntryMessage
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))

	assert.Equal(t, "hello", first.Message)
	assert.Equal(t, "world", second.Message)
}

func TestLogFilterAllowsMatchingLevelOnly(t *testing.T) {
	f := newLogFilter()
	f.update("error", "")

	assert.True(t, f.allows(hostdriver.LogEntry{Level: "error", Message: "boom"}))
	assert.False(t, f.allows(hostdriver.LogEntry{Level: "default", Message: "boom"}))
}

func TestLogFilterAllowsMatchingSubstringOnly(t *testing.T) {
	f := newLogFilter()
	f.update("", "boom")

	assert.True(t, f.allows(hostdriver.LogEntry{Level: "default", Message: "it went boom"}))
	assert.False(t, f.allows(hostdriver.LogEntry{Level: "default", Message: "all quiet"}))
}
