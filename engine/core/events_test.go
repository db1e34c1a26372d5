package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetEvents(t *testing.T) {
	t.Helper()
	_ = EventSystemShutdown()
	require.True(t, EventSystemInitialize())
	t.Cleanup(func() { _ = EventSystemShutdown() })
}

func TestEventFireStopsAtFirstHandler(t *testing.T) {
	resetEvents(t)
	assert.False(t, EventSystemInitialize(), "second initialize")

	var calls []string
	EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls = append(calls, "first")
		return false
	})
	EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls = append(calls, "second")
		return true
	})
	EventRegister(EVENT_CODE_APPLICATION_QUIT, func(EventContext) bool {
		calls = append(calls, "third")
		return true
	})

	assert.True(t, EventFire(EventContext{Type: EVENT_CODE_APPLICATION_QUIT}))
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.False(t, EventFire(EventContext{Type: EVENT_CODE_RESIZED}), "no listeners")
}

func TestEventUnregister(t *testing.T) {
	resetEvents(t)
	fired := 0
	handle := EventRegister(EVENT_CODE_RELOAD_PIPELINES, func(EventContext) bool {
		fired++
		return true
	})
	require.NotZero(t, handle)

	EventFire(EventContext{Type: EVENT_CODE_RELOAD_PIPELINES})
	assert.True(t, EventUnregister(EVENT_CODE_RELOAD_PIPELINES, handle))
	assert.False(t, EventUnregister(EVENT_CODE_RELOAD_PIPELINES, handle))
	EventFire(EventContext{Type: EVENT_CODE_RELOAD_PIPELINES})
	assert.Equal(t, 1, fired)
}

func TestEventsIgnoredWhenNotRunning(t *testing.T) {
	_ = EventSystemShutdown()
	assert.Zero(t, EventRegister(EVENT_CODE_KEY_PRESSED, func(EventContext) bool { return true }))
	assert.False(t, EventFire(EventContext{Type: EVENT_CODE_KEY_PRESSED}))
}

func TestApplicationCodesAreBeyondSystemRange(t *testing.T) {
	assert.Greater(t, int(EVENT_CODE_RELOAD_PIPELINES), int(MAX_EVENT_CODE))
}

func TestInputProcessKeyFiresOnTransitions(t *testing.T) {
	resetEvents(t)
	require.NoError(t, InputInitialize())
	t.Cleanup(func() { _ = InputShutdown() })

	var got []EventCode
	record := func(ctx EventContext) bool {
		ke, ok := ctx.Data.(*KeyEvent)
		require.True(t, ok)
		assert.Equal(t, KEY_R, ke.KeyCode)
		got = append(got, ctx.Type)
		return false
	}
	EventRegister(EVENT_CODE_KEY_PRESSED, record)
	EventRegister(EVENT_CODE_KEY_RELEASED, record)

	InputProcessKey(KEY_R, true)
	InputProcessKey(KEY_R, true)
	assert.True(t, InputIsKeyDown(KEY_R))
	assert.False(t, InputWasKeyDown(KEY_R))

	InputUpdate()
	assert.True(t, InputWasKeyDown(KEY_R))

	InputProcessKey(KEY_R, false)
	assert.False(t, InputIsKeyDown(KEY_R))
	assert.Equal(t, []EventCode{EVENT_CODE_KEY_PRESSED, EVENT_CODE_KEY_RELEASED}, got)

	InputProcessKey(KEY_UNKNOWN, true)
	assert.Len(t, got, 2)
}
