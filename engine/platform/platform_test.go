package platform

import (
	"testing"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

func TestTranslateKey(t *testing.T) {
	assert.Equal(t, core.KEY_ESCAPE, translateKey(glfw.KeyEscape))
	assert.Equal(t, core.KEY_R, translateKey(glfw.KeyR))
	assert.Equal(t, core.KEY_UNKNOWN, translateKey(glfw.KeyKPDecimal))
}

func TestResizeLatchesUntilRead(t *testing.T) {
	_ = core.EventSystemShutdown()
	require.True(t, core.EventSystemInitialize())
	defer core.EventSystemShutdown()

	var resized *core.SystemEvent
	core.EventRegister(core.EVENT_CODE_RESIZED, func(ctx core.EventContext) bool {
		resized = ctx.Data.(*core.SystemEvent)
		return true
	})

	p := New()
	p.width, p.height = 800, 600
	assert.False(t, p.ExtentChanged())

	p.onResize(800, 600)
	assert.False(t, p.ExtentChanged(), "same size is not a change")
	assert.Nil(t, resized)

	p.onResize(0, 0)
	assert.Equal(t, frame.Extent{}, p.FramebufferExtent())
	p.onResize(1024, 768)
	assert.True(t, p.ExtentChanged())
	assert.False(t, p.ExtentChanged(), "latch clears on read")
	assert.Equal(t, frame.Extent{Width: 1024, Height: 768}, p.FramebufferExtent())
	require.NotNil(t, resized)
	assert.Equal(t, uint32(1024), resized.WindowWidth)
}

func TestWithoutWindow(t *testing.T) {
	p := New()
	assert.False(t, p.PumpMessages())
	assert.Nil(t, p.RequiredInstanceExtensions())
	_, err := p.CreateWindowSurface(nil)
	assert.Error(t, err)
	assert.NoError(t, p.Shutdown())
}
