package overlay

import (
	"errors"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

type fixedStats struct {
	fps, ms float64
}

func (s fixedStats) Frame() (float64, float64) {
	return s.fps, s.ms
}

type fakeObject struct {
	id        frame.ResourceID
	destroyed bool
}

func (o *fakeObject) ID() frame.ResourceID { return o.id }
func (o *fakeObject) Destroy()             { o.destroyed = true }

type fakeImage struct {
	fakeObject
	desc   frame.ImageDesc
	pixels []byte
}

func (i *fakeImage) Extent() frame.Extent { return i.desc.Extent }

func (i *fakeImage) Write(pixels []byte) error {
	i.pixels = append(i.pixels[:0], pixels...)
	return nil
}

type fakeSet struct {
	fakeObject
	writes []frame.DescriptorWrite
}

func (s *fakeSet) Update(writes []frame.DescriptorWrite) error {
	s.writes = writes
	return nil
}

type fakePool struct {
	fakeObject
	layout frame.DescriptorLayout
	sets   []*fakeSet
}

func (p *fakePool) Allocate() (frame.DescriptorSet, error) {
	s := &fakeSet{fakeObject: fakeObject{id: frame.ResourceID(100 + len(p.sets))}}
	p.sets = append(p.sets, s)
	return s, nil
}

// fakeDevice implements only what the panel needs.
type fakeDevice struct {
	frame.Device
	pool     *fakePool
	images   []*fakeImage
	failImgs bool
}

func (d *fakeDevice) CreateDescriptorPool(layout frame.DescriptorLayout, maxSets uint32) (frame.DescriptorPool, error) {
	d.pool = &fakePool{fakeObject: fakeObject{id: 1}, layout: layout}
	return d.pool, nil
}

func (d *fakeDevice) CreateImage(desc frame.ImageDesc) (frame.Image, error) {
	if d.failImgs && len(d.images) == 1 {
		return nil, errors.New("out of device memory")
	}
	img := &fakeImage{fakeObject: fakeObject{id: frame.ResourceID(10 + len(d.images))}, desc: desc}
	d.images = append(d.images, img)
	return img, nil
}

type fakeCommands struct {
	frame.CommandBuffer
	ops []string
	set frame.DescriptorSet
	vp  frame.Rect
}

func (c *fakeCommands) SetViewport(r frame.Rect) {
	c.vp = r
	c.ops = append(c.ops, "viewport")
}

func (c *fakeCommands) SetScissor(r frame.Rect) {
	c.ops = append(c.ops, "scissor")
}

func (c *fakeCommands) BindDescriptorSet(s frame.DescriptorSet) {
	c.set = s
	c.ops = append(c.ops, "bind-set")
}

func (c *fakeCommands) Draw(v, i, fv, fi uint32) {
	c.ops = append(c.ops, "draw")
}

func TestStatsPanelResources(t *testing.T) {
	dev := &fakeDevice{}
	p, err := NewStatsPanel(dev, fixedStats{}, 3)
	require.NoError(t, err)

	assert.Equal(t, "sampling", dev.pool.layout.Name)
	require.Len(t, dev.images, 3)
	for i, img := range dev.images {
		assert.Equal(t, frame.Extent{Width: PanelWidth, Height: PanelHeight}, img.desc.Extent)
		assert.Equal(t, frame.TilingLinear, img.desc.Tiling)
		assert.True(t, img.desc.HostVisible)
		require.Len(t, dev.pool.sets[i].writes, 1)
		assert.Equal(t, frame.DescriptorCombinedImageSampler, dev.pool.sets[i].writes[0].Type)
		assert.Same(t, img, dev.pool.sets[i].writes[0].Image)
	}

	p.Destroy()
	for _, img := range dev.images {
		assert.True(t, img.destroyed)
	}
	assert.True(t, dev.pool.destroyed)
}

func TestStatsPanelCleansUpOnFailure(t *testing.T) {
	dev := &fakeDevice{failImgs: true}
	_, err := NewStatsPanel(dev, fixedStats{}, 2)
	require.Error(t, err)
	assert.True(t, dev.images[0].destroyed)
	assert.True(t, dev.pool.destroyed)
}

func TestStatsPanelRenderDrawsText(t *testing.T) {
	p, err := NewStatsPanel(&fakeDevice{}, fixedStats{fps: 60, ms: 16.667}, 1)
	require.NoError(t, err)

	canvas := p.Render()
	assert.Equal(t, color.RGBAModel.Convert(border), canvas.At(0, 0))
	assert.Equal(t, color.RGBAModel.Convert(background), canvas.At(PanelWidth-3, PanelHeight-3))

	white := 0
	for y := 0; y < PanelHeight; y++ {
		for x := 0; x < PanelWidth; x++ {
			if canvas.RGBAAt(x, y) == valueColor {
				white++
			}
		}
	}
	assert.Greater(t, white, 20)
}

func TestStatsPanelDraw(t *testing.T) {
	dev := &fakeDevice{}
	p, err := NewStatsPanel(dev, fixedStats{fps: 120, ms: 8.3}, 2)
	require.NoError(t, err)

	cmd := &fakeCommands{}
	require.NoError(t, p.Draw(cmd, 1))

	assert.Equal(t, []string{"viewport", "scissor", "bind-set", "draw"}, cmd.ops)
	assert.Equal(t, frame.Rect{Width: PanelWidth, Height: PanelHeight}, cmd.vp)
	assert.Same(t, dev.pool.sets[1], cmd.set)
	assert.Len(t, dev.images[1].pixels, PanelWidth*PanelHeight*4)
	assert.Empty(t, dev.images[0].pixels)

	assert.Error(t, p.Draw(cmd, 2))
}
