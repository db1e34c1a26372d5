package overlay

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/spaghettifunk/raypath/engine/core"
	"github.com/spaghettifunk/raypath/engine/renderer/frame"
)

const (
	PanelWidth  = 160
	PanelHeight = 100

	margin     = 8
	lineHeight = 16
)

var (
	background = color.RGBA{R: 24, G: 24, B: 28, A: 255}
	border     = color.RGBA{R: 90, G: 90, B: 100, A: 255}
	labelColor = color.RGBA{R: 160, G: 160, B: 170, A: 255}
	valueColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Stats is what the panel displays.
type Stats interface {
	// Frame returns frames per second and the average frame time in milliseconds.
	Frame() (float64, float64)
}

type panelSlot struct {
	image frame.Image
	set   frame.DescriptorSet
}

// StatsPanel draws frame time and FPS in the top-left corner. It rasterizes on the host
// into a per-frame linear image, then draws it with whatever full-screen sampling
// pipeline is bound, restricted to the panel rectangle.
type StatsPanel struct {
	stats  Stats
	pool   frame.DescriptorPool
	slots  []panelSlot
	canvas *image.RGBA
	rect   frame.Rect
}

func NewStatsPanel(dev frame.Device, stats Stats, framesInFlight int) (*StatsPanel, error) {
	pool, err := dev.CreateDescriptorPool(frame.SamplingLayout, uint32(framesInFlight))
	if err != nil {
		return nil, core.BackendError("create overlay descriptor pool", err)
	}
	p := &StatsPanel{
		stats:  stats,
		pool:   pool,
		canvas: image.NewRGBA(image.Rect(0, 0, PanelWidth, PanelHeight)),
		rect:   frame.Rect{X: 0, Y: 0, Width: PanelWidth, Height: PanelHeight},
	}
	for i := 0; i < framesInFlight; i++ {
		img, err := dev.CreateImage(frame.ImageDesc{
			Name:        fmt.Sprintf("overlay-%d", i),
			Extent:      frame.Extent{Width: PanelWidth, Height: PanelHeight},
			Format:      frame.FormatRGBA8Unorm,
			Usage:       frame.ImageUsageSampled,
			Tiling:      frame.TilingLinear,
			HostVisible: true,
		})
		if err != nil {
			p.Destroy()
			return nil, core.BackendError("create overlay image", err)
		}
		p.slots = append(p.slots, panelSlot{image: img})

		set, err := pool.Allocate()
		if err != nil {
			p.Destroy()
			return nil, core.BackendError("allocate overlay descriptor set", err)
		}
		if err := set.Update([]frame.DescriptorWrite{
			{Binding: 0, Type: frame.DescriptorCombinedImageSampler, Image: img},
		}); err != nil {
			p.Destroy()
			return nil, core.BackendError("write overlay descriptor set", err)
		}
		p.slots[i].set = set
	}
	return p, nil
}

// Render rasterizes the current stats into the host canvas.
func (p *StatsPanel) Render() *image.RGBA {
	bounds := p.canvas.Bounds()
	draw.Draw(p.canvas, bounds, image.NewUniform(border), image.Point{}, draw.Src)
	draw.Draw(p.canvas, bounds.Inset(1), image.NewUniform(background), image.Point{}, draw.Src)

	fps, frameTime := p.stats.Frame()
	lines := []struct {
		text string
		col  color.Color
	}{
		{"Frame Time", labelColor},
		{fmt.Sprintf("%.3f ms", frameTime), valueColor},
		{"FPS", labelColor},
		{fmt.Sprintf("%.1f", fps), valueColor},
	}
	d := &font.Drawer{Dst: p.canvas, Face: basicfont.Face7x13}
	for i, l := range lines {
		d.Src = image.NewUniform(l.col)
		d.Dot = fixed.P(margin, margin+basicfont.Face7x13.Ascent+i*(lineHeight+4))
		d.DrawString(l.text)
	}
	return p.canvas
}

// Draw uploads the panel for this frame and draws it. The slot's fences have been
// waited on, so its image is free to overwrite.
func (p *StatsPanel) Draw(cmd frame.CommandBuffer, frameIndex int) error {
	if frameIndex < 0 || frameIndex >= len(p.slots) {
		return fmt.Errorf("overlay has no slot %d", frameIndex)
	}
	slot := p.slots[frameIndex]
	if err := slot.image.Write(p.Render().Pix); err != nil {
		return core.BackendError("upload overlay", err)
	}
	cmd.SetViewport(p.rect)
	cmd.SetScissor(p.rect)
	cmd.BindDescriptorSet(slot.set)
	cmd.Draw(3, 1, 0, 0)
	return nil
}

func (p *StatsPanel) Rect() frame.Rect {
	return p.rect
}

// Destroy releases the images and the descriptor pool. The device must be idle.
func (p *StatsPanel) Destroy() {
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.slots[i].image.Destroy()
	}
	p.slots = nil
	if p.pool != nil {
		p.pool.Destroy()
		p.pool = nil
	}
}
