package flappy

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/samuelfneumann/flappydqn/environment"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	skyColour    = color.RGBA{R: 78, G: 192, B: 202, A: 255}
	groundColour = color.RGBA{R: 222, G: 216, B: 149, A: 255}
	pipeColour   = color.RGBA{R: 115, G: 191, B: 46, A: 255}
	pipeEdge     = color.RGBA{R: 84, G: 56, B: 71, A: 255}
	birdColour   = color.RGBA{R: 250, G: 200, B: 40, A: 255}
	textColour   = color.White
)

var _ environment.Renderer = &Flappy{}

// Render implements the environment.Renderer interface. If overlay is
// true, the rays of the last lidar scan are drawn from the bird.
func (f *Flappy) Render(overlay bool) image.Image {
	dc := gg.NewContext(int(Width), int(Height))
	dc.SetColor(skyColour)
	dc.Clear()

	// Pipes
	for _, p := range f.pipes {
		for _, b := range [2]r2.Box{pipeBox(p.upper), pipeBox(p.lower)} {
			dc.DrawRectangle(b.Min.X, b.Min.Y, b.Max.X-b.Min.X,
				b.Max.Y-b.Min.Y)
		}
	}
	dc.SetColor(pipeColour)
	dc.FillPreserve()
	dc.SetColor(pipeEdge)
	dc.SetLineWidth(2)
	dc.Stroke()

	// Ground
	dc.DrawRectangle(0, GroundY, Width, BaseHeight)
	dc.SetColor(groundColour)
	dc.Fill()

	if overlay {
		f.sensor.Draw(dc, f.birdCentre())
	}

	// Bird
	centre := f.birdCentre()
	dc.Push()
	dc.RotateAbout(gg.Radians(f.tilt), centre.X, centre.Y)
	dc.DrawRectangle(centre.X-BirdWidth/2, centre.Y-BirdHeight/2, BirdWidth,
		BirdHeight)
	dc.SetColor(birdColour)
	dc.Fill()
	dc.Pop()

	dc.SetColor(textColour)
	dc.DrawStringAnchored(fmt.Sprint(f.state.Score), Width/2, 30, 0.5, 0.5)

	return dc.Image()
}

// SavePNG renders the environment and saves the frame to path
func (f *Flappy) SavePNG(path string, overlay bool) error {
	if err := gg.SavePNG(path, f.Render(overlay)); err != nil {
		return fmt.Errorf("savepng: %w", err)
	}
	return nil
}
