package lidar

import (
	"image/color"

	"github.com/fogleman/gg"
	"gonum.org/v1/gonum/spatial/r2"
)

var (
	rayColour = color.RGBA{R: 255, G: 64, B: 64, A: 160}
	hitColour = color.RGBA{R: 255, G: 220, B: 0, A: 255}
)

// Draw draws the rays of the last Scan from origin onto dc, with a dot
// at each point where a ray hit geometry
func (l *Lidar) Draw(dc *gg.Context, origin r2.Vec) {
	dc.SetLineWidth(1.0)
	dc.SetColor(rayColour)
	for _, end := range l.endpoints {
		dc.DrawLine(origin.X, origin.Y, end.X, end.Y)
	}
	dc.Stroke()

	dc.SetColor(hitColour)
	for _, end := range l.endpoints {
		if r2.Norm(r2.Sub(end, origin)) < l.maxDistance-1e-9 {
			dc.DrawCircle(end.X, end.Y, 2)
		}
	}
	dc.Fill()
}
