package showplot

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
)

// RenderPNG draws one line per channel, pulse over time, with the controller's
// pulse limits as dashed guides.
func RenderPNG(w io.Writer, s *show.Show) error {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - %d frames, %v per pass", s.Name, s.Len(), s.Duration())
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Pulse (µs)"

	series := Timeline(s)
	colors := generateColors(len(series))

	var end float64
	for i, ser := range series {
		if len(ser.Points) == 0 {
			continue
		}
		pts := make(plotter.XYs, 0, len(ser.Points))
		for _, pt := range ser.Points {
			pts = append(pts, plotter.XY{X: pt.TimeMs / 1000, Y: pt.PulseUs})
			if pt.TimeMs/1000 > end {
				end = pt.TimeMs / 1000
			}
		}

		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.Color = colors[i]
		points.Radius = vg.Points(1.5)
		p.Add(line, points)
		p.Legend.Add(fmt.Sprintf("ch %d", ser.Channel), line)
	}

	if end == 0 {
		end = 1
	}
	for _, limit := range []float64{protocol.MinPulse, protocol.MaxPulse} {
		guide, err := plotter.NewLine(plotter.XYs{{X: 0, Y: limit}, {X: end, Y: limit}})
		if err != nil {
			return err
		}
		guide.Color = color.Gray{Y: 160}
		guide.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(guide)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// generateColors creates a palette of distinct colors, one per channel
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}

// colorHex renders c as #rrggbb for the HTML charts.
func colorHex(c color.Color) string {
	r, g, b, _ := c.RGBA()
	return fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8)
}
