package showplot

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/servoshow/internal/protocol"
	"github.com/banshee-data/servoshow/internal/show"
)

// RenderHTML writes a page with the pulse timeline and a bar chart of frame
// pauses.
func RenderHTML(w io.Writer, s *show.Show) error {
	series := Timeline(s)
	colors := generateColors(len(series))

	xs := make([]string, 0, s.Len())
	var t float64
	for _, f := range s.Frames {
		xs = append(xs, fmt.Sprintf("%.2fs", t/1000))
		t += float64(f.Pause)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: s.Name, Width: "1200px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: s.Name, Subtitle: fmt.Sprintf("frames=%d channels=%d pass=%v", s.Len(), s.Channels, s.Duration())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame start", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Pulse (µs)", Min: protocol.MinPulse - 200, Max: protocol.MaxPulse + 200}),
	)
	line.SetXAxis(xs)
	for i, ser := range series {
		data := make([]opts.LineData, 0, len(ser.Points))
		for _, pt := range ser.Points {
			data = append(data, opts.LineData{Value: pt.PulseUs})
		}
		line.AddSeries(fmt.Sprintf("ch %d", ser.Channel), data,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorHex(colors[i])}),
			charts.WithLineStyleOpts(opts.LineStyle{Color: colorHex(colors[i])}),
		)
	}

	pauses := make([]opts.BarData, 0, s.Len())
	for _, f := range s.Frames {
		pauses = append(pauses, opts.BarData{Value: f.Pause})
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{Title: "Pause per frame (ms)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(xs).AddSeries("pause", pauses)

	page := components.NewPage()
	page.AddCharts(line, bar)
	return page.Render(w)
}
