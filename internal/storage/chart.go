package storage

import (
	"fmt"
	"strings"
)

// TrendPoint is one month on the NDVI trend chart.
type TrendPoint struct {
	Month string
	NDVI  float64
}

const (
	chartWidth   = 720
	chartHeight  = 360
	chartPadding = 48
)

// TrendChartSVG renders the monthly NDVI series as a small SVG line chart
// for the dashboard. The y-axis is fixed to the NDVI range [-0.1, 1.0].
func TrendChartSVG(points []TrendPoint, slope *float64) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		chartWidth, chartHeight, chartWidth, chartHeight)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/>`)

	title := "NDVI Trend"
	if slope != nil {
		title = fmt.Sprintf("NDVI Trend (%+.4f/mo)", *slope)
	}
	fmt.Fprintf(&b, `<text x="%d" y="24" font-family="sans-serif" font-size="14" fill="#333">%s</text>`,
		chartPadding, title)

	plotW := chartWidth - 2*chartPadding
	plotH := chartHeight - 2*chartPadding
	x := func(i int) float64 {
		if len(points) <= 1 {
			return float64(chartPadding)
		}
		return float64(chartPadding) + float64(i)/float64(len(points)-1)*float64(plotW)
	}
	y := func(ndvi float64) float64 {
		// -0.1 at the bottom, 1.0 at the top.
		frac := (ndvi + 0.1) / 1.1
		return float64(chartPadding) + (1-frac)*float64(plotH)
	}

	// Gridlines at 0.0, 0.25, 0.5, 0.75, 1.0.
	for _, g := range []float64{0.0, 0.25, 0.5, 0.75, 1.0} {
		gy := y(g)
		fmt.Fprintf(&b, `<line x1="%d" y1="%.1f" x2="%d" y2="%.1f" stroke="#ddd" stroke-width="1"/>`,
			chartPadding, gy, chartWidth-chartPadding, gy)
		fmt.Fprintf(&b, `<text x="8" y="%.1f" font-family="sans-serif" font-size="10" fill="#888">%.2f</text>`,
			gy+3, g)
	}

	if len(points) > 0 {
		var path strings.Builder
		for i, p := range points {
			cmd := "L"
			if i == 0 {
				cmd = "M"
			}
			fmt.Fprintf(&path, "%s%.1f,%.1f ", cmd, x(i), y(p.NDVI))
		}
		fmt.Fprintf(&b, `<path d="%s" fill="none" stroke="#2e7d32" stroke-width="2"/>`,
			strings.TrimSpace(path.String()))

		for i, p := range points {
			fmt.Fprintf(&b, `<circle cx="%.1f" cy="%.1f" r="3" fill="#2e7d32"/>`, x(i), y(p.NDVI))
			if i == 0 || i == len(points)-1 || i%3 == 0 {
				fmt.Fprintf(&b, `<text x="%.1f" y="%d" font-family="sans-serif" font-size="9" fill="#888" text-anchor="middle">%s</text>`,
					x(i), chartHeight-chartPadding+16, p.Month)
			}
		}
	}

	b.WriteString(`</svg>`)
	return []byte(b.String())
}
