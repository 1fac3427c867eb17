package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var speedUnits = []struct {
	suffix string
	scale  float64
}{
	{"GIB/S", 1 << 30},
	{"MIB/S", 1 << 20},
	{"KIB/S", 1 << 10},
	{"GB/S", 1e9},
	{"MB/S", 1e6},
	{"KB/S", 1e3},
	{"B/S", 1},
}

// parseSpeed turns a display speed such as "2.50MiB/s" into bytes per
// second. Anything it cannot read is zero.
func parseSpeed(s string) float64 {
	s = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	for _, u := range speedUnits {
		if num, ok := strings.CutSuffix(s, u.suffix); ok {
			v, err := strconv.ParseFloat(num, 64)
			if err != nil || v < 0 {
				return 0
			}
			return v * u.scale
		}
	}
	return 0
}

// renderMultiLineGraph draws data as bars filled from the right, over a
// dashed grid. Values are scaled against maxVal.
func renderMultiLineGraph(data []float64, width, height int, maxVal float64, color lipgloss.Color) string {
	if width < 1 || height < 1 {
		return ""
	}
	if maxVal <= 0 {
		maxVal = 1
	}

	gridStyle := lipgloss.NewStyle().Foreground(ColorGray)
	barStyle := lipgloss.NewStyle().Foreground(color)

	rows := make([][]string, height)
	for i := range rows {
		rows[i] = make([]string, width)
		for j := range rows[i] {
			if i%2 == 0 {
				rows[i][j] = gridStyle.Render("╌")
			} else {
				rows[i][j] = " "
			}
		}
	}

	visible := data
	if len(data) > width {
		visible = data[len(data)-width:]
	}

	blocks := []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}
	offset := width - len(visible)

	for x, val := range visible {
		pct := max(val, 0) / maxVal
		if pct > 1 {
			pct = 1
		}
		sub := pct * float64(height) * 8

		for y := 0; y < height; y++ {
			rowValue := sub - float64(y*8)
			if rowValue <= 0 {
				continue // grid shows through
			}
			char := "█"
			if rowValue < 8 {
				char = blocks[int(rowValue)]
			}
			rows[height-1-y][offset+x] = barStyle.Render(char)
		}
	}

	var s strings.Builder
	for i, row := range rows {
		s.WriteString(strings.Join(row, ""))
		if i < height-1 {
			s.WriteRune('\n')
		}
	}
	return s.String()
}
