// Package render draws hud.Frames as text. Elements are independent: each one
// reads the frame it is handed and never talks to the feed or the manager.
package render

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"stratux-hud/internal/hud"
)

type Element interface {
	Name() string
	Render(f hud.Frame) string
}

type Theme struct {
	Text    lipgloss.AdaptiveColor
	Dim     lipgloss.AdaptiveColor
	Warning lipgloss.AdaptiveColor
	Border  lipgloss.AdaptiveColor
}

var DefaultTheme = Theme{
	Text:    lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"},
	Dim:     lipgloss.AdaptiveColor{Light: "#969B86", Dark: "#696969"},
	Warning: lipgloss.AdaptiveColor{Light: "#B8860B", Dark: "#FFD700"},
	Border:  lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"},
}

// DefaultElements is the standard layout, top to bottom.
func DefaultElements(theme Theme) []Element {
	return []Element{
		TargetCount{Theme: theme},
		TrafficIndicators{Width: 61},
		ClosestTraffic{Theme: theme},
		Attitude{Theme: theme},
	}
}

// TargetCount shows how many live targets the manager holds.
type TargetCount struct{ Theme Theme }

func (TargetCount) Name() string { return "target_count" }

func (e TargetCount) Render(f hud.Frame) string {
	return lipgloss.NewStyle().Bold(true).Foreground(e.Theme.Text).Render(f.CountText)
}

// ClosestTraffic lists the closest targets in display units.
type ClosestTraffic struct{ Theme Theme }

func (ClosestTraffic) Name() string { return "closest_traffic" }

func (e ClosestTraffic) Render(f hud.Frame) string {
	if !f.OwnshipValid {
		return lipgloss.NewStyle().Foreground(e.Theme.Warning).Render("NO OWNSHIP POSITION")
	}
	if len(f.Closest) == 0 {
		return ""
	}

	u := f.Units
	rows := make([]table.Row, 0, len(f.Closest))
	for _, t := range f.Closest {
		rows = append(rows, table.Row{
			t.Name,
			fmt.Sprintf("%.1f%s", t.Distance, u.DistanceSuffix()),
			fmt.Sprintf("%03.0f", t.BearingDeg),
			optional(t.HasRelAltitude, func() string { return signed(t.RelAltitude) }),
			optional(t.HasSpeed, func() string { return fmt.Sprintf("%.0f", t.Speed) }),
			optional(t.HasHeading, func() string { return fmt.Sprintf("%03.0f", t.HeadingDeg) }),
			optional(t.HasVvel, func() string { return verticalTrend(t.VvelFpm) }),
		})
	}

	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(e.Theme.Border).
		BorderBottom(true).
		Bold(true)
	styles.Selected = lipgloss.NewStyle()

	tbl := table.New(
		table.WithColumns([]table.Column{
			{Title: "TGT", Width: 8},
			{Title: "DST", Width: 8},
			{Title: "BRG", Width: 4},
			{Title: "REL " + u.AltitudeSuffix(), Width: 7},
			{Title: "SPD " + u.SpeedSuffix(), Width: 8},
			{Title: "HDG", Width: 4},
			{Title: "VS", Width: 2},
		}),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+3),
		table.WithStyles(styles),
	)
	return tbl.View()
}

func optional(ok bool, format func() string) string {
	if !ok {
		return "---"
	}
	return format()
}

func signed(v float64) string {
	return fmt.Sprintf("%+.0f", math.Round(v))
}

// verticalTrend matches the climb/descent arrows on the traffic symbols.
func verticalTrend(fpm float64) string {
	switch {
	case fpm >= 500:
		return "^"
	case fpm <= -500:
		return "v"
	default:
		return "-"
	}
}

// TrafficIndicators places each closest target on a strip spanning the field
// of view (+/-90 degrees off the nose). Targets outside it are pinned to the
// edge with an arrow.
type TrafficIndicators struct {
	Width int
}

func (TrafficIndicators) Name() string { return "traffic_indicators" }

func (e TrafficIndicators) Render(f hud.Frame) string {
	w := e.Width
	if w < 9 {
		w = 9
	}
	if w%2 == 0 {
		w++
	}
	strip := []rune(strings.Repeat("-", w))
	center := w / 2
	strip[center] = '|'
	if !f.OwnshipValid {
		return string(strip)
	}

	// Walk farthest first so the closest target wins a shared column.
	for i := len(f.Closest) - 1; i >= 0; i-- {
		rel := f.Closest[i].RelativeBearingDeg
		mark := rune('1' + i)
		if i > 8 {
			mark = '*'
		}
		switch {
		case rel < -90:
			strip[0] = '<'
		case rel > 90:
			strip[w-1] = '>'
		default:
			col := center + int(math.Round(rel/90*float64(center)))
			strip[col] = mark
		}
	}
	return string(strip)
}

// Attitude is the text artificial horizon: heading, roll, pitch and slip.
type Attitude struct{ Theme Theme }

func (Attitude) Name() string { return "attitude" }

func (e Attitude) Render(f hud.Frame) string {
	hdg := "HDG ---"
	if f.HeadingValid {
		hdg = fmt.Sprintf("HDG %03.0f", f.HeadingDeg)
	}
	alt := "ALT -----"
	if f.AltValid {
		alt = fmt.Sprintf("ALT %5.0f%s", f.Units.Altitude(f.AltFeet), f.Units.AltitudeSuffix())
	}
	if !f.AttitudeValid {
		warn := lipgloss.NewStyle().Foreground(e.Theme.Warning).Render("AHRS FAIL")
		return lipgloss.JoinHorizontal(lipgloss.Top, hdg, "  ", alt, "  ", warn)
	}
	a := f.Attitude
	text := fmt.Sprintf("%s  %s  ROLL %+4.0f  PITCH %+4.0f  SLIP %+4.1f", hdg, alt, a.RollDeg, a.PitchDeg, a.YawDeg)
	return lipgloss.JoinVertical(lipgloss.Left, text, Horizon(a.RollDeg, 41))
}

// Horizon draws a one-line horizon bar tilted by roll.
func Horizon(rollDeg float64, width int) string {
	if width < 5 {
		width = 5
	}
	var glyph string
	switch {
	case rollDeg > 5:
		glyph = `\`
	case rollDeg < -5:
		glyph = "/"
	default:
		glyph = "="
	}
	side := strings.Repeat(glyph, (width-3)/2)
	return side + "-o-" + side
}

// Compose stacks the elements and applies the display flips.
func Compose(f hud.Frame, elements []Element) string {
	parts := make([]string, 0, len(elements))
	for _, e := range elements {
		if s := e.Render(f); s != "" {
			parts = append(parts, s)
		}
	}
	out := lipgloss.JoinVertical(lipgloss.Left, parts...)
	if f.FlipHorizontal || f.FlipVertical {
		out = flip(out, f.FlipHorizontal, f.FlipVertical)
	}
	return out
}

// flip mirrors the block for projection onto a combiner glass. Styling is
// dropped since escape sequences cannot be reversed.
func flip(block string, horizontal, vertical bool) string {
	lines := strings.Split(ansi.Strip(block), "\n")
	width := 0
	for _, l := range lines {
		width = max(width, lipgloss.Width(l))
	}
	for i, l := range lines {
		if horizontal {
			r := []rune(l + strings.Repeat(" ", width-lipgloss.Width(l)))
			for a, b := 0, len(r)-1; a < b; a, b = a+1, b-1 {
				r[a], r[b] = r[b], r[a]
			}
			l = strings.TrimRight(string(r), " ")
		}
		lines[i] = l
	}
	if vertical {
		for a, b := 0, len(lines)-1; a < b; a, b = a+1, b-1 {
			lines[a], lines[b] = lines[b], lines[a]
		}
	}
	return strings.Join(lines, "\n")
}
