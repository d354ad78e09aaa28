package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/dietplan/internal/types"
)

// minBoxWidth is the narrowest box RenderPlan will draw.
const minBoxWidth = 24

// RenderPlan draws plan inside a box of the given total column width. Width is
// measured in terminal cells, so wide (CJK, emoji) runes count as two.
//
// Expectations:
//   - Every line of the result has the same display width
//   - The header shows "#ID name" and the profile fields the plan was built for
//   - The description is word-wrapped; words wider than the box are hard-split
//   - Widths below minBoxWidth are raised to minBoxWidth
func RenderPlan(p types.Plan, width int) string {
	if width < minBoxWidth {
		width = minBoxWidth
	}
	inner := width - 4

	var sb strings.Builder
	sb.WriteString("┌" + strings.Repeat("─", width-2) + "┐\n")
	row := func(s string) {
		sb.WriteString("│ " + runewidth.FillRight(runewidth.Truncate(s, inner, "…"), inner) + " │\n")
	}
	row(fmt.Sprintf("#%d %s", p.ID, p.Name))
	row(fmt.Sprintf("%s · %s · age %d · %gkg · %gcm · %gkcal",
		p.ForSex, p.DietType, p.Age, p.ForWeight, p.ForHeight, p.CaloricValue))
	sb.WriteString("├" + strings.Repeat("─", width-2) + "┤\n")
	for _, line := range Wrap(p.Description, inner) {
		row(line)
	}
	sb.WriteString("└" + strings.Repeat("─", width-2) + "┘\n")
	return sb.String()
}

// RenderDescription draws a bare description (as returned by a cache lookup)
// in a box of the given width.
func RenderDescription(desc string, width int) string {
	if width < minBoxWidth {
		width = minBoxWidth
	}
	inner := width - 4
	var sb strings.Builder
	sb.WriteString("┌" + strings.Repeat("─", width-2) + "┐\n")
	for _, line := range Wrap(desc, inner) {
		sb.WriteString("│ " + runewidth.FillRight(line, inner) + " │\n")
	}
	sb.WriteString("└" + strings.Repeat("─", width-2) + "┘\n")
	return sb.String()
}

// Wrap breaks s into lines no wider than width display cells. Existing line
// breaks are kept; an empty input yields one empty line.
func Wrap(s string, width int) []string {
	if width <= 0 {
		return []string{s}
	}
	var out []string
	for _, para := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			out = append(out, "")
			continue
		}
		line := ""
		for _, w := range words {
			for runewidth.StringWidth(w) > width {
				if line != "" {
					out = append(out, line)
					line = ""
				}
				head := runewidth.Truncate(w, width, "")
				if head == "" {
					head = string([]rune(w)[:1])
				}
				out = append(out, head)
				w = w[len(head):]
			}
			switch {
			case w == "":
			case line == "":
				line = w
			case runewidth.StringWidth(line)+1+runewidth.StringWidth(w) <= width:
				line += " " + w
			default:
				out = append(out, line)
				line = w
			}
		}
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
