package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/park-patrol/internal/model"
	"github.com/timvw/park-patrol/internal/orchestrator"
)

// Card renders a completed check as a bordered card. width <= 0 lets the
// card size itself to its content.
func Card(res *orchestrator.Result, theme Theme, width int) string {
	return renderCard(res, newStyles(theme), width)
}

// ErrorCard renders a failed check.
func ErrorCard(err error, theme Theme, width int) string {
	return renderError(err, newStyles(theme), width)
}

func renderCard(res *orchestrator.Result, st styles, width int) string {
	var lines []string
	d := res.Decision

	if d.CanPark {
		lines = append(lines, st.allowed.Render("✓ You can park here"))
	} else {
		lines = append(lines, st.denied.Render("✗ No parking"))
	}

	if d.CanPark {
		if d.DurationMinutes != nil {
			lines = append(lines, st.text.Render("Up to "+formatMinutes(*d.DurationMinutes)))
		} else {
			lines = append(lines, st.text.Render("No time limit"))
		}
		if d.ValidUntil != nil {
			lines = append(lines, st.text.Render("Move by "+d.ValidUntil.In(res.Context.CurrentTime.Location()).Format("Mon 15:04")))
		}
	}
	if d.Reason != nil {
		lines = append(lines, st.text.Render(*d.Reason))
	}

	if len(d.Restrictions) > 0 {
		lines = append(lines, "", st.title.Render("Restrictions"))
		for _, r := range d.Restrictions {
			lines = append(lines, st.text.Render("• "+r))
		}
	}

	if text := strings.TrimSpace(res.Extraction.Text); text != "" {
		lines = append(lines, "", st.title.Render("Sign"))
		for _, l := range strings.Split(text, "\n") {
			lines = append(lines, st.dim.Render(l))
		}
		if res.Extraction.Confidence == model.ConfidenceLow {
			lines = append(lines, st.warn.Render("Low confidence reading: check the sign yourself."))
		}
	}

	lines = append(lines, "", footer(res, st))
	return frame(st, width).Render(strings.Join(lines, "\n"))
}

func footer(res *orchestrator.Result, st styles) string {
	var parts []string
	if res.VisionProvider != "" {
		p := "vision " + st.accent.Render(res.VisionProvider)
		if res.Cached {
			p += st.dim.Render(" (cached)")
		}
		parts = append(parts, p)
	}
	if res.DecisionProvider != "" {
		parts = append(parts, "decision "+st.accent.Render(res.DecisionProvider))
	}
	if !res.Context.CurrentTime.IsZero() {
		parts = append(parts, st.dim.Render(res.Context.CurrentTime.Format("Mon 15:04")))
	}
	if res.Context.IsHoliday {
		parts = append(parts, st.warn.Render("holiday"))
	}
	return st.dim.Render(strings.Join(parts, st.dim.Render(" · ")))
}

func renderError(err error, st styles, width int) string {
	lines := []string{st.denied.Render("✗ Check failed")}
	kind := model.KindOf(err)
	if kind != "" && kind != model.KindUnknown {
		lines = append(lines, st.dim.Render(string(kind)+" error"))
	}
	lines = append(lines, st.err.Render(firstLine(err.Error())))
	if hint := errorHint(err); hint != "" {
		lines = append(lines, "", st.text.Render(hint))
	}
	return frame(st, width).Render(strings.Join(lines, "\n"))
}

// errorHint suggests what the user can do about err.
func errorHint(err error) string {
	switch {
	case errors.Is(err, model.ErrMissingCredential):
		return "Set an API key (PARK_PATROL_API_KEY) or switch both stages to local."
	case errors.Is(err, model.ErrModelUnavailable):
		return "Configure local_model or switch the decision stage to remote."
	case errors.Is(err, model.ErrProviderUnavailable):
		return "The selected provider cannot run on this machine."
	case errors.Is(err, model.ErrNoTextFound):
		return "No sign text was found. Try a closer, sharper photo."
	case errors.Is(err, model.ErrInvalidImage):
		return "The file is not a readable image."
	}
	return ""
}

func frame(st styles, width int) lipgloss.Style {
	if width > 4 {
		return st.card.Width(width - 2)
	}
	return st.card
}

// formatMinutes renders a duration in minutes as "45 min", "2 h" or "1 h 30 min".
func formatMinutes(m int) string {
	h, rem := m/60, m%60
	switch {
	case h == 0:
		return fmt.Sprintf("%d min", m)
	case rem == 0:
		return fmt.Sprintf("%d h", h)
	default:
		return fmt.Sprintf("%d h %d min", h, rem)
	}
}

// firstLine drops attached raw model output from an error message.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
