package runner

import (
	"fmt"
	"strings"
)

var areaTitles = [areaCount]string{"Values", "Targets", "Open sessions"}

// View renders the runner screen.
func (m *model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(m.workflow.Title))
	b.WriteString("\n")
	if m.workflow.Desc != "" {
		b.WriteString(descStyle.Render(m.workflow.Desc))
		b.WriteString("\n")
	}

	if len(m.fields) > 0 {
		b.WriteString(m.sectionTitle(areaFields))
		b.WriteString("\n")
		labelWidth := 0
		for _, f := range m.fields {
			labelWidth = max(labelWidth, len(label(f)))
		}
		for i, f := range m.fields {
			b.WriteString(m.marker(areaFields, i))
			b.WriteString(itemStyle.Render(fmt.Sprintf("%-*s ", labelWidth, label(f))))
			b.WriteString(f.input.View())
			b.WriteString("\n")
		}
	}

	b.WriteString(m.sectionTitle(areaTargets))
	b.WriteString("\n")
	if len(m.targets) == 0 {
		b.WriteString(descStyle.Render("  No page workflows are bound to this workflow."))
		b.WriteString("\n")
	}
	for i, pw := range m.targets {
		b.WriteString(m.marker(areaTargets, i))
		b.WriteString(itemStyle.Render(title(pw)))
		if pw.Title != "" {
			b.WriteString(descStyle.Render("  " + pw.URL))
		}
		b.WriteString("\n")
	}

	b.WriteString(m.sectionTitle(areaSessions))
	b.WriteString("\n")
	if len(m.sessions) == 0 {
		b.WriteString(descStyle.Render("  None yet. Select a target and press enter."))
		b.WriteString("\n")
	}
	for i, s := range m.sessions {
		b.WriteString(m.marker(areaSessions, i))
		b.WriteString(itemStyle.Render(title(s.pageWorkflow)))
		b.WriteString(descStyle.Render("  " + s.id))
		b.WriteString("\n")
	}

	if len(m.results) > 0 {
		b.WriteString(sectionStyle.Render("Last run"))
		b.WriteString("\n")
		for _, r := range m.results {
			style := errorStyle
			if r.ok {
				style = okStyle
			}
			b.WriteString("  ")
			b.WriteString(style.Render(r.text))
			b.WriteString("\n")
		}
	}

	b.WriteString(helpStyle.Render(m.help()))
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	return b.String()
}

func label(f field) string {
	if f.step.Desc != "" {
		return f.step.Desc
	}
	return f.step.ID
}

func (m *model) sectionTitle(a area) string {
	if m.area == a {
		return activeSectionStyle.Render(areaTitles[a])
	}
	return sectionStyle.Render(areaTitles[a])
}

func (m *model) marker(a area, i int) string {
	if m.area == a && m.cursor[a] == i {
		return cursorStyle.Render("› ")
	}
	return "  "
}

func (m *model) help() string {
	switch m.area {
	case areaFields:
		return "tab next section • ↑/↓ move • ctrl+r run • esc quit"
	case areaTargets:
		return "enter open • tab next section • ctrl+r run • q quit"
	default:
		return "enter focus • x close • c copy url • ctrl+r run • q quit"
	}
}

func (m *model) statusBar() string {
	text := m.status
	if m.busy {
		text = m.spinner.View() + " " + text
	}
	if m.statusErr {
		return statusBarStyle.Render(errorStyle.Render(text))
	}
	return statusBarStyle.Render(text)
}
