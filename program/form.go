package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tui "github.com/charmbracelet/bubbletea"
	styles "github.com/charmbracelet/lipgloss"

	"github.com/keilerkonzept/climate-telemetry-tui/internal/filter"
)

const (
	fieldStartDate = iota
	fieldStartTime
	fieldEndDate
	fieldEndTime
	numFields
)

var fieldLabels = [numFields]string{
	fieldStartDate: "Start date",
	fieldStartTime: "Start time",
	fieldEndDate:   "End date",
	fieldEndTime:   "End time",
}

type formKeyMap struct {
	Next  key.Binding
	Prev  key.Binding
	Apply key.Binding
	Close key.Binding
}

var formKeys = formKeyMap{
	Next:  key.NewBinding(key.WithKeys("tab", "down"), key.WithHelp("tab", "next field")),
	Prev:  key.NewBinding(key.WithKeys("shift+tab", "up"), key.WithHelp("shift+tab", "previous field")),
	Apply: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
	Close: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

// filterForm edits the four optional range bounds.
type filterForm struct {
	open   bool
	focus  int
	inputs [numFields]textinput.Model
	err    string
}

func newFilterForm() filterForm {
	var f filterForm
	for i := range f.inputs {
		ti := textinput.New()
		ti.Prompt = ""
		switch i {
		case fieldStartDate, fieldEndDate:
			ti.Placeholder = "YYYY-MM-DD"
			ti.CharLimit = 10
		default:
			ti.Placeholder = "HH:MM[:SS]"
			ti.CharLimit = 8
		}
		ti.Width = 12
		f.inputs[i] = ti
	}
	return f
}

func (f *filterForm) setWidth(w int) {
	for i := range f.inputs {
		f.inputs[i].Width = max(10, min(20, w-14))
	}
}

// show opens the form prefilled with the active criteria.
func (f *filterForm) show(c filter.Criteria) tui.Cmd {
	f.inputs[fieldStartDate].SetValue(c.StartDate)
	f.inputs[fieldStartTime].SetValue(c.StartTime)
	f.inputs[fieldEndDate].SetValue(c.EndDate)
	f.inputs[fieldEndTime].SetValue(c.EndTime)
	f.open = true
	f.err = ""
	f.focus = fieldStartDate
	return f.refocus()
}

func (f *filterForm) hide() {
	f.open = false
	f.err = ""
	for i := range f.inputs {
		f.inputs[i].Blur()
	}
}

func (f *filterForm) move(delta int) tui.Cmd {
	f.focus = (f.focus + delta + numFields) % numFields
	return f.refocus()
}

func (f *filterForm) refocus() tui.Cmd {
	var cmd tui.Cmd
	for i := range f.inputs {
		if i == f.focus {
			cmd = f.inputs[i].Focus()
			continue
		}
		f.inputs[i].Blur()
	}
	return cmd
}

func (f *filterForm) update(msg tui.Msg) tui.Cmd {
	var cmd tui.Cmd
	f.inputs[f.focus], cmd = f.inputs[f.focus].Update(msg)
	return cmd
}

func (f filterForm) criteria() filter.Criteria {
	return filter.Criteria{
		StartDate: f.inputs[fieldStartDate].Value(),
		StartTime: f.inputs[fieldStartTime].Value(),
		EndDate:   f.inputs[fieldEndDate].Value(),
		EndTime:   f.inputs[fieldEndTime].Value(),
	}
}

func (f filterForm) view() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("FILTER READINGS"))
	b.WriteString("\n\n")
	for i, ti := range f.inputs {
		label := fieldLabels[i]
		if i == f.focus {
			label = selectedFg.Render(label)
		}
		b.WriteString(styles.NewStyle().Width(12).Render(label))
		b.WriteString(" ")
		b.WriteString(ti.View())
		b.WriteString("\n")
	}
	if f.err != "" {
		b.WriteString("\n")
		b.WriteString(errorFg.Render(f.err))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(borderFg.Render("tab next · enter apply · esc cancel"))
	return b.String()
}
