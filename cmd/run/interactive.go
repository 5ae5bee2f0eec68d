package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/component-host/contract"
	"github.com/wippyai/component-host/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	typeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4"))

	resultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

type interactiveModel struct {
	sess     *session.Session
	comps    []session.ComponentInfo
	funcs    []funcInfo
	inputs   []textinput.Model
	result   string
	err      error
	compIdx  int
	selected int
	focusIdx int
	state    modelState
}

type funcInfo struct {
	iface string
	decl  *contract.Function
}

type modelState int

const (
	stateSelectComponent modelState = iota
	stateSelectFunc
	stateInputArgs
	stateShowResult
)

func newInteractiveModel(sess *session.Session) *interactiveModel {
	return &interactiveModel{
		sess:  sess,
		comps: sess.Components(),
		state: stateSelectComponent,
	}
}

type callResultMsg struct {
	result string
	err    error
}

func (m *interactiveModel) Init() tea.Cmd {
	return nil
}

func (m *interactiveModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "q":
			if m.state != stateInputArgs {
				return m, tea.Quit
			}

		case "up", "k":
			switch m.state {
			case stateSelectComponent:
				if m.compIdx > 0 {
					m.compIdx--
				}
			case stateSelectFunc:
				if m.selected > 0 {
					m.selected--
				}
			}

		case "down", "j":
			switch m.state {
			case stateSelectComponent:
				if m.compIdx < len(m.comps)-1 {
					m.compIdx++
				}
			case stateSelectFunc:
				if m.selected < len(m.funcs)-1 {
					m.selected++
				}
			}

		case "enter":
			switch m.state {
			case stateSelectComponent:
				if len(m.comps) == 0 {
					return m, nil
				}
				m.prepareFuncs()
				m.state = stateSelectFunc

			case stateSelectFunc:
				if len(m.funcs) == 0 {
					return m, nil
				}
				m.prepareInputs()
				if len(m.inputs) == 0 {
					return m, m.callFunction
				}
				m.state = stateInputArgs

			case stateInputArgs:
				return m, m.callFunction

			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}

		case "tab":
			if m.state == stateInputArgs && len(m.inputs) > 1 {
				m.inputs[m.focusIdx].Blur()
				m.focusIdx = (m.focusIdx + 1) % len(m.inputs)
				m.inputs[m.focusIdx].Focus()
			}

		case "esc":
			switch m.state {
			case stateSelectFunc:
				m.state = stateSelectComponent
				m.funcs = nil
				m.selected = 0
			case stateInputArgs:
				m.state = stateSelectFunc
				m.inputs = nil
			case stateShowResult:
				m.state = stateSelectFunc
				m.result = ""
				m.err = nil
			}
		}

	case callResultMsg:
		m.result = msg.result
		m.err = msg.err
		m.state = stateShowResult
	}

	if m.state == stateInputArgs {
		var cmds []tea.Cmd
		for i := range m.inputs {
			var cmd tea.Cmd
			m.inputs[i], cmd = m.inputs[i].Update(msg)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m *interactiveModel) prepareFuncs() {
	info := m.comps[m.compIdx]
	m.funcs = nil
	for i := range info.Exports {
		iface := &info.Exports[i]
		for j := range iface.Funcs {
			m.funcs = append(m.funcs, funcInfo{iface: iface.String(), decl: &iface.Funcs[j]})
		}
	}
	m.selected = 0
}

func (m *interactiveModel) prepareInputs() {
	f := m.funcs[m.selected]
	m.inputs = make([]textinput.Model, len(f.decl.Params))
	for i, p := range f.decl.Params {
		ti := textinput.New()
		ti.Placeholder = contract.TypeName(p.Type)
		ti.Prompt = p.Name + ": "
		ti.Width = 40
		if i == 0 {
			ti.Focus()
		}
		m.inputs[i] = ti
	}
	m.focusIdx = 0
}

func (m *interactiveModel) callFunction() tea.Msg {
	f := m.funcs[m.selected]
	args := make([]any, len(m.inputs))
	for i, input := range m.inputs {
		v, err := convertArg(input.Value(), f.decl.Params[i].Type)
		if err != nil {
			return callResultMsg{err: fmt.Errorf("argument %s: %w", f.decl.Params[i].Name, err)}
		}
		args[i] = v
	}

	result, err := m.sess.Invoke(context.Background(), m.comps[m.compIdx].Name, f.decl.Name, args...)
	if err != nil {
		return callResultMsg{err: err}
	}
	return callResultMsg{result: fmt.Sprintf("%v", result)}
}

func (m *interactiveModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Component Host"))
	if m.state != stateSelectComponent && len(m.comps) > 0 {
		b.WriteString(" ")
		b.WriteString(m.comps[m.compIdx].Name)
	}
	b.WriteString("\n\n")

	switch m.state {
	case stateSelectComponent:
		if len(m.comps) == 0 {
			b.WriteString("No exposed components.\n\n")
			b.WriteString(helpStyle.Render("q quit"))
			break
		}
		b.WriteString("Select a component:\n\n")
		for i, c := range m.comps {
			line := c.Name + " " + typeStyle.Render(c.Location)
			if i == m.compIdx {
				b.WriteString(selectedStyle.Render("> " + line))
			} else {
				b.WriteString("  " + line)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter open • q quit"))

	case stateSelectFunc:
		if len(m.funcs) == 0 {
			b.WriteString("No exported functions.\n\n")
			b.WriteString(helpStyle.Render("esc back • q quit"))
			break
		}
		b.WriteString("Select a function to call:\n\n")
		for i, f := range m.funcs {
			if i == m.selected {
				b.WriteString(selectedStyle.Render("> " + m.formatFunc(f)))
			} else {
				b.WriteString("  " + m.formatFunc(f))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("↑/↓ select • enter call • esc back • q quit"))

	case stateInputArgs:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Calling %s\n\n", funcStyle.Render(f.decl.Name)))
		for i, input := range m.inputs {
			b.WriteString(input.View())
			b.WriteString(" ")
			b.WriteString(typeStyle.Render(contract.TypeName(f.decl.Params[i].Type)))
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("tab next field • enter call • esc back"))

	case stateShowResult:
		f := m.funcs[m.selected]
		b.WriteString(fmt.Sprintf("Result of %s:\n\n", funcStyle.Render(f.decl.Name)))
		if m.err != nil {
			b.WriteString(errorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		} else {
			b.WriteString(resultStyle.Render(m.result))
		}
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("enter continue • q quit"))
	}

	return b.String()
}

func (m *interactiveModel) formatFunc(f funcInfo) string {
	var params []string
	for _, p := range f.decl.Params {
		params = append(params, p.Name+": "+typeStyle.Render(contract.TypeName(p.Type)))
	}
	result := ""
	if len(f.decl.Results) > 0 {
		result = " -> " + typeStyle.Render(contract.TypeName(f.decl.Results[0]))
	}
	return funcStyle.Render(f.decl.Name) + "(" + strings.Join(params, ", ") + ")" + result
}

func runInteractive(sess *session.Session) error {
	p := tea.NewProgram(newInteractiveModel(sess), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
