package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/romakot321/higgsfieldai-api/internals/schemas"
)

const (
	fieldPrompt = iota
	fieldModel
	fieldWebhook
)

type newTaskModel struct {
	inputs    []textinput.Model
	focus     int
	submitted bool
	cancelled bool
	err       string
}

// RunNewTaskForm asks for a prompt, model and webhook. It reports false when
// the user cancelled.
func RunNewTaskForm() (schemas.TaskCreateRequest, bool, error) {
	program := tea.NewProgram(newNewTaskModel())
	result, err := program.Run()
	if err != nil {
		return schemas.TaskCreateRequest{}, false, err
	}
	finalModel, ok := result.(newTaskModel)
	if !ok || finalModel.cancelled || !finalModel.submitted {
		return schemas.TaskCreateRequest{}, false, nil
	}
	return finalModel.request(), true, nil
}

func newNewTaskModel() newTaskModel {
	prompt := textinput.New()
	prompt.Prompt = "Prompt: "
	prompt.CharLimit = 2000

	model := textinput.New()
	model.Prompt = "Model (optional): "

	webhook := textinput.New()
	webhook.Prompt = "Webhook URL (optional): "

	inputs := []textinput.Model{prompt, model, webhook}
	inputs[fieldPrompt].Focus()
	return newTaskModel{inputs: inputs}
}

func (m newTaskModel) request() schemas.TaskCreateRequest {
	request := schemas.TaskCreateRequest{
		Prompt: strings.TrimSpace(m.inputs[fieldPrompt].Value()),
		Model:  strings.TrimSpace(m.inputs[fieldModel].Value()),
	}
	if webhook := strings.TrimSpace(m.inputs[fieldWebhook].Value()); webhook != "" {
		request.WebhookURL = &webhook
	}
	return request
}

func (m newTaskModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m newTaskModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.cancelled = true
			return m, tea.Quit
		case "tab", "down":
			return m.moveFocus(1)
		case "shift+tab", "up":
			return m.moveFocus(-1)
		case "enter":
			if m.focus != len(m.inputs)-1 {
				return m.moveFocus(1)
			}
			if strings.TrimSpace(m.inputs[fieldPrompt].Value()) == "" {
				m.err = "prompt is required"
				m.inputs[m.focus].Blur()
				m.focus = fieldPrompt
				return m, m.inputs[fieldPrompt].Focus()
			}
			m.submitted = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m newTaskModel) View() string {
	lines := []string{"New task", ""}
	for i, input := range m.inputs {
		marker := " "
		if i == m.focus {
			marker = ">"
		}
		lines = append(lines, fmt.Sprintf("%s %s", marker, input.View()))
	}
	if m.err != "" {
		lines = append(lines, "", "! "+m.err)
	}
	lines = append(lines, "", "Tab: next field  Enter: submit  Ctrl+C: cancel")
	return strings.Join(lines, "\n")
}

func (m newTaskModel) moveFocus(delta int) (tea.Model, tea.Cmd) {
	m.inputs[m.focus].Blur()
	count := len(m.inputs)
	m.focus = (m.focus + delta + count) % count
	return m, m.inputs[m.focus].Focus()
}
