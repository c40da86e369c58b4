package tui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func typeText(t *testing.T, m newTaskModel, text string) newTaskModel {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(text)})
	return next.(newTaskModel)
}

func press(t *testing.T, m newTaskModel, key tea.KeyType) newTaskModel {
	t.Helper()
	next, _ := m.Update(tea.KeyMsg{Type: key})
	return next.(newTaskModel)
}

func TestNewTaskFormSubmits(t *testing.T) {
	m := newNewTaskModel()
	m = typeText(t, m, "a fox")
	m = press(t, m, tea.KeyEnter)
	m = typeText(t, m, "soul")
	m = press(t, m, tea.KeyTab)
	m = typeText(t, m, "https://example.com/hook")
	m = press(t, m, tea.KeyEnter)

	if !m.submitted {
		t.Fatalf("expected form to be submitted")
	}
	request := m.request()
	if request.Prompt != "a fox" || request.Model != "soul" {
		t.Fatalf("unexpected request %+v", request)
	}
	if request.WebhookURL == nil || *request.WebhookURL != "https://example.com/hook" {
		t.Fatalf("unexpected webhook %v", request.WebhookURL)
	}
}

func TestNewTaskFormRequiresPrompt(t *testing.T) {
	m := newNewTaskModel()
	m = press(t, m, tea.KeyShiftTab)
	if m.focus != fieldWebhook {
		t.Fatalf("expected focus to wrap to the last field, got %d", m.focus)
	}
	m = press(t, m, tea.KeyEnter)

	if m.submitted {
		t.Fatalf("expected submit to be refused")
	}
	if m.focus != fieldPrompt || !strings.Contains(m.View(), "prompt is required") {
		t.Fatalf("expected prompt error, focus=%d view=%q", m.focus, m.View())
	}
	if m.request().WebhookURL != nil {
		t.Fatalf("expected empty webhook to be omitted")
	}
}

func TestNewTaskFormCancel(t *testing.T) {
	m := press(t, newNewTaskModel(), tea.KeyEsc)
	if !m.cancelled {
		t.Fatalf("expected cancel")
	}
}
