package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"estate-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevanceGateFailsClosed(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"Yes", true},
		{" yes.\n", false},
		{"YES.", false},
		{"YES", true},
		{"  yes\n", true},
		{"Maybe", false},
		{"Yes, it is", false},
		{"No", false},
		{"", false},
	}
	for _, c := range cases {
		f := newFakeLLM()
		f.set(gateInstruction, func(string) (string, error) { return c.answer, nil })
		got, err := NewRelevanceGate(f, gateInstruction, time.Second).IsRelevant(context.Background(), "uy kerak")
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "answer %q", c.answer)
	}
}

func TestRelevanceGateUpstreamError(t *testing.T) {
	f := newFakeLLM()
	f.set(gateInstruction, func(string) (string, error) { return "", errors.New("timeout") })
	got, err := NewRelevanceGate(f, gateInstruction, time.Second).IsRelevant(context.Background(), "uy kerak")
	assert.False(t, got)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, 1, f.count(gateInstruction))
}

func TestRefinerUsesRecentHistoryOnly(t *testing.T) {
	f := newFakeLLM()
	var prompt string
	f.set(refineInstruction, func(user string) (string, error) {
		prompt = user
		return "Chilonzorda 2 xonali kvartira, 50000 dollargacha", nil
	})
	history := []model.ChatMessage{
		{Role: model.RoleUser, Content: "eski savol"},
		{Role: model.RoleAssistant, Content: "eski javob"},
		{Role: model.RoleUser, Content: "Chilonzor"},
		{Role: model.RoleAssistant, Content: "Natijalar yuborildi"},
		{Role: model.RoleUser, Content: "2 xonali"},
		{Role: model.RoleAssistant, Content: "Natijalar yuborildi"},
	}
	got, err := NewQueryRefiner(f, refineInstruction, 4, time.Second).Refine(context.Background(), "arzonroq", history)
	require.NoError(t, err)
	assert.Equal(t, "Chilonzorda 2 xonali kvartira, 50000 dollargacha", got)
	assert.NotContains(t, prompt, "eski")
	assert.Contains(t, prompt, "User: Chilonzor\nBot: Natijalar yuborildi\nUser: 2 xonali")
	assert.Contains(t, prompt, "Query: arzonroq")
}

func TestRefinerEmptyReplyReturnsRawQuery(t *testing.T) {
	f := newFakeLLM()
	f.set(refineInstruction, func(string) (string, error) { return "\n ", nil })
	got, err := NewQueryRefiner(f, refineInstruction, 4, time.Second).Refine(context.Background(), "uy", nil)
	require.NoError(t, err)
	assert.Equal(t, "uy", got)
}
