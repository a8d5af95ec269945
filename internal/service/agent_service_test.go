package service

import (
	"context"
	"testing"

	"estate-smart-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgentService(h *harness) AgentService {
	return NewAgentService(h.agents, h.states, h.chat, h.surfaces.Agent, h.locks, AgentOptions{})
}

func TestAgentAddPropertyFlow(t *testing.T) {
	h := newHarness(t)
	svc := newAgentService(h)
	ctx := context.Background()

	require.NoError(t, svc.SetMode(ctx, 77, model.ModeAddProperty))
	reply, err := svc.HandleMessage(ctx, 77, `{"address":"Chilonzor 5","price":55000,"bedrooms":2,"bathrooms":1,"square_feet":600,"description":"yaxshi"}`)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Property ID: 1")

	props, err := svc.ListProperties(ctx, 77)
	require.NoError(t, err)
	require.Len(t, props, 1)
	assert.Equal(t, "Chilonzor 5", props[0].Address)

	state, err := h.states.Get(ctx, 77)
	require.NoError(t, err)
	assert.Equal(t, model.ModeIdle, state.Mode)
}

func TestAgentMalformedInputReturnsToIdle(t *testing.T) {
	h := newHarness(t)
	svc := newAgentService(h)
	ctx := context.Background()

	require.NoError(t, svc.SetMode(ctx, 78, model.ModeAddClient))
	_, err := svc.HandleMessage(ctx, 78, "Ali, +998901234567")
	assert.ErrorIs(t, err, ErrMalformedInput)

	state, err := h.states.Get(ctx, 78)
	require.NoError(t, err)
	assert.Equal(t, model.ModeIdle, state.Mode)
	clients, err := svc.ListClients(ctx, 78)
	require.NoError(t, err)
	assert.Empty(t, clients)
}

func TestAgentAddClientFlow(t *testing.T) {
	h := newHarness(t)
	svc := newAgentService(h)
	ctx := context.Background()

	require.NoError(t, svc.SetMode(ctx, 79, model.ModeAddClient))
	reply, err := svc.HandleMessage(ctx, 79, `{"name":"Ali","email":"ali@example.com","phone":"+998901234567"}`)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Client ID: 1")
}

func TestAgentIdleMessageUsesRetrieval(t *testing.T) {
	h := newHarness(t)
	svc := newAgentService(h)
	ctx := context.Background()

	reply, err := svc.HandleMessage(ctx, 80, "find a 2 room flat in Chilonzor")
	require.NoError(t, err)
	assert.Equal(t, ActionPropertySearch, reply.Action)
	assert.Equal(t, 1, h.retriever.calls())

	msgs, err := svc.RecentMessages(ctx, 80)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "agent", msgs[0].Sender)
	assert.Equal(t, "property_search", msgs[0].Intent)
	assert.Equal(t, "assistant", msgs[1].Sender)
}

func TestAgentUnknownModeRejected(t *testing.T) {
	h := newHarness(t)
	err := newAgentService(h).SetMode(context.Background(), 81, "prepare_document")
	assert.ErrorIs(t, err, ErrMalformedInput)
}

func TestAgentZeroBalanceBlocksRetrievalButNotRecords(t *testing.T) {
	h := newHarness(t)
	svc := newAgentService(h)
	ctx := context.Background()
	h.setCredits(t, 82, 0)

	_, err := svc.HandleMessage(ctx, 82, "find a 2 room flat in Chilonzor")
	assert.ErrorIs(t, err, ErrNoCreditsRemaining)
	assert.Zero(t, h.retriever.calls())

	prop, err := svc.CreateProperty(ctx, 82, PropertyInput{Address: "Yunusobod 4", Price: 70000, Bedrooms: 3})
	require.NoError(t, err)
	assert.Equal(t, "Yunusobod 4", prop.Address)
	client, err := svc.CreateClient(ctx, 82, ClientInput{Name: "Vali", Phone: "+998901112233"})
	require.NoError(t, err)
	assert.Equal(t, "Vali", client.Name)

	require.NoError(t, svc.SetMode(ctx, 82, model.ModeAddClient))
	reply, err := svc.HandleMessage(ctx, 82, `{"name":"Ali","email":"ali@example.com"}`)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "Client ID:")
	assert.Equal(t, 0, h.credits(t, 82))
}
