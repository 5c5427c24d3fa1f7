package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
)

func TestResolveCreatesContactAndTicket(t *testing.T) {
	e := newPipelineEnv()

	m := inboundText("R1", "5511999996001", "oi")
	m.SenderJID = "5511999996001:12@s.whatsapp.net" // device-suffixed sender

	contact, ticket, err := e.resolver.Resolve(m)
	require.NoError(t, err)
	assert.Equal(t, "5511999996001", contact.Number)
	assert.Equal(t, "Maria", contact.Name)

	assert.Equal(t, models.TicketOpen, ticket.Status)
	assert.True(t, ticket.IsBot)
	assert.Contains(t, e.notify.tickets, "create")
}

func TestResolveReusesActiveTicket(t *testing.T) {
	e := newPipelineEnv()

	_, first, err := e.resolver.Resolve(inboundText("R2", "5511999996002", "oi"))
	require.NoError(t, err)
	_, second, err := e.resolver.Resolve(inboundText("R3", "5511999996002", "alguém aí?"))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
}

func TestResolveReusesNPSTicket(t *testing.T) {
	e := newPipelineEnv()

	contact, ticket, err := e.resolver.Resolve(inboundText("R4", "5511999996003", "oi"))
	require.NoError(t, err)
	ticket.Status = models.TicketNPS
	require.NoError(t, e.tickets.Update(ticket))

	_, again, err := e.resolver.Resolve(inboundText("R5", "5511999996003", "9"))
	require.NoError(t, err)
	assert.Equal(t, ticket.ID, again.ID)
	assert.Equal(t, contact.ID, again.ContactID)
}

func TestResolveNewTicketAfterClose(t *testing.T) {
	e := newPipelineEnv()

	_, ticket, err := e.resolver.Resolve(inboundText("R6", "5511999996004", "oi"))
	require.NoError(t, err)
	ticket.Status = models.TicketClosed
	require.NoError(t, e.tickets.Update(ticket))

	_, fresh, err := e.resolver.Resolve(inboundText("R7", "5511999996004", "voltei"))
	require.NoError(t, err)
	assert.NotEqual(t, ticket.ID, fresh.ID)
	assert.Equal(t, models.TicketOpen, fresh.Status)
}

func TestResolveGroupKeyedByGroupJID(t *testing.T) {
	e := newPipelineEnv()

	m := &InboundMessage{
		ID:         "R8",
		ChatJID:    "120363040@g.us",
		SenderJID:  "5511999996005@s.whatsapp.net",
		SenderName: "Grupo da firma",
		IsGroup:    true,
		Kind:       KindChat,
		Body:       "bom dia",
		Timestamp:  time.Now(),
	}
	contact, ticket, err := e.resolver.Resolve(m)
	require.NoError(t, err)
	assert.Equal(t, "120363040@g.us", contact.Number)
	assert.True(t, contact.IsGroup)
	assert.False(t, ticket.IsBot)
}

func TestResolveFromMeStartsWithoutBot(t *testing.T) {
	e := newPipelineEnv()

	m := inboundText("R9", "5511999996006", "")
	m.FromMe = true
	_, ticket, err := e.resolver.Resolve(m)
	require.NoError(t, err)
	assert.False(t, ticket.IsBot)
	assert.Equal(t, 0, ticket.UnreadMessages)
}
