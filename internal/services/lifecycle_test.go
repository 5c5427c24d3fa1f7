package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
)

func TestSweepInactiveClosesAbandonedTicket(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }
	e.settings.settings.InactivityMinutes = 30
	e.settings.settings.InactivityMessage = "Encerramos por inatividade."
	e.settings.settings.FarewellMessage = "Até logo!"

	_, ticket := e.seedConversation("5511999994001")
	require.NoError(t, e.messages.Save(&models.Message{
		WAMessageID: "LAST1",
		TicketID:    ticket.ID,
		SectorID:    1,
		Body:        "Posso ajudar em algo mais?",
		FromMe:      true,
		Timestamp:   now.Add(-2 * time.Hour),
	}))

	e.lifecycle.SweepInactive(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketClosed, stored.Status)
	assert.False(t, stored.IsBot)
	assert.Equal(t, 0, stored.UnreadMessages)
	assert.Contains(t, e.provider.sentBodies(), BotMarker+"Encerramos por inatividade.")
	assert.Contains(t, e.provider.sentBodies(), BotMarker+"Até logo!")
	assert.Contains(t, e.notify.tickets, "remove")
}

func TestSweepInactiveSkipsWhenContactSpokeLast(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }
	e.settings.settings.InactivityMinutes = 30

	_, ticket := e.seedConversation("5511999994002")
	require.NoError(t, e.messages.Save(&models.Message{
		WAMessageID: "LAST2",
		TicketID:    ticket.ID,
		SectorID:    1,
		Body:        "ainda estou aqui",
		Timestamp:   now.Add(-2 * time.Hour),
	}))

	e.lifecycle.SweepInactive(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketOpen, stored.Status)
}

func TestSweepInactiveSkipsRecentReply(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }
	e.settings.settings.InactivityMinutes = 30

	_, ticket := e.seedConversation("5511999994003")
	require.NoError(t, e.messages.Save(&models.Message{
		WAMessageID: "LAST3",
		TicketID:    ticket.ID,
		SectorID:    1,
		FromMe:      true,
		Timestamp:   now.Add(-10 * time.Minute),
	}))

	e.lifecycle.SweepInactive(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketOpen, stored.Status)
}

func TestSweepInactiveDisabledByDefault(t *testing.T) {
	e := newPipelineEnv()
	_, ticket := e.seedConversation("5511999994004")

	e.lifecycle.SweepInactive(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketOpen, stored.Status)
	assert.Empty(t, e.provider.sent)
}

func TestSweepInactiveOpensRating(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }
	e.settings.settings.InactivityMinutes = 30
	e.settings.settings.RatingEnabled = true
	e.settings.settings.RatingMessage = "De 0 a 10, como foi o atendimento?"

	_, ticket := e.seedConversation("5511999994005")
	ticket.UserID = intPtr(7)
	require.NoError(t, e.tickets.Update(ticket))
	require.NoError(t, e.messages.Save(&models.Message{
		WAMessageID: "LAST5",
		TicketID:    ticket.ID,
		SectorID:    1,
		FromMe:      true,
		Timestamp:   now.Add(-1 * time.Hour),
	}))

	e.lifecycle.SweepInactive(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketNPS, stored.Status)
	assert.False(t, stored.IsBot)
	assert.Contains(t, e.provider.sentBodies(), BotMarker+"De 0 a 10, como foi o atendimento?")

	tracking := e.trackings.byTicket[ticket.ID]
	require.NotNil(t, tracking)
	require.NotNil(t, tracking.ClosedAt)
	assert.Equal(t, now, *tracking.ClosedAt)
	assert.Nil(t, tracking.FinishedAt)
}

func TestHandleRatingReplyNonNumericReprompts(t *testing.T) {
	e := newPipelineEnv()
	e.settings.settings.RatingMessage = "De 0 a 10, como foi o atendimento?"

	contact, ticket := e.seedConversation("5511999994006")
	ticket.Status = models.TicketNPS
	require.NoError(t, e.tickets.Update(ticket))

	err := e.lifecycle.HandleRatingReply(context.Background(), e.settings.settings, ticket, contact,
		&models.Message{Body: "foi ótimo"})
	require.NoError(t, err)

	waitForSends(t, e.provider, 1)
	assert.Equal(t, BotMarker+"De 0 a 10, como foi o atendimento?", e.provider.sent[0].Body)
	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketNPS, stored.Status)
}

func TestHandleRatingReplyClampsScore(t *testing.T) {
	tests := []struct {
		reply string
		want  int
	}{
		{"15", 10},
		{"-3", 0},
		{"7", 7},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			e := newPipelineEnv()
			now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
			e.lifecycle.now = func() time.Time { return now }

			contact, ticket := e.seedConversation("5511999994007")
			ticket.Status = models.TicketNPS
			require.NoError(t, e.tickets.Update(ticket))

			message := &models.Message{Body: tt.reply}
			require.NoError(t, e.lifecycle.HandleRatingReply(context.Background(), e.settings.settings, ticket, contact, message))

			tracking := e.trackings.byTicket[ticket.ID]
			require.NotNil(t, tracking)
			assert.Equal(t, tt.want, *tracking.Rating)
			assert.Equal(t, now, *tracking.FinishedAt)

			stored, _ := e.tickets.GetByID(ticket.ID)
			assert.Equal(t, models.TicketClosed, stored.Status)
		})
	}
}

func TestSweepRatingTimeouts(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }

	_, ticket := e.seedConversation("5511999994008")
	ticket.Status = models.TicketNPS
	ticket.UpdatedAt = now.Add(-2 * time.Hour)
	require.NoError(t, e.tickets.Update(ticket))
	require.NoError(t, e.trackings.Create(&models.TicketTracking{TicketID: ticket.ID}))

	e.lifecycle.SweepRatingTimeouts(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketClosed, stored.Status)

	tracking := e.trackings.byTicket[ticket.ID]
	require.NotNil(t, tracking.FinishedAt)
	assert.Equal(t, now, *tracking.FinishedAt)
	assert.Nil(t, tracking.Rating)
}

func TestSweepRatingTimeoutsLeavesFreshTickets(t *testing.T) {
	e := newPipelineEnv()
	now := time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)
	e.lifecycle.now = func() time.Time { return now }

	_, ticket := e.seedConversation("5511999994009")
	ticket.Status = models.TicketNPS
	ticket.UpdatedAt = now.Add(-10 * time.Minute)
	require.NoError(t, e.tickets.Update(ticket))

	e.lifecycle.SweepRatingTimeouts(context.Background())

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Equal(t, models.TicketNPS, stored.Status)
}
