package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapdesk/internal/models"
)

func fixedClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2026, 8, 26, hour, minute, 0, 0, time.UTC)
	}
}

// scheduleFor enables exactly the weekday of the fixed clock.
func scheduleFor(now time.Time, day models.DaySchedule) [7]models.DaySchedule {
	var schedule [7]models.DaySchedule
	day.Enabled = true
	schedule[int(now.Weekday())] = day
	return schedule
}

func TestInDayWindow(t *testing.T) {
	day := models.DaySchedule{
		StartWork:  "08:00",
		EndWork:    "18:00",
		LunchStart: "12:00",
		LunchEnd:   "13:00",
	}
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before opening", time.Date(2026, 8, 26, 7, 59, 0, 0, time.UTC), false},
		{"morning", time.Date(2026, 8, 26, 9, 30, 0, 0, time.UTC), true},
		{"last minute before lunch", time.Date(2026, 8, 26, 11, 59, 0, 0, time.UTC), true},
		{"during lunch", time.Date(2026, 8, 26, 12, 30, 0, 0, time.UTC), false},
		{"lunch over", time.Date(2026, 8, 26, 13, 0, 0, 0, time.UTC), true},
		{"afternoon", time.Date(2026, 8, 26, 17, 59, 0, 0, time.UTC), true},
		{"closing time", time.Date(2026, 8, 26, 18, 0, 0, 0, time.UTC), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, inDayWindow(day, tt.at))
		})
	}
}

func TestInDayWindowMalformedClockIsLenient(t *testing.T) {
	day := models.DaySchedule{StartWork: "banana", EndWork: "18:00"}
	assert.True(t, inDayWindow(day, time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC)))

	// Missing lunch break falls back to the plain window.
	day = models.DaySchedule{StartWork: "08:00", EndWork: "18:00"}
	assert.True(t, inDayWindow(day, time.Date(2026, 8, 26, 12, 30, 0, 0, time.UTC)))
	assert.False(t, inDayWindow(day, time.Date(2026, 8, 26, 19, 0, 0, 0, time.UTC)))
}

func TestParseClock(t *testing.T) {
	got, err := parseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, 9*3600+30*60, got)

	_, err = parseClock("25:00")
	assert.Error(t, err)
	_, err = parseClock("0930")
	assert.Error(t, err)
}

func TestRouteOutOfHoursMessage(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(22, 0)
	contact, ticket := e.seedConversation("5511999991001")

	settings := &models.Settings{
		SectorID:             1,
		BusinessHoursEnabled: true,
		Schedule: scheduleFor(e.router.now(), models.DaySchedule{
			StartWork: "08:00", EndWork: "18:00",
		}),
		OutOfHoursMessage: "Estamos fechados, retornamos amanhã!",
	}

	e.router.Route(context.Background(), settings, ticket, contact, "oi")
	waitForSends(t, e.provider, 1)
	assert.Equal(t, BotMarker+"Estamos fechados, retornamos amanhã!", e.provider.sent[0].Body)
}

func TestRouteQueueMenu(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Financeiro", StartWork: "08:00", EndWork: "18:00"},
		{ID: 11, SectorID: 1, Name: "Suporte"},
	}
	contact, ticket := e.seedConversation("5511999991002")
	settings := &models.Settings{SectorID: 1, GreetingMessage: "Bem-vindo!"}

	e.router.Route(context.Background(), settings, ticket, contact, "oi")
	waitForSends(t, e.provider, 1)

	menu := e.provider.sent[0].Body
	assert.Contains(t, menu, "Bem-vindo!")
	assert.Contains(t, menu, "*[ 1 ]* - Financeiro (08:00 às 18:00)")
	assert.Contains(t, menu, "*[ 2 ]* - Suporte")
}

func TestRouteQueueSelectionOpensChatbot(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Financeiro", GreetingMessage: "Setor financeiro:"},
		{ID: 11, SectorID: 1, Name: "Suporte"},
	}
	e.chatbots.nodes = []*models.ChatbotNode{
		{ID: 100, Name: "Boleto", GreetingMessage: "Segue o boleto", QueueID: intPtr(10)},
		{ID: 101, Name: "Nota fiscal", GreetingMessage: "Segue a nota", QueueID: intPtr(10)},
	}
	contact, ticket := e.seedConversation("5511999991003")
	settings := &models.Settings{SectorID: 1}

	e.router.Route(context.Background(), settings, ticket, contact, "1")
	waitForSends(t, e.provider, 1)

	stored, _ := e.tickets.GetByID(ticket.ID)
	require.NotNil(t, stored.QueueID)
	assert.Equal(t, 10, *stored.QueueID)
	assert.Contains(t, e.notify.tickets, "update")

	stage, _ := e.stages.GetByContact(contact.ID)
	require.NotNil(t, stage)
	assert.True(t, stage.Awaiting)
	assert.Nil(t, stage.ChatbotID)

	menu := e.provider.sent[0].Body
	assert.Contains(t, menu, "Setor financeiro:")
	assert.Contains(t, menu, "*[ 1 ]* - Boleto")
	assert.Contains(t, menu, "*[ 2 ]* - Nota fiscal")
	assert.Contains(t, menu, MenuFooter)
}

func TestRouteSingleQueueAutoSelect(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Geral", GreetingMessage: "Como posso ajudar?"},
	}
	contact, ticket := e.seedConversation("5511999991004")

	e.router.Route(context.Background(), &models.Settings{SectorID: 1}, ticket, contact, "qualquer coisa")
	waitForSends(t, e.provider, 1)

	stored, _ := e.tickets.GetByID(ticket.ID)
	require.NotNil(t, stored.QueueID)
	assert.Equal(t, 10, *stored.QueueID)
	assert.Equal(t, BotMarker+"Como posso ajudar?", e.provider.sent[0].Body)
}

func TestRouteQueueOutOfWindow(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(20, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Diurno", StartWork: "08:00", EndWork: "18:00",
			AbsenceMessage: "Este setor atende das 08:00 às 18:00."},
	}
	contact, ticket := e.seedConversation("5511999991005")

	e.router.Route(context.Background(), &models.Settings{SectorID: 1}, ticket, contact, "oi")
	waitForSends(t, e.provider, 1)

	// The queue is still assigned so the next agent sees where the contact
	// wanted to go.
	stored, _ := e.tickets.GetByID(ticket.ID)
	require.NotNil(t, stored.QueueID)
	assert.Equal(t, BotMarker+"Este setor atende das 08:00 às 18:00.", e.provider.sent[0].Body)
}

func TestRouteAgentQueueDisablesBot(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Humano", IsAgent: true, GreetingMessage: "Aguarde um atendente."},
	}
	contact, ticket := e.seedConversation("5511999991006")

	e.router.Route(context.Background(), &models.Settings{SectorID: 1}, ticket, contact, "oi")
	waitForSends(t, e.provider, 1)

	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.False(t, stored.IsBot)
	stage, _ := e.stages.GetByContact(contact.ID)
	assert.Nil(t, stage)
}

func TestRouteHashResetsToMainMenu(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Financeiro"},
		{ID: 11, SectorID: 1, Name: "Suporte"},
	}
	contact, ticket := e.seedConversation("5511999991007")
	ticket.QueueID = intPtr(10)
	require.NoError(t, e.stages.Replace(&models.DialogStage{ContactID: contact.ID, QueueID: intPtr(10), Awaiting: true}))

	e.router.Route(context.Background(), &models.Settings{SectorID: 1}, ticket, contact, "#")
	waitForSends(t, e.provider, 1)

	stage, _ := e.stages.GetByContact(contact.ID)
	assert.Nil(t, stage)
	stored, _ := e.tickets.GetByID(ticket.ID)
	assert.Nil(t, stored.QueueID)
	assert.True(t, stored.IsBot)
	assert.Contains(t, e.provider.sent[0].Body, "*[ 1 ]* - Financeiro")
}

func TestRouteQueueAssignedAndNoStageIsSilent(t *testing.T) {
	e := newPipelineEnv()
	e.router.now = fixedClock(10, 0)
	e.queues.queues = []*models.Queue{
		{ID: 10, SectorID: 1, Name: "Financeiro"},
		{ID: 11, SectorID: 1, Name: "Suporte"},
	}
	contact, ticket := e.seedConversation("5511999991008")
	ticket.QueueID = intPtr(10)

	e.router.Route(context.Background(), &models.Settings{SectorID: 1}, ticket, contact, "obrigado")
	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, e.provider.sent)
}
