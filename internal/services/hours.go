package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/wsnotify"
)

// MenuFooter is appended to every chatbot menu that has sub-options.
const MenuFooter = "*[ # ]* Voltar ao menu principal"

// Router drives the inbound routing decisions for one connection: the
// business-hours gate, the queue menu and the chatbot dialog engine.
type Router struct {
	sectorID   int
	queues     models.QueueRepository
	chatbots   models.ChatbotRepository
	stages     models.DialogStageRepository
	users      models.UserRepository
	tickets    models.TicketRepository
	dispatcher *Dispatcher
	notify     wsnotify.Notifier
	webhook    *WebhookService
	now        func() time.Time
}

func NewRouter(sectorID int, queues models.QueueRepository, chatbots models.ChatbotRepository, stages models.DialogStageRepository, users models.UserRepository, tickets models.TicketRepository, dispatcher *Dispatcher, notify wsnotify.Notifier, webhook *WebhookService) *Router {
	return &Router{
		sectorID:   sectorID,
		queues:     queues,
		chatbots:   chatbots,
		stages:     stages,
		users:      users,
		tickets:    tickets,
		dispatcher: dispatcher,
		notify:     notify,
		webhook:    webhook,
		now:        time.Now,
	}
}

// Route handles one inbound text for a ticket still owned by the bot. Any
// traversal failure resets the contact to the main menu rather than leaving
// the dialog half-transitioned.
func (r *Router) Route(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact, body string) {
	body = strings.TrimSpace(strings.TrimPrefix(body, BotMarker))

	// "#" wins over every other interpretation, from any depth.
	if body == "#" {
		if err := r.resetToMainMenu(ctx, settings, ticket, contact); err != nil {
			log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Main menu reset failed")
		}
		return
	}

	err := r.route(ctx, settings, ticket, contact, body)
	if err != nil {
		log.Error().Err(err).Int("ticketId", ticket.ID).Int("contactId", contact.ID).
			Msg("Dialog traversal failed, resetting to main menu")
		if resetErr := r.resetToMainMenu(ctx, settings, ticket, contact); resetErr != nil {
			log.Error().Err(resetErr).Int("ticketId", ticket.ID).Msg("Recovery reset failed")
		}
	}
}

func (r *Router) route(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact, body string) error {
	stage, err := r.stages.GetByContact(contact.ID)
	if err != nil {
		return err
	}
	if stage != nil {
		return r.advanceDialog(ctx, settings, ticket, contact, stage, body)
	}

	// No dialog in flight and a queue already assigned: the bot is done
	// with this conversation.
	if ticket.QueueID != nil {
		return nil
	}

	if settings.BusinessHoursEnabled && !r.inBusinessHours(settings) {
		if settings.OutOfHoursMessage != "" {
			r.dispatcher.SendDebounced(ticket, contact, settings.OutOfHoursMessage)
		}
		return nil
	}

	queues, err := r.queues.ListBySector(r.sectorID)
	if err != nil {
		return err
	}
	switch len(queues) {
	case 0:
		return nil
	case 1:
		return r.selectQueue(ctx, ticket, contact, queues[0])
	}

	if idx, err := strconv.Atoi(body); err == nil && idx >= 1 && idx <= len(queues) {
		return r.selectQueue(ctx, ticket, contact, queues[idx-1])
	}

	// Invalid or absent selection at the top level re-renders the menu.
	r.sendQueueMenu(settings, ticket, contact, queues)
	return nil
}

// inBusinessHours evaluates the weekly schedule table for the current time.
// The working day is split by the lunch break: in-hours means
// [start,lunchStart) or [lunchEnd,end).
func (r *Router) inBusinessHours(settings *models.Settings) bool {
	now := r.now()
	day := settings.Schedule[int(now.Weekday())]
	if !day.Enabled {
		return false
	}
	return inDayWindow(day, now)
}

func inDayWindow(day models.DaySchedule, now time.Time) bool {
	t := now.Hour()*3600 + now.Minute()*60 + now.Second()

	start, err := parseClock(day.StartWork)
	if err != nil {
		return true // malformed schedule never locks customers out
	}
	end, err := parseClock(day.EndWork)
	if err != nil {
		return true
	}

	lunchStart, lsErr := parseClock(day.LunchStart)
	lunchEnd, leErr := parseClock(day.LunchEnd)
	if lsErr != nil || leErr != nil {
		return t >= start && t < end
	}
	return (t >= start && t < lunchStart) || (t >= lunchEnd && t < end)
}

// queueInWindow applies the queue's own daily window. It is independent of
// and nested inside the per-day check: a queue can be further restricted
// even during open business hours.
func queueInWindow(queue *models.Queue, now time.Time) bool {
	start, err := parseClock(queue.StartWork)
	if err != nil {
		return true
	}
	end, err := parseClock(queue.EndWork)
	if err != nil {
		return true
	}
	t := now.Hour()*3600 + now.Minute()*60 + now.Second()
	return t >= start && t < end
}

// parseClock converts "HH:MM" to seconds since midnight.
func parseClock(value string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value out of range %q", value)
	}
	return hours*3600 + minutes*60, nil
}

// selectQueue assigns the queue to the ticket and opens its chatbot flow.
func (r *Router) selectQueue(ctx context.Context, ticket *models.Ticket, contact *models.Contact, queue *models.Queue) error {
	ticket.QueueID = &queue.ID
	if queue.IsAgent {
		ticket.IsBot = false
	}
	if err := r.tickets.Update(ticket); err != nil {
		return err
	}
	if r.notify != nil {
		r.notify.TicketEvent("update", ticket)
	}

	if !queueInWindow(queue, r.now()) {
		if queue.AbsenceMessage != "" {
			r.dispatcher.SendDebounced(ticket, contact, queue.AbsenceMessage)
		}
		return nil
	}

	if queue.IsAgent {
		// Direct-to-human queue: greet and wait for an agent, no dialog.
		if queue.GreetingMessage != "" {
			r.dispatcher.SendDebounced(ticket, contact, queue.GreetingMessage)
		}
		return nil
	}

	options, err := r.chatbots.ListRoots(queue.ID)
	if err != nil {
		return err
	}
	if len(options) == 0 {
		if queue.GreetingMessage != "" {
			r.dispatcher.SendDebounced(ticket, contact, queue.GreetingMessage)
		}
		return nil
	}

	if err := r.stages.Replace(&models.DialogStage{
		ContactID: contact.ID,
		QueueID:   &queue.ID,
		Awaiting:  true,
	}); err != nil {
		return err
	}

	r.dispatcher.Typing(contact, 2*time.Second)
	r.dispatcher.SendDebounced(ticket, contact, renderNodeMenu(queue.GreetingMessage, options))
	return nil
}

// sendQueueMenu renders the numbered department list with each queue's
// window annotation.
func (r *Router) sendQueueMenu(settings *models.Settings, ticket *models.Ticket, contact *models.Contact, queues []*models.Queue) {
	var b strings.Builder
	if settings.GreetingMessage != "" {
		b.WriteString(settings.GreetingMessage)
	} else {
		b.WriteString("Escolha um setor para atendimento:")
	}
	b.WriteString("\n\n")
	for i, queue := range queues {
		fmt.Fprintf(&b, "*[ %d ]* - %s", i+1, queue.Name)
		if queue.StartWork != "" && queue.EndWork != "" {
			fmt.Fprintf(&b, " (%s às %s)", queue.StartWork, queue.EndWork)
		}
		b.WriteString("\n")
	}
	r.dispatcher.SendDebounced(ticket, contact, b.String())
}

// resetToMainMenu clears the routing state and re-presents the top menu.
func (r *Router) resetToMainMenu(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact) error {
	if err := r.stages.DeleteByContact(contact.ID); err != nil {
		return err
	}
	ticket.QueueID = nil
	ticket.IsBot = true
	if err := r.tickets.Update(ticket); err != nil {
		return err
	}
	if r.notify != nil {
		r.notify.TicketEvent("update", ticket)
	}

	queues, err := r.queues.ListBySector(r.sectorID)
	if err != nil {
		return err
	}
	switch len(queues) {
	case 0:
		return nil
	case 1:
		return r.selectQueue(ctx, ticket, contact, queues[0])
	default:
		r.sendQueueMenu(settings, ticket, contact, queues)
		return nil
	}
}

// renderNodeMenu builds a greeting plus its numbered sub-options. The "#"
// footer only appears when there is something to navigate back from.
func renderNodeMenu(greeting string, options []*models.ChatbotNode) string {
	var b strings.Builder
	if greeting != "" {
		b.WriteString(greeting)
	}
	if len(options) > 0 {
		b.WriteString("\n\n")
		for i, option := range options {
			fmt.Fprintf(&b, "*[ %d ]* - %s\n", i+1, option.Name)
		}
		b.WriteString("\n" + MenuFooter)
	}
	return b.String()
}
