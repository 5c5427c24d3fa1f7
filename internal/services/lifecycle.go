package services

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/wsnotify"
)

const (
	sweepPageSize = 100
	// ratingGrace is how long a ticket may sit waiting for a rating before
	// the sweep force-closes it.
	ratingGrace = 1 * time.Hour
)

// Lifecycle closes idle tickets and runs the rating (NPS) workflow.
type Lifecycle struct {
	sectorID   int
	settings   models.SettingsRepository
	tickets    models.TicketRepository
	contacts   models.ContactRepository
	messages   models.MessageRepository
	trackings  models.TrackingRepository
	dispatcher *Dispatcher
	notify     wsnotify.Notifier
	webhook    *WebhookService
	now        func() time.Time
}

func NewLifecycle(sectorID int, settings models.SettingsRepository, tickets models.TicketRepository, contacts models.ContactRepository, messages models.MessageRepository, trackings models.TrackingRepository, dispatcher *Dispatcher, notify wsnotify.Notifier, webhook *WebhookService) *Lifecycle {
	return &Lifecycle{
		sectorID:   sectorID,
		settings:   settings,
		tickets:    tickets,
		contacts:   contacts,
		messages:   messages,
		trackings:  trackings,
		dispatcher: dispatcher,
		notify:     notify,
		webhook:    webhook,
		now:        time.Now,
	}
}

// Schedule registers the periodic sweeps on the shared cron runner.
func (l *Lifecycle) Schedule(c *cron.Cron) error {
	if _, err := c.AddFunc("@every 1m", func() { l.SweepInactive(context.Background()) }); err != nil {
		return err
	}
	_, err := c.AddFunc("@every 5m", func() { l.SweepRatingTimeouts(context.Background()) })
	return err
}

// SweepInactive walks open tickets in id pages and ends conversations where
// the agent replied last and the contact has gone silent past the window.
func (l *Lifecycle) SweepInactive(ctx context.Context) {
	settings, err := l.settings.GetBySector(l.sectorID)
	if err != nil || settings == nil {
		if err != nil {
			log.Error().Err(err).Int("sectorId", l.sectorID).Msg("Settings load failed, skipping sweep")
		}
		return
	}
	if settings.InactivityMinutes <= 0 {
		return
	}
	cutoff := l.now().Add(-time.Duration(settings.InactivityMinutes) * time.Minute)

	afterID := 0
	for {
		page, err := l.tickets.ListOpenPage(afterID, sweepPageSize)
		if err != nil {
			log.Error().Err(err).Msg("Inactivity sweep page failed")
			return
		}
		if len(page) == 0 {
			return
		}
		for _, ticket := range page {
			afterID = ticket.ID
			if ticket.SectorID != l.sectorID || ticket.IsGroup {
				continue
			}
			last, err := l.messages.GetLastByTicket(ticket.ID)
			if err != nil {
				log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Last message lookup failed")
				continue
			}
			// Only conversations the contact left hanging count as idle.
			if last == nil || !last.FromMe || last.Timestamp.After(cutoff) {
				continue
			}
			if err := l.endTicket(ctx, settings, ticket); err != nil {
				log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Inactivity close failed")
			}
		}
	}
}

// endTicket sends the inactivity notice and either opens the rating workflow
// or closes the ticket outright.
func (l *Lifecycle) endTicket(ctx context.Context, settings *models.Settings, ticket *models.Ticket) error {
	contact, err := l.contacts.GetByID(ticket.ContactID)
	if err != nil {
		return err
	}
	if contact == nil {
		return l.close(ticket, nil)
	}

	if settings.InactivityMessage != "" {
		if _, err := l.dispatcher.SendText(ctx, ticket, contact, settings.InactivityMessage); err != nil {
			log.Warn().Err(err).Int("ticketId", ticket.ID).Msg("Inactivity notice failed")
		}
	}

	if settings.RatingEnabled && settings.RatingMessage != "" {
		return l.openRating(ctx, settings, ticket, contact)
	}
	if settings.FarewellMessage != "" {
		if _, err := l.dispatcher.SendText(ctx, ticket, contact, settings.FarewellMessage); err != nil {
			log.Warn().Err(err).Int("ticketId", ticket.ID).Msg("Farewell send failed")
		}
	}
	return l.close(ticket, contact)
}

// openRating parks the ticket in the rating state and asks for the score.
func (l *Lifecycle) openRating(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact) error {
	ticket.Status = models.TicketNPS
	ticket.IsBot = false
	if err := l.tickets.Update(ticket); err != nil {
		return err
	}

	closedAt := l.now()
	tracking, err := l.trackings.GetOpenByTicket(ticket.ID)
	if err != nil {
		return err
	}
	if tracking == nil {
		tracking = &models.TicketTracking{TicketID: ticket.ID, UserID: ticket.UserID}
		tracking.ClosedAt = &closedAt
		if err := l.trackings.Create(tracking); err != nil {
			return err
		}
	} else if tracking.ClosedAt == nil {
		tracking.ClosedAt = &closedAt
		if err := l.trackings.Update(tracking); err != nil {
			return err
		}
	}

	if _, err := l.dispatcher.SendText(ctx, ticket, contact, settings.RatingMessage); err != nil {
		log.Warn().Err(err).Int("ticketId", ticket.ID).Msg("Rating prompt failed")
	}
	if l.notify != nil {
		l.notify.TicketEvent("update", ticket)
	}
	l.webhook.Publish("ticket", l.sectorID, ticket)
	return nil
}

// HandleRatingReply consumes the contact's reply while the ticket waits for a
// rating. Non-numeric replies re-ask; numeric ones are clamped to [0,10].
func (l *Lifecycle) HandleRatingReply(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact, message *models.Message) error {
	rating, err := strconv.Atoi(strings.TrimSpace(message.Body))
	if err != nil {
		if settings.RatingMessage != "" {
			l.dispatcher.SendDebounced(ticket, contact, settings.RatingMessage)
		}
		return nil
	}
	if rating < 0 {
		rating = 0
	}
	if rating > 10 {
		rating = 10
	}

	finishedAt := l.now()
	tracking, err := l.trackings.GetOpenByTicket(ticket.ID)
	if err != nil {
		return err
	}
	if tracking == nil {
		tracking = &models.TicketTracking{TicketID: ticket.ID, UserID: ticket.UserID}
		tracking.Rating = &rating
		tracking.RatingAt = &finishedAt
		tracking.FinishedAt = &finishedAt
		if err := l.trackings.Create(tracking); err != nil {
			return err
		}
	} else {
		tracking.Rating = &rating
		tracking.RatingAt = &finishedAt
		tracking.FinishedAt = &finishedAt
		if err := l.trackings.Update(tracking); err != nil {
			return err
		}
	}

	if settings.FarewellMessage != "" {
		if _, err := l.dispatcher.SendText(ctx, ticket, contact, settings.FarewellMessage); err != nil {
			log.Warn().Err(err).Int("ticketId", ticket.ID).Msg("Farewell send failed")
		}
	}
	log.Info().Int("ticketId", ticket.ID).Int("rating", rating).Msg("Rating recorded")
	return l.close(ticket, contact)
}

// SweepRatingTimeouts force-closes tickets that never got their rating reply.
func (l *Lifecycle) SweepRatingTimeouts(ctx context.Context) {
	cutoff := l.now().Add(-ratingGrace)
	stale, err := l.tickets.ListNPSBefore(cutoff, sweepPageSize)
	if err != nil {
		log.Error().Err(err).Msg("Rating timeout sweep failed")
		return
	}
	for _, ticket := range stale {
		if ticket.SectorID != l.sectorID {
			continue
		}
		finishedAt := l.now()
		tracking, err := l.trackings.GetOpenByTicket(ticket.ID)
		if err == nil && tracking != nil {
			tracking.FinishedAt = &finishedAt
			if err := l.trackings.Update(tracking); err != nil {
				log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Tracking finish failed")
			}
		}
		if err := l.close(ticket, nil); err != nil {
			log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Rating timeout close failed")
		}
	}
}

func (l *Lifecycle) close(ticket *models.Ticket, contact *models.Contact) error {
	ticket.Status = models.TicketClosed
	ticket.IsBot = false
	ticket.UnreadMessages = 0
	if err := l.tickets.Update(ticket); err != nil {
		return err
	}
	if l.notify != nil {
		l.notify.TicketEvent("remove", ticket)
	}
	l.webhook.Publish("ticket", l.sectorID, ticket)
	return nil
}
