package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
	"zapdesk/internal/wsnotify"
)

// Listener normalizes raw provider events into stored Messages and feeds the
// routing pipeline. One Listener per connection.
type Listener struct {
	sectorID   int
	settings   models.SettingsRepository
	resolver   *Resolver
	router     *Router
	dispatcher *Dispatcher
	lifecycle  *Lifecycle
	messages   models.MessageRepository
	tickets    models.TicketRepository
	media      MediaStore
	notify     wsnotify.Notifier
	webhook    *WebhookService
	// seen is the dedupe fast path; the unique key on wa_message_id is the
	// authoritative backstop.
	seen *cache.Cache
}

func NewListener(sectorID int, settings models.SettingsRepository, resolver *Resolver, router *Router, dispatcher *Dispatcher, lifecycle *Lifecycle, messages models.MessageRepository, tickets models.TicketRepository, media MediaStore, notify wsnotify.Notifier, webhook *WebhookService) *Listener {
	return &Listener{
		sectorID:   sectorID,
		settings:   settings,
		resolver:   resolver,
		router:     router,
		dispatcher: dispatcher,
		lifecycle:  lifecycle,
		messages:   messages,
		tickets:    tickets,
		media:      media,
		notify:     notify,
		webhook:    webhook,
		seen:       cache.New(30*time.Minute, 10*time.Minute),
	}
}

// Run consumes the connection's event channel until it closes or the context
// is cancelled. Events are handled on their own goroutines; ordering across
// contacts is not guaranteed and not needed.
func (l *Listener) Run(ctx context.Context, events <-chan InboundEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			go l.HandleEvent(ctx, &event)
		}
	}
}

func (l *Listener) HandleEvent(ctx context.Context, event *InboundEvent) {
	switch {
	case event.Message != nil:
		if err := l.handleMessage(ctx, event.Message); err != nil {
			log.Error().Err(err).Str("id", event.Message.ID).Int("sectorId", l.sectorID).
				Msg("Message handling failed")
		}
	case event.Ack != nil:
		l.handleAck(event.Ack)
	case event.Revocation != nil:
		l.handleRevocation(event.Revocation)
	}
}

func (l *Listener) handleMessage(ctx context.Context, m *InboundMessage) error {
	if utils.IsBroadcastJID(m.ChatJID) {
		return nil
	}
	if !allowedKind(m.Kind) {
		log.Debug().Str("kind", m.Kind).Str("id", m.ID).Msg("Dropping unsupported message kind")
		return nil
	}

	settings := l.loadSettings()
	if m.IsGroup && settings.IgnoreGroups {
		return nil
	}

	// Bot sends come back as fromMe echoes. The marker means the dispatcher
	// already mirrored this message into the store.
	if m.FromMe && strings.HasPrefix(m.Body, BotMarker) {
		if err := l.messages.UpdateAck(m.ID, models.AckSent); err != nil {
			log.Debug().Err(err).Str("id", m.ID).Msg("Echo ack reconcile failed")
		}
		return nil
	}

	// Edits reuse the original message id, so they must bypass the dedupe.
	if _, dup := l.seen.Get(m.ID); dup && !m.IsEdit {
		return nil
	}
	existing, err := l.messages.GetByWAMessageID(m.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return l.reconcile(existing, m)
	}

	contact, ticket, err := l.resolver.Resolve(m)
	if err != nil {
		return err
	}

	message := l.buildMessage(ctx, m, contact, ticket)
	if err := l.messages.Save(message); err != nil {
		if err == models.ErrDuplicateMessage {
			return nil // concurrent delivery already handled it
		}
		return err
	}
	l.seen.SetDefault(m.ID, true)

	// Backfilled chats seed the unread counter from the chat summary when
	// the ticket is created; counting per message again would double it.
	unreadDelta := 0
	if !m.FromMe && !m.IsAlreadyRead && !m.IsSync {
		unreadDelta = 1
	}
	preview := PreviewBody(message)
	if err := l.tickets.UpdatePreview(ticket.ID, preview, m.FromMe, unreadDelta); err != nil {
		log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Preview update failed")
	}
	ticket.LastMessage = preview
	ticket.FromMe = m.FromMe
	ticket.UnreadMessages += unreadDelta

	if l.notify != nil {
		l.notify.MessageEvent("create", message)
		l.notify.TicketEvent("update", ticket)
	}
	l.webhook.Publish("message", l.sectorID, message)

	// Backfilled history is stored only; it never drives the bot.
	if m.IsSync || m.FromMe {
		return nil
	}

	if ticket.Status == models.TicketNPS {
		return l.lifecycle.HandleRatingReply(ctx, settings, ticket, contact, message)
	}
	if ticket.IsBot && !m.IsGroup {
		l.router.Route(ctx, settings, ticket, contact, m.Body)
	}
	return nil
}

// reconcile handles a redelivery of an already-stored message: edits update
// the body, everything else at most raises the ack.
func (l *Listener) reconcile(existing *models.Message, m *InboundMessage) error {
	if m.IsEdit && m.Body != "" && strings.TrimPrefix(m.Body, BotMarker) != existing.Body {
		if err := l.messages.UpdateBody(m.ID, strings.TrimPrefix(m.Body, BotMarker)); err != nil {
			return err
		}
		existing.Body = strings.TrimPrefix(m.Body, BotMarker)
		existing.IsEdited = true
		if l.notify != nil {
			l.notify.MessageEvent("update", existing)
		}
		return nil
	}
	if m.FromMe {
		return l.messages.UpdateAck(m.ID, models.AckSent)
	}
	return nil
}

func (l *Listener) buildMessage(ctx context.Context, m *InboundMessage, contact *models.Contact, ticket *models.Ticket) *models.Message {
	message := &models.Message{
		WAMessageID: m.ID,
		TicketID:    ticket.ID,
		SectorID:    l.sectorID,
		Body:        strings.TrimPrefix(m.Body, BotMarker),
		MediaType:   mediaTypeForKind(m.Kind),
		FromMe:      m.FromMe,
		Read:        m.FromMe || m.IsAlreadyRead,
		IsEdited:    m.IsEdit,
		Timestamp:   m.Timestamp,
	}
	if m.FromMe {
		message.Ack = models.AckSent
	} else {
		message.ContactID = &contact.ID
	}
	if m.QuotedID != "" {
		quoted := m.QuotedID
		message.QuotedMsgID = &quoted
	}

	switch m.Kind {
	case KindLocation:
		message.Body = locationBody(m)
		message.MediaURL = staticMapURL(m.Latitude, m.Longitude)
	case KindVCard:
		message.Body = m.VCard
	case KindAudio, KindPTT, KindImage, KindVideo, KindDocument:
		message.MimeType = m.MimeType
		message.FileName = m.FileName
		l.attachMedia(ctx, m, message)
	}
	return message
}

// attachMedia downloads the binary and moves it to the attachment store. A
// failure keeps the message, just without the attachment.
func (l *Listener) attachMedia(ctx context.Context, m *InboundMessage, message *models.Message) {
	if m.Download == nil || l.media == nil {
		return
	}
	data, err := m.Download(ctx)
	if err != nil {
		log.Warn().Err(err).Str("id", m.ID).Msg("Media download failed")
		return
	}

	fileName := mediaFileName(m)
	url, err := l.media.UploadBytes(data, fileName, m.MimeType)
	if err != nil {
		log.Warn().Err(err).Str("id", m.ID).Msg("Attachment upload failed")
		return
	}
	message.MediaURL = url
	message.FileName = fileName
}

// mediaFileName builds a collision-resistant object name from the event
// timestamp plus the original name, or a MIME-derived extension when the
// provider gave none.
func mediaFileName(m *InboundMessage) string {
	name := utils.SanitizeFileName(m.FileName)
	if name == "" {
		name = "file." + utils.GetExtensionFromMime(m.MimeType)
	}
	return fmt.Sprintf("%d_%s", m.Timestamp.Unix(), name)
}

func locationBody(m *InboundMessage) string {
	link := fmt.Sprintf("https://maps.google.com/?q=%f,%f", m.Latitude, m.Longitude)
	if m.LocationName != "" {
		return m.LocationName + "\n" + link
	}
	return link
}

func staticMapURL(lat, lng float64) string {
	return fmt.Sprintf("https://maps.googleapis.com/maps/api/staticmap?center=%f,%f&zoom=15&size=600x300&markers=%f,%f", lat, lng, lat, lng)
}

func (l *Listener) handleAck(ack *AckUpdate) {
	for _, id := range ack.MessageIDs {
		if err := l.messages.UpdateAck(id, ack.Ack); err != nil {
			log.Error().Err(err).Str("id", id).Int("ack", ack.Ack).Msg("Ack update failed")
			continue
		}
		if l.notify == nil {
			continue
		}
		message, err := l.messages.GetByWAMessageID(id)
		if err != nil || message == nil {
			continue
		}
		l.notify.MessageEvent("update", message)
	}
}

func (l *Listener) handleRevocation(rev *Revocation) {
	message, err := l.messages.GetByWAMessageID(rev.MessageID)
	if err != nil {
		log.Error().Err(err).Str("id", rev.MessageID).Msg("Revocation lookup failed")
		return
	}
	if message == nil {
		return
	}
	if err := l.messages.MarkDeleted(rev.MessageID); err != nil {
		log.Error().Err(err).Str("id", rev.MessageID).Msg("Revocation update failed")
		return
	}
	message.IsDeleted = true
	message.MediaType = models.MediaRevoked

	if err := l.tickets.UpdatePreview(message.TicketID, PreviewBody(message), message.FromMe, 0); err != nil {
		log.Error().Err(err).Int("ticketId", message.TicketID).Msg("Preview update failed")
	}
	if l.notify != nil {
		l.notify.MessageEvent("update", message)
	}
	l.webhook.Publish("message", l.sectorID, message)
}

func (l *Listener) loadSettings() *models.Settings {
	settings, err := l.settings.GetBySector(l.sectorID)
	if err != nil || settings == nil {
		if err != nil {
			log.Error().Err(err).Int("sectorId", l.sectorID).Msg("Settings load failed, using defaults")
		}
		return &models.Settings{SectorID: l.sectorID, Sync: models.DefaultSyncSettings()}
	}
	return settings
}

func allowedKind(kind string) bool {
	switch kind {
	case KindChat, KindAudio, KindPTT, KindVideo, KindImage,
		KindDocument, KindVCard, KindLocation, KindCallLog:
		return true
	}
	return false
}

func mediaTypeForKind(kind string) string {
	switch kind {
	case KindChat:
		return models.MediaText
	case KindAudio, KindPTT:
		return models.MediaAudio
	case KindImage:
		return models.MediaImage
	case KindVideo:
		return models.MediaVideo
	case KindDocument:
		return models.MediaDocument
	case KindVCard:
		return models.MediaVCard
	case KindLocation:
		return models.MediaLocation
	case KindCallLog:
		return models.MediaCallLog
	default:
		return models.MediaOther
	}
}
