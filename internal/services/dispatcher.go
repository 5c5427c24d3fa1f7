package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
	"zapdesk/internal/wsnotify"
)

// BotMarker is prepended to every bot-composed text body. When the provider
// echoes the send back as an inbound fromMe event, the marker tells the
// listener the message is already stored.
const BotMarker = "\u200e"

const (
	// debounceWindow coalesces rapid automated replies per ticket so a
	// burst of inbound messages yields one menu, not one per trigger.
	debounceWindow = 1200 * time.Millisecond

	defaultVerifyDelay = 2 * time.Second
)

// Dispatcher wraps provider sends. Every outbound message is mirrored into
// the message store, reflected on the ticket preview and broadcast to
// realtime subscribers.
type Dispatcher struct {
	sectorID    int
	sectorName  string
	provider    Provider
	messages    models.MessageRepository
	tickets     models.TicketRepository
	notify      wsnotify.Notifier
	webhook     *WebhookService
	verifyDelay time.Duration
	debounce    time.Duration

	mu     sync.Mutex
	timers map[int]*time.Timer
}

func NewDispatcher(sectorID int, sectorName string, provider Provider, messages models.MessageRepository, tickets models.TicketRepository, notify wsnotify.Notifier, webhook *WebhookService) *Dispatcher {
	return &Dispatcher{
		sectorID:    sectorID,
		sectorName:  sectorName,
		provider:    provider,
		messages:    messages,
		tickets:     tickets,
		notify:      notify,
		webhook:     webhook,
		verifyDelay: defaultVerifyDelay,
		debounce:    debounceWindow,
		timers:      make(map[int]*time.Timer),
	}
}

// FormatBody substitutes template variables used in greetings, absence and
// farewell messages configured in the admin UI.
func FormatBody(body string, contact *models.Contact, ticket *models.Ticket, connectionName string) string {
	now := time.Now()
	replacer := strings.NewReplacer(
		"{{name}}", contact.Name,
		"{{ticket_id}}", strconv.Itoa(ticket.ID),
		"{{date}}", now.Format("02/01/2006"),
		"{{time}}", now.Format("15:04"),
		"{{connection}}", connectionName,
	)
	return replacer.Replace(body)
}

// SendText formats, marks and sends a text reply, then mirrors it into the
// message store. A provider error triggers the verification probe: the
// provider may report failure on a message that nonetheless delivered.
func (d *Dispatcher) SendText(ctx context.Context, ticket *models.Ticket, contact *models.Contact, body string) (*models.Message, error) {
	formatted := FormatBody(body, contact, ticket, d.sectorName)
	marked := BotMarker + formatted

	jid, err := utils.ParseJID(contact.Number)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", contact.Number, err)
	}

	id, ts, err := d.provider.SendText(ctx, jid.String(), marked)
	if err != nil {
		id, ts, err = d.verifySend(ctx, jid.String(), formatted, err)
		if err != nil {
			return nil, err
		}
	}

	return d.storeOutbound(ticket, &models.Message{
		WAMessageID: id,
		TicketID:    ticket.ID,
		SectorID:    d.sectorID,
		Body:        formatted,
		MediaType:   models.MediaText,
		FromMe:      true,
		Read:        true,
		Ack:         models.AckSent,
		Timestamp:   ts,
	})
}

// SendMedia sends an attachment. MediaURL must already point at the
// attachment store; the provider gets the raw bytes.
func (d *Dispatcher) SendMedia(ctx context.Context, ticket *models.Ticket, contact *models.Contact, media OutboundMedia, mediaURL string) (*models.Message, error) {
	jid, err := utils.ParseJID(contact.Number)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", contact.Number, err)
	}

	id, ts, err := d.provider.SendMedia(ctx, jid.String(), media)
	if err != nil {
		return nil, &models.SendError{Recipient: contact.Number, Err: err}
	}

	return d.storeOutbound(ticket, &models.Message{
		WAMessageID: id,
		TicketID:    ticket.ID,
		SectorID:    d.sectorID,
		Body:        media.Caption,
		MediaURL:    mediaURL,
		MediaType:   classifyMime(media.MimeType),
		FileName:    media.FileName,
		MimeType:    media.MimeType,
		FromMe:      true,
		Read:        true,
		Ack:         models.AckSent,
		Timestamp:   ts,
	})
}

// SendDebounced schedules a text reply with a trailing debounce keyed by
// ticket id. A later call within the window replaces the pending one.
func (d *Dispatcher) SendDebounced(ticket *models.Ticket, contact *models.Contact, body string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[ticket.ID]; ok {
		timer.Stop()
	}
	ticketID := ticket.ID
	d.timers[ticketID] = time.AfterFunc(d.debounce, func() {
		d.mu.Lock()
		delete(d.timers, ticketID)
		d.mu.Unlock()

		if _, err := d.SendText(context.Background(), ticket, contact, body); err != nil {
			log.Error().Err(err).Int("ticketId", ticketID).Msg("Debounced send failed")
		}
	})
}

// Typing shows the composing indicator; failures are irrelevant to the flow.
func (d *Dispatcher) Typing(contact *models.Contact, duration time.Duration) {
	jid, err := utils.ParseJID(contact.Number)
	if err != nil {
		return
	}
	if err := d.provider.SendTyping(jid.String(), duration); err != nil {
		log.Debug().Err(err).Str("to", contact.Number).Msg("Typing presence failed")
	}
}

// verifySend probes the chat's most recent message after a failed send. If
// the message went out anyway it is treated as a success.
func (d *Dispatcher) verifySend(ctx context.Context, jid, body string, sendErr error) (string, time.Time, error) {
	log.Warn().Err(sendErr).Str("to", jid).Msg("Send failed, probing for delivery")
	time.Sleep(d.verifyDelay)

	last, err := d.provider.LastChatMessage(ctx, jid)
	if err == nil && last != nil && last.FromMe &&
		strings.TrimPrefix(last.Body, BotMarker) == body {
		log.Info().Str("to", jid).Str("id", last.ID).Msg("Send confirmed delivered despite error")
		return last.ID, last.Timestamp, nil
	}
	return "", time.Time{}, &models.SendError{Recipient: jid, Err: sendErr}
}

func (d *Dispatcher) storeOutbound(ticket *models.Ticket, message *models.Message) (*models.Message, error) {
	if err := d.messages.Save(message); err != nil && err != models.ErrDuplicateMessage {
		return nil, fmt.Errorf("error storing outbound message: %w", err)
	}

	preview := PreviewBody(message)
	if err := d.tickets.UpdatePreview(ticket.ID, preview, true, 0); err != nil {
		log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Preview update failed")
	}
	ticket.LastMessage = preview
	ticket.FromMe = true

	if d.notify != nil {
		d.notify.MessageEvent("create", message)
	}
	d.webhook.Publish("message", d.sectorID, message)
	return message, nil
}

// PreviewBody renders the ticket-list preview line: a directional glyph plus
// a type-specific summary.
func PreviewBody(message *models.Message) string {
	glyph := "↓ " // inbound
	if message.FromMe {
		glyph = "↑ " // outbound
	}

	switch message.MediaType {
	case models.MediaAudio:
		return glyph + "🎵 Áudio"
	case models.MediaImage:
		return glyph + "📷 Imagem"
	case models.MediaVideo:
		return glyph + "🎬 Vídeo"
	case models.MediaDocument:
		return glyph + "📄 " + message.FileName
	case models.MediaVCard:
		return glyph + "👤 Contato"
	case models.MediaLocation:
		return glyph + "📍 Localização"
	case models.MediaCallLog:
		return glyph + "📞 Chamada"
	case models.MediaRevoked:
		return glyph + "🚫 Mensagem apagada"
	default:
		return glyph + message.Body
	}
}

func classifyMime(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio"):
		return models.MediaAudio
	case strings.HasPrefix(mimeType, "image"):
		return models.MediaImage
	case strings.HasPrefix(mimeType, "video"):
		return models.MediaVideo
	default:
		return models.MediaDocument
	}
}
