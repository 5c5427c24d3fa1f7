package services

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
	"zapdesk/internal/wsnotify"
)

// Resolver finds-or-creates the Contact and Ticket for an inbound event. It
// owns the "new conversation vs. continuing conversation" decision: an
// existing non-closed ticket is always reused, so a (contact, connection)
// pair never has more than one active ticket.
type Resolver struct {
	sectorID int
	provider Provider
	contacts models.ContactRepository
	tickets  models.TicketRepository
	notify   wsnotify.Notifier
	webhook  *WebhookService
	// avatars throttles profile-picture lookups per contact number.
	avatars *cache.Cache
}

func NewResolver(sectorID int, provider Provider, contacts models.ContactRepository, tickets models.TicketRepository, notify wsnotify.Notifier, webhook *WebhookService) *Resolver {
	return &Resolver{
		sectorID: sectorID,
		provider: provider,
		contacts: contacts,
		tickets:  tickets,
		notify:   notify,
		webhook:  webhook,
		avatars:  cache.New(6*time.Hour, 30*time.Minute),
	}
}

// Resolve upserts the contact and returns its active ticket, creating one
// when the conversation is new.
func (r *Resolver) Resolve(m *InboundMessage) (*models.Contact, *models.Ticket, error) {
	number := r.contactNumber(m)

	name := m.SenderName
	if m.FromMe {
		// On own messages the sender name is our push name, not the peer's.
		name = ""
	}
	contact := &models.Contact{
		Name:     name,
		Number:   number,
		IsGroup:  m.IsGroup,
		SectorID: r.sectorID,
	}
	contact.ProfilePicURL = r.profilePic(number)

	contact, err := r.contacts.Upsert(contact)
	if err != nil {
		return nil, nil, fmt.Errorf("error resolving contact: %w", err)
	}

	ticket, err := r.tickets.FindActiveByContact(contact.ID, r.sectorID)
	if err != nil {
		return nil, nil, fmt.Errorf("error looking up ticket: %w", err)
	}
	if ticket != nil {
		return contact, ticket, nil
	}

	unread := m.UnreadCount
	if m.FromMe || m.IsAlreadyRead {
		unread = 0
	}
	ticket = &models.Ticket{
		Status:         models.TicketOpen,
		ContactID:      contact.ID,
		SectorID:       r.sectorID,
		UnreadMessages: unread,
		IsGroup:        m.IsGroup,
		IsBot:          !m.FromMe && !m.IsGroup,
	}
	if err := r.tickets.Create(ticket); err != nil {
		return nil, nil, fmt.Errorf("error creating ticket: %w", err)
	}

	if r.notify != nil {
		r.notify.TicketEvent("create", ticket)
	}
	r.webhook.Publish("ticket", r.sectorID, ticket)
	return contact, ticket, nil
}

// contactNumber maps the event to the identity the conversation is keyed by:
// the group's own JID for group chats, the (normalized) peer otherwise. On
// own messages the sender is our JID and the chat holds the peer.
func (r *Resolver) contactNumber(m *InboundMessage) string {
	if m.IsGroup {
		return m.ChatJID
	}
	jid := m.SenderJID
	if m.FromMe {
		jid = m.ChatJID
	}
	return utils.BareNumber(utils.NormalizeJID(jid))
}

func (r *Resolver) profilePic(number string) string {
	if _, throttled := r.avatars.Get(number); throttled {
		return ""
	}
	r.avatars.SetDefault(number, true)

	jid, err := utils.ParseJID(number)
	if err != nil {
		return ""
	}
	url, err := r.provider.ProfilePictureURL(jid.String())
	if err != nil {
		log.Debug().Err(err).Str("number", number).Msg("Profile picture lookup failed")
		return ""
	}
	return url
}
