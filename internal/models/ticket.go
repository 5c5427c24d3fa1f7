package models

import "time"

// Ticket statuses. A ticket in "nps" is closed for routing purposes but still
// accepts one rating reply from the contact.
const (
	TicketOpen    = "open"
	TicketPending = "pending"
	TicketClosed  = "closed"
	TicketNPS     = "nps"
)

type Ticket struct {
	ID             int       `json:"id"`
	Status         string    `json:"status"`
	ContactID      int       `json:"contactId"`
	SectorID       int       `json:"sectorId"`
	QueueID        *int      `json:"queueId"`
	UserID         *int      `json:"userId"`
	UnreadMessages int       `json:"unreadMessages"`
	LastMessage    string    `json:"lastMessage"`
	IsGroup        bool      `json:"isGroup"`
	FromMe         bool      `json:"fromMe"`
	IsBot          bool      `json:"isBot"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type TicketRepository interface {
	GetByID(id int) (*Ticket, error)
	// FindActiveByContact returns the open/pending/nps ticket for the
	// (contact, sector) pair, or nil when none exists.
	FindActiveByContact(contactID, sectorID int) (*Ticket, error)
	Create(ticket *Ticket) error
	Update(ticket *Ticket) error
	// UpdatePreview sets last_message/from_me and bumps unread_messages by
	// delta (0 leaves the counter untouched).
	UpdatePreview(ticketID int, lastMessage string, fromMe bool, unreadDelta int) error
	// ListOpenPage pages open tickets by id for the inactivity sweep.
	ListOpenPage(afterID, limit int) ([]*Ticket, error)
	// ListNPSBefore returns nps tickets untouched since the cutoff.
	ListNPSBefore(cutoff time.Time, limit int) ([]*Ticket, error)
}
