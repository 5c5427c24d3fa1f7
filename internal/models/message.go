package models

import "time"

// Delivery state ladder reported by the provider.
const (
	AckPending   = 0
	AckSent      = 1
	AckDelivered = 2
	AckRead      = 3
	AckPlayed    = 4
)

// Media classification used for ticket previews.
const (
	MediaText     = "chat"
	MediaAudio    = "audio"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaDocument = "document"
	MediaVCard    = "vcard"
	MediaLocation = "location"
	MediaCallLog  = "call_log"
	MediaRevoked  = "revoked"
	MediaOther    = "other"
)

type Message struct {
	ID          int64      `json:"id"`
	WAMessageID string     `json:"waMessageId"`
	TicketID    int        `json:"ticketId"`
	ContactID   *int       `json:"contactId"`
	SectorID    int        `json:"sectorId"`
	Body        string     `json:"body"`
	MediaURL    string     `json:"mediaUrl"`
	MediaType   string     `json:"mediaType"`
	FileName    string     `json:"fileName"`
	MimeType    string     `json:"mimeType"`
	FromMe      bool       `json:"fromMe"`
	Read        bool       `json:"read"`
	Ack         int        `json:"ack"`
	QuotedMsgID *string    `json:"quotedMsgId"`
	IsDeleted   bool       `json:"isDeleted"`
	IsEdited    bool       `json:"isEdited"`
	Timestamp   time.Time  `json:"timestamp"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeletedAt   *time.Time `json:"-"`
}

type MessageRepository interface {
	// Save inserts the message. A unique-key violation on wa_message_id is
	// reported as ErrDuplicateMessage.
	Save(message *Message) error
	GetByWAMessageID(waMessageID string) (*Message, error)
	ExistsWAMessageID(waMessageID string) (bool, error)
	// UpdateAck raises the delivery state; it never lowers it and is a
	// no-op for unknown ids.
	UpdateAck(waMessageID string, ack int) error
	// UpdateBody replaces the body of an edited message and flags it.
	UpdateBody(waMessageID, body string) error
	MarkDeleted(waMessageID string) error
	GetLastByTicket(ticketID int) (*Message, error)
	ListByTicket(ticketID, limit int) ([]*Message, error)
}
