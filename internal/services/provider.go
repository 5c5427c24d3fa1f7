package services

import (
	"context"
	"time"
)

// Inbound message kinds as reported by the provider adapter. Only the
// allow-listed kinds reach the pipeline; everything else is dropped by the
// listener.
const (
	KindChat         = "chat"
	KindAudio        = "audio"
	KindPTT          = "ptt"
	KindVideo        = "video"
	KindImage        = "image"
	KindDocument     = "document"
	KindVCard        = "vcard"
	KindLocation     = "location"
	KindCallLog      = "call_log"
	KindCiphertext   = "e2e_notification"
	KindNotification = "notification_template"
	KindRevoked      = "revoked"
	KindOther        = "other"
)

// InboundMessage is the provider-neutral shape of one message event. Media
// bytes are fetched lazily through Download so a dedupe hit never pays for
// the transfer.
type InboundMessage struct {
	ID            string
	ChatJID       string
	SenderJID     string
	SenderName    string
	IsGroup       bool
	FromMe        bool
	Kind          string
	Body          string
	MimeType      string
	FileName      string
	Latitude      float64
	Longitude     float64
	LocationName  string
	VCard         string
	QuotedID      string
	Timestamp     time.Time
	UnreadCount   int
	Download      func(ctx context.Context) ([]byte, error)
	IsSync        bool
	IsAlreadyRead bool
	IsEdit        bool
}

// AckUpdate carries a delivery-state change for already-sent messages.
type AckUpdate struct {
	ChatJID    string
	MessageIDs []string
	Ack        int
}

// Revocation marks a message deleted for everyone.
type Revocation struct {
	ChatJID   string
	MessageID string
}

// InboundEvent is the single event envelope the per-connection dispatcher
// loop consumes. Exactly one field is set.
type InboundEvent struct {
	SectorID   int
	Message    *InboundMessage
	Ack        *AckUpdate
	Revocation *Revocation
}

// ChatSummary describes one chat for the backfill service.
type ChatSummary struct {
	JID           string
	Name          string
	UnreadCount   int
	LastMessageAt time.Time
}

// OutboundMedia is a media payload for the dispatcher.
type OutboundMedia struct {
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// Provider is the WhatsApp transport surface the pipeline depends on. The
// whatsmeow adapter implements it; tests use a fake.
type Provider interface {
	SendText(ctx context.Context, to string, body string) (id string, ts time.Time, err error)
	SendMedia(ctx context.Context, to string, media OutboundMedia) (id string, ts time.Time, err error)
	SendTyping(to string, d time.Duration) error
	ProfilePictureURL(jid string) (string, error)
	// ListChats and FetchMessages serve the backfill sweep. The adapter
	// backs them with the provider's history-sync data.
	ListChats(ctx context.Context) ([]ChatSummary, error)
	FetchMessages(ctx context.Context, chatJID string, limit int) ([]*InboundMessage, error)
	MarkChatRead(chatJID string) error
	// LastChatMessage is the verification probe for sends that errored but
	// may have gone out anyway.
	LastChatMessage(ctx context.Context, chatJID string) (*InboundMessage, error)
}

// MediaStore persists attachment binaries and returns a public URL.
type MediaStore interface {
	UploadBytes(data []byte, fileName string, contentType string) (string, error)
}
