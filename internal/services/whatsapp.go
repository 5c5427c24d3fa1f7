package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"zapdesk/internal/utils"
)

const eventBufferSize = 256

// chatHistory buffers what the provider pushed during history sync so the
// backfill service can query it later.
type chatHistory struct {
	summary  ChatSummary
	messages []*InboundMessage
}

// WhatsmeowProvider is the whatsmeow-backed Provider for one connection. It
// converts raw client events into the neutral envelope consumed by the
// listener.
type WhatsmeowProvider struct {
	sectorID   int
	sessionDir string
	client     *whatsmeow.Client
	events     chan InboundEvent

	mu        sync.RWMutex
	connected bool
	qrCode    string

	// onQR and onStatus are set by the connection manager before Connect.
	onQR     func(code string)
	onStatus func(status string)

	historyMu sync.RWMutex
	history   map[string]*chatHistory

	// lastFromMe keeps the most recent own message per chat for the
	// dispatcher's send-verification probe.
	lastFromMe *cache.Cache
}

func NewWhatsmeowProvider(sectorID int, sessionDir string) *WhatsmeowProvider {
	return &WhatsmeowProvider{
		sectorID:   sectorID,
		sessionDir: sessionDir,
		events:     make(chan InboundEvent, eventBufferSize),
		history:    make(map[string]*chatHistory),
		lastFromMe: cache.New(10*time.Minute, 5*time.Minute),
	}
}

// Events is the stream the listener consumes. Closed on Close.
func (p *WhatsmeowProvider) Events() <-chan InboundEvent {
	return p.events
}

func (p *WhatsmeowProvider) SetCallbacks(onQR func(code string), onStatus func(status string)) {
	p.onQR = onQR
	p.onStatus = onStatus
}

func (p *WhatsmeowProvider) sessionPath() string {
	return filepath.Join(p.sessionDir, fmt.Sprintf("whatsapp-%d.db", p.sectorID))
}

// Connect opens (or resumes) the session. When the device is not paired yet
// the QR callback starts firing with pairing codes.
func (p *WhatsmeowProvider) Connect(ctx context.Context) error {
	store.DeviceProps.Os = proto.String("ZapDesk")
	store.DeviceProps.PlatformType = waProto.DeviceProps_DESKTOP.Enum()

	if p.client != nil {
		return p.Reconnect()
	}

	dbPath := p.sessionPath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("error creating session directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", dbPath)
	container, err := sqlstore.New("sqlite", dsn, nil)
	if err != nil {
		return fmt.Errorf("error creating device store: %w", err)
	}
	device, err := container.GetFirstDevice()
	if err != nil {
		return fmt.Errorf("error loading device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	client.Store.Platform = "ZapDesk"
	client.AddEventHandler(p.handleEvent)
	p.client = client

	if client.Store.ID == nil {
		qrChan, _ := client.GetQRChannel(ctx)
		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					log.Info().Int("sectorId", p.sectorID).Msg("Pairing code received")
					p.setQRCode(evt.Code)
				}
			}
		}()
	}

	if err := client.Connect(); err != nil {
		return fmt.Errorf("error connecting: %w", err)
	}
	return nil
}

func (p *WhatsmeowProvider) Reconnect() error {
	if p.client == nil {
		return fmt.Errorf("client not initialized")
	}
	if p.client.IsConnected() {
		p.setConnected(true)
		return nil
	}
	if err := p.client.Connect(); err != nil {
		return fmt.Errorf("error reconnecting: %w", err)
	}
	return nil
}

func (p *WhatsmeowProvider) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client != nil && p.client.IsConnected() && p.connected
}

// QRCode returns the latest pairing code, empty when paired or not yet
// generated.
func (p *WhatsmeowProvider) QRCode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.qrCode
}

func (p *WhatsmeowProvider) setQRCode(code string) {
	p.mu.Lock()
	p.qrCode = code
	p.mu.Unlock()
	if p.onQR != nil {
		p.onQR(code)
	}
}

func (p *WhatsmeowProvider) setConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	if connected {
		p.qrCode = ""
	}
	p.mu.Unlock()
}

// Close tears down the client and ends the event stream.
func (p *WhatsmeowProvider) Close() {
	if p.client != nil {
		p.client.Disconnect()
		p.client = nil
	}
	close(p.events)
}

// Logout unpairs the device and removes the local session file.
func (p *WhatsmeowProvider) Logout() error {
	if p.client != nil {
		if err := p.client.Logout(); err != nil {
			log.Warn().Err(err).Int("sectorId", p.sectorID).Msg("Logout request failed")
		}
		p.client.Disconnect()
		p.client = nil
	}
	p.setConnected(false)
	if err := os.Remove(p.sessionPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("error removing session file: %w", err)
	}
	return nil
}

func (p *WhatsmeowProvider) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Message:
		p.handleMessage(e)
	case *events.Receipt:
		p.handleReceipt(e)
	case *events.HistorySync:
		p.handleHistorySync(e)
	case *events.Connected:
		log.Info().Int("sectorId", p.sectorID).Msg("WhatsApp connected")
		p.setConnected(true)
		// Presence must be announced before receipts flow.
		if err := p.client.SendPresence(types.PresenceAvailable); err != nil {
			log.Debug().Err(err).Msg("Presence announce failed")
		}
		p.notifyStatus("connected")
	case *events.Disconnected:
		log.Warn().Int("sectorId", p.sectorID).Msg("WhatsApp disconnected")
		p.setConnected(false)
		p.notifyStatus("disconnected")
	case *events.LoggedOut:
		log.Warn().Int("sectorId", p.sectorID).Msg("WhatsApp logged out")
		p.setConnected(false)
		p.notifyStatus("logged_out")
	}
}

func (p *WhatsmeowProvider) notifyStatus(status string) {
	if p.onStatus != nil {
		p.onStatus(status)
	}
}

func (p *WhatsmeowProvider) handleMessage(evt *events.Message) {
	if rev := revocationOf(evt); rev != nil {
		p.push(InboundEvent{SectorID: p.sectorID, Revocation: rev})
		return
	}

	m := p.convert(evt)
	if m == nil {
		return
	}
	if m.FromMe {
		p.lastFromMe.SetDefault(m.ChatJID, m)
	}
	p.push(InboundEvent{SectorID: p.sectorID, Message: m})
}

func (p *WhatsmeowProvider) handleReceipt(evt *events.Receipt) {
	var ack int
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		ack = 2
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		ack = 3
	case types.ReceiptTypePlayed:
		ack = 4
	default:
		return
	}
	if len(evt.MessageIDs) == 0 {
		return
	}
	p.push(InboundEvent{SectorID: p.sectorID, Ack: &AckUpdate{
		ChatJID:    evt.Chat.String(),
		MessageIDs: evt.MessageIDs,
		Ack:        ack,
	}})
}

// handleHistorySync buffers the conversations the server pushes after pairing
// so the backfill sweep can read them without another round trip.
func (p *WhatsmeowProvider) handleHistorySync(evt *events.HistorySync) {
	for _, conv := range evt.Data.GetConversations() {
		jid, err := types.ParseJID(conv.GetID())
		if err != nil {
			continue
		}

		entry := &chatHistory{summary: ChatSummary{
			JID:         jid.String(),
			Name:        conv.GetName(),
			UnreadCount: int(conv.GetUnreadCount()),
		}}
		if ts := conv.GetConversationTimestamp(); ts > 0 {
			entry.summary.LastMessageAt = time.Unix(int64(ts), 0)
		}

		for _, historyMsg := range conv.GetMessages() {
			parsed, err := p.client.ParseWebMessage(jid, historyMsg.GetMessage())
			if err != nil {
				continue
			}
			if m := p.convert(parsed); m != nil {
				entry.messages = append(entry.messages, m)
			}
		}

		p.historyMu.Lock()
		if existing, ok := p.history[entry.summary.JID]; ok {
			existing.messages = append(existing.messages, entry.messages...)
			if entry.summary.UnreadCount > existing.summary.UnreadCount {
				existing.summary.UnreadCount = entry.summary.UnreadCount
			}
		} else {
			p.history[entry.summary.JID] = entry
		}
		p.historyMu.Unlock()
	}
	log.Debug().Int("sectorId", p.sectorID).Int("conversations", len(evt.Data.GetConversations())).
		Msg("History sync buffered")
}

func (p *WhatsmeowProvider) push(event InboundEvent) {
	select {
	case p.events <- event:
	default:
		log.Warn().Int("sectorId", p.sectorID).Msg("Event buffer full, dropping event")
	}
}

// revocationOf extracts a delete-for-everyone, or nil.
func revocationOf(evt *events.Message) *Revocation {
	protocol := evt.Message.GetProtocolMessage()
	if protocol == nil || protocol.GetType() != waProto.ProtocolMessage_REVOKE {
		return nil
	}
	return &Revocation{
		ChatJID:   evt.Info.Chat.String(),
		MessageID: protocol.GetKey().GetID(),
	}
}

// convert maps one whatsmeow message event to the neutral shape. Unsupported
// payloads return nil.
func (p *WhatsmeowProvider) convert(evt *events.Message) *InboundMessage {
	msg := evt.Message
	m := &InboundMessage{
		ID:         evt.Info.ID,
		ChatJID:    evt.Info.Chat.String(),
		SenderJID:  evt.Info.Sender.String(),
		SenderName: evt.Info.PushName,
		IsGroup:    evt.Info.IsGroup,
		FromMe:     evt.Info.IsFromMe,
		Timestamp:  evt.Info.Timestamp,
	}
	if m.SenderName == "" {
		m.SenderName = utils.BareNumber(utils.NormalizeJID(m.SenderJID))
	}

	if protocol := msg.GetProtocolMessage(); protocol != nil {
		if protocol.GetType() != waProto.ProtocolMessage_MESSAGE_EDIT {
			return nil
		}
		edited := protocol.GetEditedMessage()
		if edited == nil {
			return nil
		}
		m.ID = protocol.GetKey().GetID()
		m.Kind = KindChat
		m.Body = edited.GetConversation()
		if m.Body == "" {
			m.Body = edited.GetExtendedTextMessage().GetText()
		}
		m.IsEdit = true
		return m
	}

	switch {
	case msg.GetConversation() != "":
		m.Kind = KindChat
		m.Body = msg.GetConversation()

	case msg.GetExtendedTextMessage() != nil:
		ext := msg.GetExtendedTextMessage()
		m.Kind = KindChat
		m.Body = ext.GetText()
		m.QuotedID = ext.GetContextInfo().GetStanzaID()

	case msg.GetImageMessage() != nil:
		img := msg.GetImageMessage()
		m.Kind = KindImage
		m.Body = img.GetCaption()
		m.MimeType = img.GetMimetype()
		m.Download = p.downloader(img)

	case msg.GetAudioMessage() != nil:
		audio := msg.GetAudioMessage()
		m.Kind = KindAudio
		if audio.GetPTT() {
			m.Kind = KindPTT
		}
		m.MimeType = audio.GetMimetype()
		m.Download = p.downloader(audio)

	case msg.GetVideoMessage() != nil:
		video := msg.GetVideoMessage()
		m.Kind = KindVideo
		m.Body = video.GetCaption()
		m.MimeType = video.GetMimetype()
		m.Download = p.downloader(video)

	case msg.GetDocumentMessage() != nil:
		doc := msg.GetDocumentMessage()
		m.Kind = KindDocument
		m.Body = doc.GetCaption()
		m.MimeType = doc.GetMimetype()
		m.FileName = doc.GetFileName()
		m.Download = p.downloader(doc)

	case msg.GetStickerMessage() != nil:
		sticker := msg.GetStickerMessage()
		m.Kind = KindImage
		m.MimeType = sticker.GetMimetype()
		m.Download = p.downloader(sticker)

	case msg.GetContactMessage() != nil:
		contact := msg.GetContactMessage()
		m.Kind = KindVCard
		m.Body = contact.GetDisplayName()
		m.VCard = contact.GetVcard()

	case msg.GetLocationMessage() != nil:
		loc := msg.GetLocationMessage()
		m.Kind = KindLocation
		m.Latitude = loc.GetDegreesLatitude()
		m.Longitude = loc.GetDegreesLongitude()
		m.LocationName = loc.GetName()

	case msg.GetCall() != nil:
		m.Kind = KindCallLog

	default:
		return nil
	}
	return m
}

func (p *WhatsmeowProvider) downloader(downloadable whatsmeow.DownloadableMessage) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		return p.client.Download(downloadable)
	}
}

func (p *WhatsmeowProvider) SendText(ctx context.Context, to string, body string) (string, time.Time, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	resp, err := p.client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return "", time.Time{}, err
	}

	p.lastFromMe.SetDefault(jid.String(), &InboundMessage{
		ID:        resp.ID,
		ChatJID:   jid.String(),
		FromMe:    true,
		Kind:      KindChat,
		Body:      body,
		Timestamp: resp.Timestamp,
	})
	return resp.ID, resp.Timestamp, nil
}

func (p *WhatsmeowProvider) SendMedia(ctx context.Context, to string, media OutboundMedia) (string, time.Time, error) {
	jid, err := types.ParseJID(to)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	mimeType := media.MimeType
	if mimeType == "" {
		mimeType = http.DetectContentType(media.Data)
	}

	var mediaType whatsmeow.MediaType
	switch {
	case strings.HasPrefix(mimeType, "image"):
		mediaType = whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "audio"):
		mediaType = whatsmeow.MediaAudio
	case strings.HasPrefix(mimeType, "video"):
		mediaType = whatsmeow.MediaVideo
	default:
		mediaType = whatsmeow.MediaDocument
	}

	uploaded, err := p.client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("error uploading media: %w", err)
	}

	message := buildMediaMessage(mediaType, uploaded, media, mimeType)
	resp, err := p.client.SendMessage(ctx, jid, message)
	if err != nil {
		return "", time.Time{}, err
	}
	return resp.ID, resp.Timestamp, nil
}

func buildMediaMessage(mediaType whatsmeow.MediaType, uploaded whatsmeow.UploadResponse, media OutboundMedia, mimeType string) *waProto.Message {
	size := proto.Uint64(uint64(len(media.Data)))
	switch mediaType {
	case whatsmeow.MediaImage:
		return &waProto.Message{ImageMessage: &waProto.ImageMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileLength:    size,
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	case whatsmeow.MediaAudio:
		return &waProto.Message{AudioMessage: &waProto.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileLength:    size,
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	case whatsmeow.MediaVideo:
		return &waProto.Message{VideoMessage: &waProto.VideoMessage{
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileLength:    size,
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	default:
		return &waProto.Message{DocumentMessage: &waProto.DocumentMessage{
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(media.Caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(mimeType),
			FileLength:    size,
			FileSHA256:    uploaded.FileSHA256,
			FileEncSHA256: uploaded.FileEncSHA256,
		}}
	}
}

// SendTyping shows the composing indicator and clears it after the duration.
func (p *WhatsmeowProvider) SendTyping(to string, d time.Duration) error {
	if !p.IsConnected() {
		return fmt.Errorf("whatsapp not connected")
	}
	jid, err := types.ParseJID(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	if d <= 0 {
		d = 5 * time.Second
	}

	if err := p.client.SendPresence(types.PresenceAvailable); err != nil {
		return fmt.Errorf("error setting presence: %w", err)
	}
	if err := p.client.SendChatPresence(jid, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("error sending typing state: %w", err)
	}
	time.AfterFunc(d, func() {
		if err := p.client.SendChatPresence(jid, types.ChatPresencePaused, types.ChatPresenceMediaText); err != nil {
			log.Debug().Err(err).Str("to", to).Msg("Typing clear failed")
		}
	})
	return nil
}

func (p *WhatsmeowProvider) ProfilePictureURL(jidStr string) (string, error) {
	jid, err := types.ParseJID(jidStr)
	if err != nil {
		return "", err
	}
	pic, err := p.client.GetProfilePictureInfo(jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", err
	}
	if pic == nil {
		return "", nil
	}
	return pic.URL, nil
}

func (p *WhatsmeowProvider) ListChats(ctx context.Context) ([]ChatSummary, error) {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	chats := make([]ChatSummary, 0, len(p.history))
	for _, entry := range p.history {
		chats = append(chats, entry.summary)
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].LastMessageAt.After(chats[j].LastMessageAt) })
	return chats, nil
}

func (p *WhatsmeowProvider) FetchMessages(ctx context.Context, chatJID string, limit int) ([]*InboundMessage, error) {
	p.historyMu.RLock()
	defer p.historyMu.RUnlock()

	entry, ok := p.history[chatJID]
	if !ok {
		return nil, nil
	}
	messages := make([]*InboundMessage, len(entry.messages))
	copy(messages, entry.messages)
	sort.Slice(messages, func(i, j int) bool { return messages[i].Timestamp.After(messages[j].Timestamp) })
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// MarkChatRead sends read receipts for the buffered inbound messages of the
// chat.
func (p *WhatsmeowProvider) MarkChatRead(chatJID string) error {
	jid, err := types.ParseJID(chatJID)
	if err != nil {
		return err
	}

	p.historyMu.RLock()
	entry, ok := p.history[chatJID]
	var ids []types.MessageID
	if ok {
		for _, m := range entry.messages {
			if !m.FromMe {
				ids = append(ids, types.MessageID(m.ID))
			}
		}
	}
	p.historyMu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	return p.client.MarkRead(ids, time.Now(), jid, jid)
}

func (p *WhatsmeowProvider) LastChatMessage(ctx context.Context, chatJID string) (*InboundMessage, error) {
	if last, ok := p.lastFromMe.Get(chatJID); ok {
		return last.(*InboundMessage), nil
	}
	return nil, nil
}
