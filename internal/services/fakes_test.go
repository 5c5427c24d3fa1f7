package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"zapdesk/internal/models"
)

// In-memory repositories and a scripted provider shared by the service tests.

type fakeContactRepo struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]*models.Contact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{byID: make(map[int]*models.Contact)}
}

func (r *fakeContactRepo) GetByID(id int) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id], nil
}

func (r *fakeContactRepo) GetByNumber(sectorID int, number string) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.SectorID == sectorID && c.Number == number {
			return c, nil
		}
	}
	return nil, nil
}

func (r *fakeContactRepo) Upsert(contact *models.Contact) (*models.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byID {
		if c.SectorID == contact.SectorID && c.Number == contact.Number {
			if contact.Name != "" {
				c.Name = contact.Name
			}
			if contact.ProfilePicURL != "" {
				c.ProfilePicURL = contact.ProfilePicURL
			}
			return c, nil
		}
	}
	r.nextID++
	stored := *contact
	stored.ID = r.nextID
	r.byID[stored.ID] = &stored
	return &stored, nil
}

func (r *fakeContactRepo) Update(contact *models.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[contact.ID] = contact
	return nil
}

type fakeTicketRepo struct {
	mu     sync.Mutex
	nextID int
	byID   map[int]*models.Ticket
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{byID: make(map[int]*models.Ticket)}
}

// cloneTicket keeps stored state isolated from caller pointers, the way a
// row scan does. Callers change repository state only through Update.
func cloneTicket(t *models.Ticket) *models.Ticket {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func (r *fakeTicketRepo) GetByID(id int) (*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneTicket(r.byID[id]), nil
}

func (r *fakeTicketRepo) FindActiveByContact(contactID, sectorID int) (*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var found *models.Ticket
	for _, t := range r.byID {
		if t.ContactID == contactID && t.SectorID == sectorID && t.Status != models.TicketClosed {
			if found == nil || t.ID > found.ID {
				found = t
			}
		}
	}
	return cloneTicket(found), nil
}

func (r *fakeTicketRepo) Create(ticket *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ticket.ID = r.nextID
	ticket.CreatedAt = time.Now()
	r.byID[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *fakeTicketRepo) Update(ticket *models.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[ticket.ID] = cloneTicket(ticket)
	return nil
}

func (r *fakeTicketRepo) UpdatePreview(ticketID int, lastMessage string, fromMe bool, unreadDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byID[ticketID]; ok {
		t.LastMessage = lastMessage
		t.FromMe = fromMe
		t.UnreadMessages += unreadDelta
	}
	return nil
}

func (r *fakeTicketRepo) ListOpenPage(afterID, limit int) ([]*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var page []*models.Ticket
	for _, t := range r.byID {
		if t.Status == models.TicketOpen && t.ID > afterID {
			page = append(page, cloneTicket(t))
		}
	}
	sort.Slice(page, func(i, j int) bool { return page[i].ID < page[j].ID })
	if len(page) > limit {
		page = page[:limit]
	}
	return page, nil
}

func (r *fakeTicketRepo) ListNPSBefore(cutoff time.Time, limit int) ([]*models.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var stale []*models.Ticket
	for _, t := range r.byID {
		if t.Status == models.TicketNPS && t.UpdatedAt.Before(cutoff) {
			stale = append(stale, cloneTicket(t))
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	if len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

type fakeMessageRepo struct {
	mu     sync.Mutex
	nextID int64
	byWAID map[string]*models.Message
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{byWAID: make(map[string]*models.Message)}
}

func (r *fakeMessageRepo) Save(message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byWAID[message.WAMessageID]; ok {
		return models.ErrDuplicateMessage
	}
	r.nextID++
	message.ID = r.nextID
	message.CreatedAt = time.Now()
	stored := *message
	r.byWAID[message.WAMessageID] = &stored
	return nil
}

func (r *fakeMessageRepo) GetByWAMessageID(waMessageID string) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byWAID[waMessageID], nil
}

func (r *fakeMessageRepo) ExistsWAMessageID(waMessageID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byWAID[waMessageID]
	return ok, nil
}

func (r *fakeMessageRepo) UpdateAck(waMessageID string, ack int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byWAID[waMessageID]; ok && ack > m.Ack {
		m.Ack = ack
		if ack >= models.AckRead {
			m.Read = true
		}
	}
	return nil
}

func (r *fakeMessageRepo) UpdateBody(waMessageID, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byWAID[waMessageID]; ok {
		m.Body = body
		m.IsEdited = true
	}
	return nil
}

func (r *fakeMessageRepo) MarkDeleted(waMessageID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byWAID[waMessageID]; ok {
		m.IsDeleted = true
	}
	return nil
}

func (r *fakeMessageRepo) GetLastByTicket(ticketID int) (*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *models.Message
	for _, m := range r.byWAID {
		if m.TicketID != ticketID {
			continue
		}
		if last == nil || m.Timestamp.After(last.Timestamp) {
			last = m
		}
	}
	return last, nil
}

func (r *fakeMessageRepo) ListByTicket(ticketID, limit int) ([]*models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var messages []*models.Message
	for _, m := range r.byWAID {
		if m.TicketID == ticketID {
			messages = append(messages, m)
		}
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Timestamp.After(messages[j].Timestamp) })
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

type fakeQueueRepo struct {
	queues []*models.Queue
}

func (r *fakeQueueRepo) GetByID(id int) (*models.Queue, error) {
	for _, q := range r.queues {
		if q.ID == id {
			return q, nil
		}
	}
	return nil, nil
}

func (r *fakeQueueRepo) ListBySector(sectorID int) ([]*models.Queue, error) {
	var out []*models.Queue
	for _, q := range r.queues {
		if q.SectorID == sectorID {
			out = append(out, q)
		}
	}
	return out, nil
}

type fakeChatbotRepo struct {
	nodes []*models.ChatbotNode
}

func (r *fakeChatbotRepo) GetByID(id int) (*models.ChatbotNode, error) {
	for _, n := range r.nodes {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, nil
}

func (r *fakeChatbotRepo) ListRoots(queueID int) ([]*models.ChatbotNode, error) {
	var out []*models.ChatbotNode
	for _, n := range r.nodes {
		if n.QueueID != nil && *n.QueueID == queueID && n.ParentID == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (r *fakeChatbotRepo) ListChildren(nodeID int) ([]*models.ChatbotNode, error) {
	var out []*models.ChatbotNode
	for _, n := range r.nodes {
		if n.ParentID != nil && *n.ParentID == nodeID {
			out = append(out, n)
		}
	}
	return out, nil
}

type fakeStageRepo struct {
	mu       sync.Mutex
	byContct map[int]*models.DialogStage
}

func newFakeStageRepo() *fakeStageRepo {
	return &fakeStageRepo{byContct: make(map[int]*models.DialogStage)}
}

func (r *fakeStageRepo) GetByContact(contactID int) (*models.DialogStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byContct[contactID], nil
}

func (r *fakeStageRepo) Replace(stage *models.DialogStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *stage
	r.byContct[stage.ContactID] = &stored
	return nil
}

func (r *fakeStageRepo) DeleteByContact(contactID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byContct, contactID)
	return nil
}

type fakeUserRepo struct {
	users []*models.User
}

func (r *fakeUserRepo) GetByID(id int) (*models.User, error) {
	for _, u := range r.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByName(name string) (*models.User, error) {
	for _, u := range r.users {
		if u.Name == name {
			return u, nil
		}
	}
	return nil, nil
}

type fakeTrackingRepo struct {
	mu       sync.Mutex
	nextID   int
	byTicket map[int]*models.TicketTracking
}

func newFakeTrackingRepo() *fakeTrackingRepo {
	return &fakeTrackingRepo{byTicket: make(map[int]*models.TicketTracking)}
}

func (r *fakeTrackingRepo) Create(tracking *models.TicketTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	tracking.ID = r.nextID
	r.byTicket[tracking.TicketID] = tracking
	return nil
}

func (r *fakeTrackingRepo) GetOpenByTicket(ticketID int) (*models.TicketTracking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byTicket[ticketID]
	if !ok || t.FinishedAt != nil {
		return nil, nil
	}
	return t, nil
}

func (r *fakeTrackingRepo) Update(tracking *models.TicketTracking) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTicket[tracking.TicketID] = tracking
	return nil
}

type fakeSettingsRepo struct {
	settings *models.Settings
}

func (r *fakeSettingsRepo) GetBySector(sectorID int) (*models.Settings, error) {
	return r.settings, nil
}

// sentMessage records one provider send.
type sentMessage struct {
	To     string
	Body   string
	Media  *OutboundMedia
	SentAt time.Time
}

// fakeProvider scripts the transport side. Failures can be injected per
// recipient; sends are recorded in order.
type fakeProvider struct {
	mu        sync.Mutex
	nextID    int
	sent      []sentMessage
	failSends int
	chats     []ChatSummary
	history   map[string][]*InboundMessage
	lastByJID map[string]*InboundMessage
	readChats []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		history:   make(map[string][]*InboundMessage),
		lastByJID: make(map[string]*InboundMessage),
	}
}

func (p *fakeProvider) SendText(ctx context.Context, to string, body string) (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSends > 0 {
		p.failSends--
		return "", time.Time{}, context.DeadlineExceeded
	}
	p.nextID++
	now := time.Now()
	p.sent = append(p.sent, sentMessage{To: to, Body: body, SentAt: now})
	return p.messageID(), now, nil
}

func (p *fakeProvider) SendMedia(ctx context.Context, to string, media OutboundMedia) (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	now := time.Now()
	p.sent = append(p.sent, sentMessage{To: to, Media: &media, SentAt: now})
	return p.messageID(), now, nil
}

func (p *fakeProvider) messageID() string {
	return fmt.Sprintf("FAKE%d", p.nextID)
}

func (p *fakeProvider) SendTyping(to string, d time.Duration) error { return nil }

func (p *fakeProvider) ProfilePictureURL(jid string) (string, error) { return "", nil }

func (p *fakeProvider) ListChats(ctx context.Context) ([]ChatSummary, error) {
	return p.chats, nil
}

func (p *fakeProvider) FetchMessages(ctx context.Context, chatJID string, limit int) ([]*InboundMessage, error) {
	messages := p.history[chatJID]
	if limit > 0 && len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

func (p *fakeProvider) MarkChatRead(chatJID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readChats = append(p.readChats, chatJID)
	return nil
}

func (p *fakeProvider) LastChatMessage(ctx context.Context, chatJID string) (*InboundMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastByJID[chatJID], nil
}

func (p *fakeProvider) sentBodies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	bodies := make([]string, len(p.sent))
	for i, s := range p.sent {
		bodies[i] = s.Body
	}
	return bodies
}

// recordingNotifier captures realtime events for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	tickets  []string
	messages []string
}

func (n *recordingNotifier) TicketEvent(action string, ticket *models.Ticket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tickets = append(n.tickets, action)
}

func (n *recordingNotifier) MessageEvent(action string, message *models.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, action)
}

// fakeMediaStore records uploads and returns deterministic URLs.
type fakeMediaStore struct {
	mu      sync.Mutex
	uploads []string
}

func (s *fakeMediaStore) UploadBytes(data []byte, fileName string, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads = append(s.uploads, fileName)
	return "https://files.test/" + fileName, nil
}

// pipelineEnv wires the full service graph over the fakes, the same shape the
// connection manager builds in production.
type pipelineEnv struct {
	contacts  *fakeContactRepo
	tickets   *fakeTicketRepo
	messages  *fakeMessageRepo
	queues    *fakeQueueRepo
	chatbots  *fakeChatbotRepo
	stages    *fakeStageRepo
	users     *fakeUserRepo
	trackings *fakeTrackingRepo
	settings  *fakeSettingsRepo
	provider  *fakeProvider
	notify    *recordingNotifier
	media     *fakeMediaStore

	dispatcher *Dispatcher
	resolver   *Resolver
	router     *Router
	lifecycle  *Lifecycle
	listener   *Listener
	sync       *SyncService
}

func newPipelineEnv() *pipelineEnv {
	e := &pipelineEnv{
		contacts:  newFakeContactRepo(),
		tickets:   newFakeTicketRepo(),
		messages:  newFakeMessageRepo(),
		queues:    &fakeQueueRepo{},
		chatbots:  &fakeChatbotRepo{},
		stages:    newFakeStageRepo(),
		users:     &fakeUserRepo{},
		trackings: newFakeTrackingRepo(),
		provider:  newFakeProvider(),
		notify:    &recordingNotifier{},
		media:     &fakeMediaStore{},
	}
	e.settings = &fakeSettingsRepo{settings: &models.Settings{
		SectorID: 1,
		Name:     "Suporte",
		Sync:     models.DefaultSyncSettings(),
	}}

	e.dispatcher = NewDispatcher(1, "Suporte", e.provider, e.messages, e.tickets, e.notify, nil)
	e.dispatcher.verifyDelay = 0
	e.dispatcher.debounce = time.Millisecond

	e.resolver = NewResolver(1, e.provider, e.contacts, e.tickets, e.notify, nil)
	e.router = NewRouter(1, e.queues, e.chatbots, e.stages, e.users, e.tickets, e.dispatcher, e.notify, nil)
	e.lifecycle = NewLifecycle(1, e.settings, e.tickets, e.contacts, e.messages, e.trackings, e.dispatcher, e.notify, nil)
	e.listener = NewListener(1, e.settings, e.resolver, e.router, e.dispatcher, e.lifecycle, e.messages, e.tickets, e.media, e.notify, nil)
	e.sync = NewSyncService(1, e.settings, e.provider, e.listener, e.messages)
	return e
}

func (e *pipelineEnv) seedConversation(number string) (*models.Contact, *models.Ticket) {
	contact, _ := e.contacts.Upsert(&models.Contact{Name: "Maria", Number: number, SectorID: 1})
	ticket := &models.Ticket{Status: models.TicketOpen, ContactID: contact.ID, SectorID: 1, IsBot: true}
	_ = e.tickets.Create(ticket)
	return contact, ticket
}

// waitForSends polls until the provider has recorded at least want sends.
// Debounced sends fire on their own timers.
func waitForSends(t *testing.T, p *fakeProvider, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.sent)
		p.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d provider sends", want)
}

func intPtr(v int) *int { return &v }
