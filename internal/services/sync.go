package services

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
)

// SyncStats summarizes one backfill sweep.
type SyncStats struct {
	ChatsProcessed  int           `json:"chatsProcessed"`
	ChatsSkipped    int           `json:"chatsSkipped"`
	MessagesStored  int           `json:"messagesStored"`
	MessagesSkipped int           `json:"messagesSkipped"`
	Errors          int           `json:"errors"`
	Duration        time.Duration `json:"duration"`
}

// SyncService backfills recent history after a (re)connect. It is bounded by
// the sector's sync settings, never by wall clock.
type SyncService struct {
	sectorID int
	settings models.SettingsRepository
	provider Provider
	listener *Listener
	messages models.MessageRepository
	now      func() time.Time
}

func NewSyncService(sectorID int, settings models.SettingsRepository, provider Provider, listener *Listener, messages models.MessageRepository) *SyncService {
	return &SyncService{
		sectorID: sectorID,
		settings: settings,
		provider: provider,
		listener: listener,
		messages: messages,
		now:      time.Now,
	}
}

// Run performs one sweep. Per-chat failures are counted and skipped; only a
// failure to list chats aborts.
func (s *SyncService) Run(ctx context.Context) (*SyncStats, error) {
	started := s.now()
	cfg := s.loadConfig()
	stats := &SyncStats{}

	chats, err := s.provider.ListChats(ctx)
	if err != nil {
		return nil, err
	}
	chats = selectChats(chats, cfg)

	ceiling := s.now().Add(-time.Duration(cfg.MaxMessageAgeHours) * time.Hour)
	for i, chat := range chats {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && cfg.DelayBetweenChatsMs > 0 {
			time.Sleep(time.Duration(cfg.DelayBetweenChatsMs) * time.Millisecond)
		}
		if err := s.syncChat(ctx, chat, cfg, ceiling, stats); err != nil {
			log.Warn().Err(err).Str("chat", chat.JID).Msg("Chat sync failed")
			stats.Errors++
			continue
		}
		stats.ChatsProcessed++
	}

	stats.Duration = s.now().Sub(started)
	log.Info().Int("sectorId", s.sectorID).
		Int("chats", stats.ChatsProcessed).
		Int("stored", stats.MessagesStored).
		Int("skipped", stats.MessagesSkipped).
		Int("errors", stats.Errors).
		Dur("duration", stats.Duration).
		Msg("Backfill sweep finished")
	return stats, nil
}

func (s *SyncService) syncChat(ctx context.Context, chat ChatSummary, cfg models.SyncSettings, ceiling time.Time, stats *SyncStats) error {
	history, err := s.provider.FetchMessages(ctx, chat.JID, cfg.MaxMessagesPerChat)
	if err != nil {
		return err
	}

	fresh := make([]*InboundMessage, 0, len(history))
	for _, m := range history {
		if m.Timestamp.Before(ceiling) {
			stats.MessagesSkipped++
			continue
		}
		exists, err := s.messages.ExistsWAMessageID(m.ID)
		if err != nil {
			return err
		}
		if exists {
			stats.MessagesSkipped++
			continue
		}
		fresh = append(fresh, m)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp.Before(fresh[j].Timestamp) })

	alreadyRead := chat.UnreadCount == 0
	for _, m := range fresh {
		m.IsSync = true
		m.IsAlreadyRead = m.IsAlreadyRead || alreadyRead
		m.UnreadCount = chat.UnreadCount
		if err := s.listener.handleMessage(ctx, m); err != nil {
			log.Warn().Err(err).Str("id", m.ID).Msg("Backfill store failed")
			stats.Errors++
			continue
		}
		stats.MessagesStored++
	}

	if cfg.MarkAsSeen && chat.UnreadCount > 0 {
		if err := s.provider.MarkChatRead(chat.JID); err != nil {
			log.Debug().Err(err).Str("chat", chat.JID).Msg("Mark-as-read failed")
		}
	}
	return nil
}

// selectChats applies the mode filter and the chat cap. "unread" takes the
// chats with the most unread first; "all" takes the most recent.
func selectChats(chats []ChatSummary, cfg models.SyncSettings) []ChatSummary {
	eligible := make([]ChatSummary, 0, len(chats))
	for _, chat := range chats {
		if utils.IsBroadcastJID(chat.JID) {
			continue
		}
		if cfg.Mode == models.SyncModeUnread && chat.UnreadCount == 0 {
			continue
		}
		eligible = append(eligible, chat)
	}

	if cfg.Mode == models.SyncModeUnread {
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].UnreadCount > eligible[j].UnreadCount })
	} else {
		sort.Slice(eligible, func(i, j int) bool { return eligible[i].LastMessageAt.After(eligible[j].LastMessageAt) })
	}

	if cfg.MaxChatsToProcess > 0 && len(eligible) > cfg.MaxChatsToProcess {
		eligible = eligible[:cfg.MaxChatsToProcess]
	}
	return eligible
}

func (s *SyncService) loadConfig() models.SyncSettings {
	settings, err := s.settings.GetBySector(s.sectorID)
	if err != nil || settings == nil {
		if err != nil {
			log.Error().Err(err).Int("sectorId", s.sectorID).Msg("Settings load failed, using sync defaults")
		}
		return models.DefaultSyncSettings()
	}
	cfg := settings.Sync
	if cfg.Mode == "" {
		cfg = models.DefaultSyncSettings()
	}
	return cfg
}
