package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"zapdesk/config"
	"zapdesk/internal/models"
	"zapdesk/internal/repositories"
	"zapdesk/internal/wsnotify"
)

// Pipeline is the full per-connection processing chain: one provider, its
// listener loop and the services hanging off it.
type Pipeline struct {
	SectorID   int
	Provider   *WhatsmeowProvider
	Listener   *Listener
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Router     *Router
	Lifecycle  *Lifecycle
	Sync       *SyncService

	cancel context.CancelFunc
}

// ConnectionManager owns the active pipelines, one per sector, and their
// status rows in the database.
type ConnectionManager struct {
	db      *sql.DB
	cfg     *config.Config
	notify  wsnotify.Notifier
	webhook *WebhookService
	media   MediaStore
	cron    *cron.Cron

	contacts  models.ContactRepository
	tickets   models.TicketRepository
	messages  models.MessageRepository
	queues    models.QueueRepository
	chatbots  models.ChatbotRepository
	stages    models.DialogStageRepository
	users     models.UserRepository
	trackings models.TrackingRepository
	settings  models.SettingsRepository

	mu        sync.RWMutex
	pipelines map[int]*Pipeline
}

func NewConnectionManager(db *sql.DB, cfg *config.Config, notify wsnotify.Notifier, webhook *WebhookService, media MediaStore, c *cron.Cron) *ConnectionManager {
	return &ConnectionManager{
		db:        db,
		cfg:       cfg,
		notify:    notify,
		webhook:   webhook,
		media:     media,
		cron:      c,
		contacts:  repositories.NewMySQLContactRepository(db),
		tickets:   repositories.NewMySQLTicketRepository(db),
		messages:  repositories.NewMySQLMessageRepository(db),
		queues:    repositories.NewMySQLQueueRepository(db),
		chatbots:  repositories.NewMySQLChatbotRepository(db),
		stages:    repositories.NewMySQLDialogStageRepository(db),
		users:     repositories.NewMySQLUserRepository(db),
		trackings: repositories.NewMySQLTrackingRepository(db),
		settings:  repositories.NewMySQLSettingsRepository(db),
		pipelines: make(map[int]*Pipeline),
	}
}

// GetPipeline returns the running pipeline for the sector, connecting it on
// first use.
func (cm *ConnectionManager) GetPipeline(sectorID int) (*Pipeline, error) {
	cm.mu.RLock()
	if pipeline, ok := cm.pipelines[sectorID]; ok {
		cm.mu.RUnlock()
		return pipeline, nil
	}
	cm.mu.RUnlock()
	return cm.Connect(sectorID)
}

// Connect builds and starts the pipeline for the sector.
func (cm *ConnectionManager) Connect(sectorID int) (*Pipeline, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if pipeline, ok := cm.pipelines[sectorID]; ok {
		return pipeline, nil
	}

	settings, err := cm.settings.GetBySector(sectorID)
	if err != nil {
		return nil, fmt.Errorf("error loading sector %d: %w", sectorID, err)
	}
	sectorName := settings.Name

	if err := cm.ensureStatusRow(sectorID); err != nil {
		return nil, err
	}

	provider := NewWhatsmeowProvider(sectorID, cm.cfg.SessionDir)
	provider.SetCallbacks(
		func(code string) {
			if err := cm.storeQRCode(sectorID, code); err != nil {
				log.Error().Err(err).Int("sectorId", sectorID).Msg("QR code store failed")
			}
		},
		func(status string) {
			if err := cm.updateStatus(sectorID, status, ""); err != nil {
				log.Error().Err(err).Int("sectorId", sectorID).Msg("Status update failed")
			}
		},
	)

	dispatcher := NewDispatcher(sectorID, sectorName, provider, cm.messages, cm.tickets, cm.notify, cm.webhook)
	resolver := NewResolver(sectorID, provider, cm.contacts, cm.tickets, cm.notify, cm.webhook)
	router := NewRouter(sectorID, cm.queues, cm.chatbots, cm.stages, cm.users, cm.tickets, dispatcher, cm.notify, cm.webhook)
	lifecycle := NewLifecycle(sectorID, cm.settings, cm.tickets, cm.contacts, cm.messages, cm.trackings, dispatcher, cm.notify, cm.webhook)
	listener := NewListener(sectorID, cm.settings, resolver, router, dispatcher, lifecycle, cm.messages, cm.tickets, cm.media, cm.notify, cm.webhook)
	syncService := NewSyncService(sectorID, cm.settings, provider, listener, cm.messages)

	ctx, cancel := context.WithCancel(context.Background())
	pipeline := &Pipeline{
		SectorID:   sectorID,
		Provider:   provider,
		Listener:   listener,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Router:     router,
		Lifecycle:  lifecycle,
		Sync:       syncService,
		cancel:     cancel,
	}

	if err := provider.Connect(ctx); err != nil {
		cancel()
		if statusErr := cm.updateStatus(sectorID, "disconnected", err.Error()); statusErr != nil {
			log.Error().Err(statusErr).Int("sectorId", sectorID).Msg("Status update failed")
		}
		return nil, fmt.Errorf("error connecting sector %d: %w", sectorID, err)
	}
	go listener.Run(ctx, provider.Events())

	if cm.cron != nil {
		if err := lifecycle.Schedule(cm.cron); err != nil {
			log.Error().Err(err).Int("sectorId", sectorID).Msg("Sweep scheduling failed")
		}
	}

	// Backfill once the initial history sync had a chance to arrive.
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(15 * time.Second):
		}
		if _, err := syncService.Run(ctx); err != nil {
			log.Error().Err(err).Int("sectorId", sectorID).Msg("Backfill failed")
		}
	}()

	cm.pipelines[sectorID] = pipeline
	log.Info().Int("sectorId", sectorID).Str("sector", sectorName).Msg("Pipeline started")
	return pipeline, nil
}

func (cm *ConnectionManager) ensureStatusRow(sectorID int) error {
	_, err := cm.db.Exec(`
		INSERT INTO whatsapp_connections (sector_id, status, created_at, updated_at)
		VALUES (?, 'disconnected', NOW(), NOW())
		ON DUPLICATE KEY UPDATE updated_at = NOW()`,
		sectorID)
	if err != nil {
		return fmt.Errorf("error preparing connection row: %w", err)
	}
	return nil
}

func (cm *ConnectionManager) updateStatus(sectorID int, status, lastError string) error {
	_, err := cm.db.Exec(`
		UPDATE whatsapp_connections
		SET status = ?, last_error = ?, updated_at = NOW()
		WHERE sector_id = ?`,
		status, lastError, sectorID)
	return err
}

// storeQRCode renders the pairing code as a PNG data URI and stores it for
// the admin UI to poll.
func (cm *ConnectionManager) storeQRCode(sectorID int, code string) error {
	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("error rendering QR code: %w", err)
	}
	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)

	_, err = cm.db.Exec(`
		UPDATE whatsapp_connections
		SET qrcode_base64 = ?, status = 'connecting', last_qrcode_generated_at = NOW(), updated_at = NOW()
		WHERE sector_id = ?`,
		dataURI, sectorID)
	return err
}

// GetQRCode returns the stored pairing image, connecting the sector first
// when needed. Already-paired sectors get an error.
func (cm *ConnectionManager) GetQRCode(sectorID int) (string, error) {
	cm.mu.RLock()
	pipeline, running := cm.pipelines[sectorID]
	cm.mu.RUnlock()

	if running && pipeline.Provider.IsConnected() {
		return "", fmt.Errorf("sector %d is already connected", sectorID)
	}
	if !running {
		if _, err := cm.Connect(sectorID); err != nil {
			return "", err
		}
	}

	// The pairing code arrives asynchronously after the websocket opens.
	for attempt := 0; attempt < 10; attempt++ {
		time.Sleep(1 * time.Second)

		var stored sql.NullString
		var generatedAt sql.NullTime
		err := cm.db.QueryRow(`
			SELECT qrcode_base64, last_qrcode_generated_at
			FROM whatsapp_connections
			WHERE sector_id = ? AND qrcode_base64 IS NOT NULL`,
			sectorID).Scan(&stored, &generatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("error reading QR code: %w", err)
		}
		if stored.Valid && generatedAt.Valid && time.Since(generatedAt.Time) <= 30*time.Second {
			return stored.String, nil
		}
	}
	return "", fmt.Errorf("timed out waiting for QR code for sector %d", sectorID)
}

func (cm *ConnectionManager) GetConnectionStatus(sectorID int) (string, error) {
	var status string
	err := cm.db.QueryRow(`SELECT status FROM whatsapp_connections WHERE sector_id = ?`, sectorID).Scan(&status)
	if err == sql.ErrNoRows {
		return "not_found", nil
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

// Disconnect stops the sector's pipeline, keeping the pairing.
func (cm *ConnectionManager) Disconnect(sectorID int) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	pipeline, ok := cm.pipelines[sectorID]
	if !ok {
		return fmt.Errorf("no active pipeline for sector %d", sectorID)
	}
	pipeline.cancel()
	pipeline.Provider.Close()
	delete(cm.pipelines, sectorID)
	return cm.updateStatus(sectorID, "disconnected", "")
}

// Logout unpairs the sector and removes its session.
func (cm *ConnectionManager) Logout(sectorID int) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	pipeline, ok := cm.pipelines[sectorID]
	if !ok {
		return fmt.Errorf("no active pipeline for sector %d", sectorID)
	}
	pipeline.cancel()
	if err := pipeline.Provider.Logout(); err != nil {
		log.Warn().Err(err).Int("sectorId", sectorID).Msg("Session teardown incomplete")
	}
	delete(cm.pipelines, sectorID)

	_, err := cm.db.Exec(`
		UPDATE whatsapp_connections
		SET status = 'disconnected', qrcode_base64 = NULL, last_disconnected_at = NOW(), updated_at = NOW()
		WHERE sector_id = ?`,
		sectorID)
	return err
}

func (cm *ConnectionManager) DB() *sql.DB {
	return cm.db
}

// CloseAll shuts every pipeline down, bounded so shutdown never hangs.
func (cm *ConnectionManager) CloseAll() {
	done := make(chan struct{})
	go func() {
		cm.mu.Lock()
		defer cm.mu.Unlock()
		for sectorID, pipeline := range cm.pipelines {
			pipeline.cancel()
			pipeline.Provider.Close()
			delete(cm.pipelines, sectorID)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All pipelines stopped")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timed out stopping pipelines")
	}
}
