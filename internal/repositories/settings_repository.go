package repositories

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"zapdesk/internal/models"
)

// MySQLSettingsRepository reads the per-sector behavioral settings the admin
// UI stores as a JSON document alongside the sector row.
type MySQLSettingsRepository struct {
	db *sql.DB
}

func NewMySQLSettingsRepository(db *sql.DB) *MySQLSettingsRepository {
	return &MySQLSettingsRepository{db: db}
}

func (r *MySQLSettingsRepository) GetBySector(sectorID int) (*models.Settings, error) {
	query := `SELECT id, name, settings FROM sectors WHERE id = ?`

	var name string
	var raw sql.NullString
	err := r.db.QueryRow(query, sectorID).Scan(&sectorID, &name, &raw)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting sector settings: %w", err)
	}

	settings := &models.Settings{
		SectorID: sectorID,
		Name:     name,
		Sync:     models.DefaultSyncSettings(),
	}
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), settings); err != nil {
			return nil, fmt.Errorf("error decoding sector settings: %w", err)
		}
		settings.SectorID = sectorID
		if settings.Name == "" {
			settings.Name = name
		}
		if settings.Sync.Mode == "" {
			settings.Sync = models.DefaultSyncSettings()
		}
	}
	return settings, nil
}
