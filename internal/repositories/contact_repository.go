package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
)

type MySQLContactRepository struct {
	db *sql.DB
}

func NewMySQLContactRepository(db *sql.DB) *MySQLContactRepository {
	return &MySQLContactRepository{db: db}
}

func (r *MySQLContactRepository) GetByID(id int) (*models.Contact, error) {
	query := `
		SELECT id, name, number, profile_pic_url, is_group, sector_id, created_at, updated_at
		FROM contacts
		WHERE id = ?`
	return r.scanOne(r.db.QueryRow(query, id))
}

func (r *MySQLContactRepository) GetByNumber(sectorID int, number string) (*models.Contact, error) {
	query := `
		SELECT id, name, number, profile_pic_url, is_group, sector_id, created_at, updated_at
		FROM contacts
		WHERE sector_id = ? AND number = ?`
	return r.scanOne(r.db.QueryRow(query, sectorID, number))
}

func (r *MySQLContactRepository) scanOne(row *sql.Row) (*models.Contact, error) {
	contact := &models.Contact{}
	var picURL sql.NullString

	err := row.Scan(
		&contact.ID,
		&contact.Name,
		&contact.Number,
		&picURL,
		&contact.IsGroup,
		&contact.SectorID,
		&contact.CreatedAt,
		&contact.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting contact: %w", err)
	}

	contact.ProfilePicURL = picURL.String
	return contact, nil
}

func (r *MySQLContactRepository) Upsert(contact *models.Contact) (*models.Contact, error) {
	query := `
		INSERT INTO contacts (sector_id, number, name, profile_pic_url, is_group, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, NOW(), NOW())
		ON DUPLICATE KEY UPDATE
			name = IF(VALUES(name) <> '', VALUES(name), name),
			profile_pic_url = IF(VALUES(profile_pic_url) <> '', VALUES(profile_pic_url), profile_pic_url),
			updated_at = NOW()`

	_, err := r.db.Exec(query,
		contact.SectorID,
		contact.Number,
		contact.Name,
		utils.NullString(contact.ProfilePicURL),
		utils.BoolToInt(contact.IsGroup),
	)
	if err != nil {
		return nil, fmt.Errorf("error upserting contact: %w", err)
	}

	return r.GetByNumber(contact.SectorID, contact.Number)
}

func (r *MySQLContactRepository) Update(contact *models.Contact) error {
	query := `
		UPDATE contacts
		SET name = ?, profile_pic_url = ?, updated_at = NOW()
		WHERE id = ?`

	_, err := r.db.Exec(query, contact.Name, utils.NullString(contact.ProfilePicURL), contact.ID)
	if err != nil {
		return fmt.Errorf("error updating contact: %w", err)
	}
	return nil
}
