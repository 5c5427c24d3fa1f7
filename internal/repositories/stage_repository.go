package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
)

type MySQLDialogStageRepository struct {
	db *sql.DB
}

func NewMySQLDialogStageRepository(db *sql.DB) *MySQLDialogStageRepository {
	return &MySQLDialogStageRepository{db: db}
}

func (r *MySQLDialogStageRepository) GetByContact(contactID int) (*models.DialogStage, error) {
	query := `
		SELECT id, contact_id, queue_id, chatbot_id, awaiting, created_at
		FROM dialog_stages
		WHERE contact_id = ?`

	stage := &models.DialogStage{}
	var queueID, chatbotID sql.NullInt64

	err := r.db.QueryRow(query, contactID).Scan(
		&stage.ID,
		&stage.ContactID,
		&queueID,
		&chatbotID,
		&stage.Awaiting,
		&stage.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting dialog stage: %w", err)
	}

	if queueID.Valid {
		id := int(queueID.Int64)
		stage.QueueID = &id
	}
	if chatbotID.Valid {
		id := int(chatbotID.Int64)
		stage.ChatbotID = &id
	}
	return stage, nil
}

// Replace swaps the contact's cursor atomically: the unique key on
// contact_id guarantees one active dialog per contact even under races.
func (r *MySQLDialogStageRepository) Replace(stage *models.DialogStage) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM dialog_stages WHERE contact_id = ?`, stage.ContactID); err != nil {
		return fmt.Errorf("error clearing dialog stage: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO dialog_stages (contact_id, queue_id, chatbot_id, awaiting, created_at)
		VALUES (?, ?, ?, ?, NOW())`,
		stage.ContactID,
		nullIntPtr(stage.QueueID),
		nullIntPtr(stage.ChatbotID),
		utils.BoolToInt(stage.Awaiting),
	)
	if err != nil {
		return fmt.Errorf("error inserting dialog stage: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting last insert id: %w", err)
	}
	stage.ID = int(id)

	return tx.Commit()
}

func (r *MySQLDialogStageRepository) DeleteByContact(contactID int) error {
	if _, err := r.db.Exec(`DELETE FROM dialog_stages WHERE contact_id = ?`, contactID); err != nil {
		return fmt.Errorf("error deleting dialog stage: %w", err)
	}
	return nil
}
