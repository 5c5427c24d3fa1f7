package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
)

type MySQLMessageRepository struct {
	db *sql.DB
}

func NewMySQLMessageRepository(db *sql.DB) *MySQLMessageRepository {
	return &MySQLMessageRepository{db: db}
}

const messageColumns = `
	id, wa_message_id, ticket_id, contact_id, sector_id, body, media_url,
	media_type, file_name, mime_type, from_me, is_read, ack, quoted_msg_id,
	is_deleted, is_edited, timestamp, created_at`

func (r *MySQLMessageRepository) Save(message *models.Message) error {
	query := `
		INSERT INTO messages (
			wa_message_id, ticket_id, contact_id, sector_id, body, media_url,
			media_type, file_name, mime_type, from_me, is_read, ack,
			quoted_msg_id, is_deleted, is_edited, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW())`

	result, err := r.db.Exec(query,
		message.WAMessageID,
		message.TicketID,
		nullIntPtr(message.ContactID),
		message.SectorID,
		message.Body,
		utils.NullString(message.MediaURL),
		utils.NullString(message.MediaType),
		utils.NullString(message.FileName),
		utils.NullString(message.MimeType),
		utils.BoolToInt(message.FromMe),
		utils.BoolToInt(message.Read),
		message.Ack,
		nullStringPtr(message.QuotedMsgID),
		utils.BoolToInt(message.IsDeleted),
		utils.BoolToInt(message.IsEdited),
		message.Timestamp,
	)
	if err != nil {
		// Unique key on wa_message_id is the idempotence backstop for
		// concurrent duplicate deliveries.
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return models.ErrDuplicateMessage
		}
		return fmt.Errorf("error saving message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting last insert id: %w", err)
	}
	message.ID = id
	return nil
}

func (r *MySQLMessageRepository) GetByWAMessageID(waMessageID string) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE wa_message_id = ?`
	return r.scanOne(r.db.QueryRow(query, waMessageID))
}

func (r *MySQLMessageRepository) ExistsWAMessageID(waMessageID string) (bool, error) {
	var one int
	err := r.db.QueryRow(`SELECT 1 FROM messages WHERE wa_message_id = ?`, waMessageID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("error checking message existence: %w", err)
	}
	return true, nil
}

func (r *MySQLMessageRepository) UpdateAck(waMessageID string, ack int) error {
	query := `UPDATE messages SET ack = ?, is_read = IF(? >= 3, 1, is_read) WHERE wa_message_id = ? AND ack < ?`
	_, err := r.db.Exec(query, ack, ack, waMessageID, ack)
	if err != nil {
		return fmt.Errorf("error updating ack: %w", err)
	}
	return nil
}

func (r *MySQLMessageRepository) UpdateBody(waMessageID, body string) error {
	_, err := r.db.Exec(`UPDATE messages SET body = ?, is_edited = 1 WHERE wa_message_id = ?`, body, waMessageID)
	if err != nil {
		return fmt.Errorf("error updating message body: %w", err)
	}
	return nil
}

func (r *MySQLMessageRepository) MarkDeleted(waMessageID string) error {
	_, err := r.db.Exec(`UPDATE messages SET is_deleted = 1 WHERE wa_message_id = ?`, waMessageID)
	if err != nil {
		return fmt.Errorf("error marking message deleted: %w", err)
	}
	return nil
}

func (r *MySQLMessageRepository) GetLastByTicket(ticketID int) (*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ticket_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`
	return r.scanOne(r.db.QueryRow(query, ticketID))
}

func (r *MySQLMessageRepository) ListByTicket(ticketID, limit int) ([]*models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE ticket_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := r.db.Query(query, ticketID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		message, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *MySQLMessageRepository) scanOne(row *sql.Row) (*models.Message, error) {
	message, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return message, err
}

func (r *MySQLMessageRepository) scanRow(row rowScanner) (*models.Message, error) {
	message := &models.Message{}
	var contactID sql.NullInt64
	var mediaURL, mediaType, fileName, mimeType, quotedMsgID sql.NullString

	err := row.Scan(
		&message.ID,
		&message.WAMessageID,
		&message.TicketID,
		&contactID,
		&message.SectorID,
		&message.Body,
		&mediaURL,
		&mediaType,
		&fileName,
		&mimeType,
		&message.FromMe,
		&message.Read,
		&message.Ack,
		&quotedMsgID,
		&message.IsDeleted,
		&message.IsEdited,
		&message.Timestamp,
		&message.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning message: %w", err)
	}

	if contactID.Valid {
		id := int(contactID.Int64)
		message.ContactID = &id
	}
	message.MediaURL = mediaURL.String
	message.MediaType = mediaType.String
	message.FileName = fileName.String
	message.MimeType = mimeType.String
	if quotedMsgID.Valid {
		message.QuotedMsgID = &quotedMsgID.String
	}
	return message, nil
}

func nullIntPtr(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
