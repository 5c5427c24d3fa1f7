package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"zapdesk/internal/models"
	"zapdesk/internal/utils"
)

type MySQLTicketRepository struct {
	db *sql.DB
}

func NewMySQLTicketRepository(db *sql.DB) *MySQLTicketRepository {
	return &MySQLTicketRepository{db: db}
}

const ticketColumns = `
	id, status, contact_id, sector_id, queue_id, user_id, unread_messages,
	last_message, is_group, from_me, is_bot, created_at, updated_at`

func (r *MySQLTicketRepository) GetByID(id int) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	ticket, err := r.scanRow(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return ticket, err
}

func (r *MySQLTicketRepository) FindActiveByContact(contactID, sectorID int) (*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE contact_id = ? AND sector_id = ? AND status IN ('open', 'pending', 'nps')
		ORDER BY id DESC
		LIMIT 1`

	ticket, err := r.scanRow(r.db.QueryRow(query, contactID, sectorID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ticket, err
}

func (r *MySQLTicketRepository) Create(ticket *models.Ticket) error {
	query := `
		INSERT INTO tickets (
			status, contact_id, sector_id, queue_id, user_id, unread_messages,
			last_message, is_group, from_me, is_bot, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NOW(), NOW())`

	result, err := r.db.Exec(query,
		ticket.Status,
		ticket.ContactID,
		ticket.SectorID,
		nullIntPtr(ticket.QueueID),
		nullIntPtr(ticket.UserID),
		ticket.UnreadMessages,
		ticket.LastMessage,
		utils.BoolToInt(ticket.IsGroup),
		utils.BoolToInt(ticket.FromMe),
		utils.BoolToInt(ticket.IsBot),
	)
	if err != nil {
		return fmt.Errorf("error creating ticket: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting last insert id: %w", err)
	}
	ticket.ID = int(id)
	return nil
}

func (r *MySQLTicketRepository) Update(ticket *models.Ticket) error {
	query := `
		UPDATE tickets
		SET status = ?, queue_id = ?, user_id = ?, unread_messages = ?,
			last_message = ?, from_me = ?, is_bot = ?, updated_at = NOW()
		WHERE id = ?`

	_, err := r.db.Exec(query,
		ticket.Status,
		nullIntPtr(ticket.QueueID),
		nullIntPtr(ticket.UserID),
		ticket.UnreadMessages,
		ticket.LastMessage,
		utils.BoolToInt(ticket.FromMe),
		utils.BoolToInt(ticket.IsBot),
		ticket.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating ticket: %w", err)
	}
	return nil
}

func (r *MySQLTicketRepository) UpdatePreview(ticketID int, lastMessage string, fromMe bool, unreadDelta int) error {
	query := `
		UPDATE tickets
		SET last_message = ?, from_me = ?,
			unread_messages = GREATEST(unread_messages + ?, 0),
			updated_at = NOW()
		WHERE id = ?`

	_, err := r.db.Exec(query, lastMessage, utils.BoolToInt(fromMe), unreadDelta, ticketID)
	if err != nil {
		return fmt.Errorf("error updating ticket preview: %w", err)
	}
	return nil
}

func (r *MySQLTicketRepository) ListOpenPage(afterID, limit int) ([]*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status = 'open' AND id > ?
		ORDER BY id
		LIMIT ?`
	return r.fetchTickets(query, afterID, limit)
}

func (r *MySQLTicketRepository) ListNPSBefore(cutoff time.Time, limit int) ([]*models.Ticket, error) {
	query := `
		SELECT ` + ticketColumns + `
		FROM tickets
		WHERE status = 'nps' AND updated_at < ?
		ORDER BY id
		LIMIT ?`
	return r.fetchTickets(query, cutoff, limit)
}

func (r *MySQLTicketRepository) fetchTickets(query string, args ...interface{}) ([]*models.Ticket, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*models.Ticket
	for rows.Next() {
		ticket, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tickets: %w", err)
	}
	return tickets, nil
}

func (r *MySQLTicketRepository) scanRow(row rowScanner) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	var queueID, userID sql.NullInt64
	var lastMessage sql.NullString

	err := row.Scan(
		&ticket.ID,
		&ticket.Status,
		&ticket.ContactID,
		&ticket.SectorID,
		&queueID,
		&userID,
		&ticket.UnreadMessages,
		&lastMessage,
		&ticket.IsGroup,
		&ticket.FromMe,
		&ticket.IsBot,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning ticket: %w", err)
	}

	if queueID.Valid {
		id := int(queueID.Int64)
		ticket.QueueID = &id
	}
	if userID.Valid {
		id := int(userID.Int64)
		ticket.UserID = &id
	}
	ticket.LastMessage = lastMessage.String
	return ticket, nil
}
