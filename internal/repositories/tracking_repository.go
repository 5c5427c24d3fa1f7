package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
)

type MySQLTrackingRepository struct {
	db *sql.DB
}

func NewMySQLTrackingRepository(db *sql.DB) *MySQLTrackingRepository {
	return &MySQLTrackingRepository{db: db}
}

func (r *MySQLTrackingRepository) Create(tracking *models.TicketTracking) error {
	query := `
		INSERT INTO ticket_trackings (ticket_id, user_id, closed_at, finished_at, rating_at, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NOW())`

	result, err := r.db.Exec(query,
		tracking.TicketID,
		nullIntPtr(tracking.UserID),
		tracking.ClosedAt,
		tracking.FinishedAt,
		tracking.RatingAt,
		nullIntPtr(tracking.Rating),
	)
	if err != nil {
		return fmt.Errorf("error creating ticket tracking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("error getting last insert id: %w", err)
	}
	tracking.ID = int(id)
	return nil
}

func (r *MySQLTrackingRepository) GetOpenByTicket(ticketID int) (*models.TicketTracking, error) {
	query := `
		SELECT id, ticket_id, user_id, closed_at, finished_at, rating_at, rating, created_at
		FROM ticket_trackings
		WHERE ticket_id = ? AND finished_at IS NULL
		ORDER BY id DESC
		LIMIT 1`

	tracking := &models.TicketTracking{}
	var userID, rating sql.NullInt64
	var closedAt, finishedAt, ratingAt sql.NullTime

	err := r.db.QueryRow(query, ticketID).Scan(
		&tracking.ID,
		&tracking.TicketID,
		&userID,
		&closedAt,
		&finishedAt,
		&ratingAt,
		&rating,
		&tracking.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting ticket tracking: %w", err)
	}

	if userID.Valid {
		id := int(userID.Int64)
		tracking.UserID = &id
	}
	if rating.Valid {
		v := int(rating.Int64)
		tracking.Rating = &v
	}
	if closedAt.Valid {
		tracking.ClosedAt = &closedAt.Time
	}
	if finishedAt.Valid {
		tracking.FinishedAt = &finishedAt.Time
	}
	if ratingAt.Valid {
		tracking.RatingAt = &ratingAt.Time
	}
	return tracking, nil
}

func (r *MySQLTrackingRepository) Update(tracking *models.TicketTracking) error {
	query := `
		UPDATE ticket_trackings
		SET user_id = ?, closed_at = ?, finished_at = ?, rating_at = ?, rating = ?
		WHERE id = ?`

	_, err := r.db.Exec(query,
		nullIntPtr(tracking.UserID),
		tracking.ClosedAt,
		tracking.FinishedAt,
		tracking.RatingAt,
		nullIntPtr(tracking.Rating),
		tracking.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating ticket tracking: %w", err)
	}
	return nil
}
