package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
)

type MySQLQueueRepository struct {
	db *sql.DB
}

func NewMySQLQueueRepository(db *sql.DB) *MySQLQueueRepository {
	return &MySQLQueueRepository{db: db}
}

const queueColumns = `
	id, sector_id, name, start_work, end_work, greeting_message,
	absence_message, is_agent, order_pos, created_at`

func (r *MySQLQueueRepository) GetByID(id int) (*models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE id = ?`
	queue, err := r.scanRow(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return queue, err
}

func (r *MySQLQueueRepository) ListBySector(sectorID int) ([]*models.Queue, error) {
	query := `SELECT ` + queueColumns + ` FROM queues WHERE sector_id = ? ORDER BY order_pos, id`

	rows, err := r.db.Query(query, sectorID)
	if err != nil {
		return nil, fmt.Errorf("error querying queues: %w", err)
	}
	defer rows.Close()

	var queues []*models.Queue
	for rows.Next() {
		queue, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queues: %w", err)
	}
	return queues, nil
}

func (r *MySQLQueueRepository) scanRow(row rowScanner) (*models.Queue, error) {
	queue := &models.Queue{}
	var startWork, endWork, greeting, absence sql.NullString

	err := row.Scan(
		&queue.ID,
		&queue.SectorID,
		&queue.Name,
		&startWork,
		&endWork,
		&greeting,
		&absence,
		&queue.IsAgent,
		&queue.OrderPos,
		&queue.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning queue: %w", err)
	}

	queue.StartWork = startWork.String
	queue.EndWork = endWork.String
	queue.GreetingMessage = greeting.String
	queue.AbsenceMessage = absence.String
	return queue, nil
}
