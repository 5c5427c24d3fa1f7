package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
)

type MySQLChatbotRepository struct {
	db *sql.DB
}

func NewMySQLChatbotRepository(db *sql.DB) *MySQLChatbotRepository {
	return &MySQLChatbotRepository{db: db}
}

const chatbotColumns = `
	id, name, greeting_message, media_path, is_agent, queue_id, chatbot_id,
	order_pos, created_at`

func (r *MySQLChatbotRepository) GetByID(id int) (*models.ChatbotNode, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE id = ?`
	node, err := r.scanRow(r.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	return node, err
}

func (r *MySQLChatbotRepository) ListRoots(queueID int) ([]*models.ChatbotNode, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE queue_id = ? AND chatbot_id IS NULL ORDER BY order_pos, id`
	return r.fetchNodes(query, queueID)
}

func (r *MySQLChatbotRepository) ListChildren(nodeID int) ([]*models.ChatbotNode, error) {
	query := `SELECT ` + chatbotColumns + ` FROM chatbots WHERE chatbot_id = ? ORDER BY order_pos, id`
	return r.fetchNodes(query, nodeID)
}

func (r *MySQLChatbotRepository) fetchNodes(query string, args ...interface{}) ([]*models.ChatbotNode, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying chatbot nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.ChatbotNode
	for rows.Next() {
		node, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chatbot nodes: %w", err)
	}
	return nodes, nil
}

func (r *MySQLChatbotRepository) scanRow(row rowScanner) (*models.ChatbotNode, error) {
	node := &models.ChatbotNode{}
	var greeting, mediaPath sql.NullString
	var queueID, parentID sql.NullInt64

	err := row.Scan(
		&node.ID,
		&node.Name,
		&greeting,
		&mediaPath,
		&node.IsAgent,
		&queueID,
		&parentID,
		&node.OrderPos,
		&node.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning chatbot node: %w", err)
	}

	node.GreetingMessage = greeting.String
	node.MediaPath = mediaPath.String
	if queueID.Valid {
		id := int(queueID.Int64)
		node.QueueID = &id
	}
	if parentID.Valid {
		id := int(parentID.Int64)
		node.ParentID = &id
	}
	return node, nil
}
