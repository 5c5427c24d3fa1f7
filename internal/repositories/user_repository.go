package repositories

import (
	"database/sql"
	"fmt"

	"zapdesk/internal/models"
)

type MySQLUserRepository struct {
	db *sql.DB
}

func NewMySQLUserRepository(db *sql.DB) *MySQLUserRepository {
	return &MySQLUserRepository{db: db}
}

func (r *MySQLUserRepository) GetByID(id int) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRow(`SELECT id, name FROM users WHERE id = ?`, id).Scan(&user.ID, &user.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user: %w", err)
	}
	return user, nil
}

func (r *MySQLUserRepository) GetByName(name string) (*models.User, error) {
	user := &models.User{}
	err := r.db.QueryRow(`SELECT id, name FROM users WHERE name = ?`, name).Scan(&user.ID, &user.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error getting user by name: %w", err)
	}
	return user, nil
}
