package models

import "time"

type Contact struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Number        string    `json:"number"`
	ProfilePicURL string    `json:"profilePicUrl"`
	IsGroup       bool      `json:"isGroup"`
	SectorID      int       `json:"sectorId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type ContactRepository interface {
	GetByID(id int) (*Contact, error)
	GetByNumber(sectorID int, number string) (*Contact, error)
	// Upsert creates the contact keyed by (sector, number) or updates name
	// and profile picture when they changed. Returns the stored row.
	Upsert(contact *Contact) (*Contact, error)
	Update(contact *Contact) error
}
