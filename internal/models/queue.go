package models

import "time"

// Queue is a department ("sector" in the admin UI) inbound conversations are
// routed to. StartWork/EndWork are "HH:MM" strings; empty means always open.
type Queue struct {
	ID              int       `json:"id"`
	SectorID        int       `json:"sectorId"`
	Name            string    `json:"name"`
	StartWork       string    `json:"startWork"`
	EndWork         string    `json:"endWork"`
	GreetingMessage string    `json:"greetingMessage"`
	AbsenceMessage  string    `json:"absenceMessage"`
	IsAgent         bool      `json:"isAgent"`
	OrderPos        int       `json:"orderPos"`
	CreatedAt       time.Time `json:"createdAt"`
}

type QueueRepository interface {
	GetByID(id int) (*Queue, error)
	// ListBySector returns the sector's queues in menu order.
	ListBySector(sectorID int) ([]*Queue, error)
}
