package models

import "time"

// TicketTracking is the lifecycle audit row for one assignment cycle of a
// ticket. ClosedAt is set when the ticket leaves "open"; FinishedAt when the
// rating workflow (or force close) ends it for good.
type TicketTracking struct {
	ID         int        `json:"id"`
	TicketID   int        `json:"ticketId"`
	UserID     *int       `json:"userId"`
	ClosedAt   *time.Time `json:"closedAt"`
	FinishedAt *time.Time `json:"finishedAt"`
	RatingAt   *time.Time `json:"ratingAt"`
	Rating     *int       `json:"rating"`
	CreatedAt  time.Time  `json:"createdAt"`
}

type TrackingRepository interface {
	Create(tracking *TicketTracking) error
	// GetOpenByTicket returns the unfinished tracking row for the ticket,
	// or nil when none exists.
	GetOpenByTicket(ticketID int) (*TicketTracking, error)
	Update(tracking *TicketTracking) error
}
