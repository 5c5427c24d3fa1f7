package models

import "time"

// ChatbotNode is one node of a queue's chatbot tree. Exactly one of QueueID
// (root node) or ParentID (nested node) is set. Children are addressed by
// 1-based position in the rendered menu. A node with IsAgent set is a
// terminal leaf that hands the ticket to the human user matching Name.
type ChatbotNode struct {
	ID              int       `json:"id"`
	Name            string    `json:"name"`
	GreetingMessage string    `json:"greetingMessage"`
	MediaPath       string    `json:"mediaPath"`
	IsAgent         bool      `json:"isAgent"`
	QueueID         *int      `json:"queueId"`
	ParentID        *int      `json:"chatbotId"`
	OrderPos        int       `json:"orderPos"`
	CreatedAt       time.Time `json:"createdAt"`
}

type ChatbotRepository interface {
	GetByID(id int) (*ChatbotNode, error)
	ListRoots(queueID int) ([]*ChatbotNode, error)
	ListChildren(nodeID int) ([]*ChatbotNode, error)
}

// DialogStage is the per-contact cursor into the chatbot tree. One row per
// contact; replaced on every transition, deleted on completion or reset.
type DialogStage struct {
	ID        int       `json:"id"`
	ContactID int       `json:"contactId"`
	QueueID   *int      `json:"queueId"`
	ChatbotID *int      `json:"chatbotId"`
	Awaiting  bool      `json:"awaiting"`
	CreatedAt time.Time `json:"createdAt"`
}

type DialogStageRepository interface {
	GetByContact(contactID int) (*DialogStage, error)
	// Replace deletes any existing stage for the contact and inserts the
	// new one in a single transaction.
	Replace(stage *DialogStage) error
	DeleteByContact(contactID int) error
}
