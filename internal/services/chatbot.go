package services

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
)

// advanceDialog consumes the contact's reply while a dialog stage is open.
// Stages with no ChatbotID are waiting on a root-level pick for the stage's
// queue; stages with a ChatbotID are waiting on a pick among that node's
// children.
func (r *Router) advanceDialog(ctx context.Context, settings *models.Settings, ticket *models.Ticket, contact *models.Contact, stage *models.DialogStage, body string) error {
	if stage.ChatbotID == nil {
		return r.advanceRoot(ctx, ticket, contact, stage, body)
	}
	return r.advanceNode(ctx, ticket, contact, stage, body)
}

func (r *Router) advanceRoot(ctx context.Context, ticket *models.Ticket, contact *models.Contact, stage *models.DialogStage, body string) error {
	if stage.QueueID == nil {
		return r.stages.DeleteByContact(contact.ID)
	}
	options, err := r.chatbots.ListRoots(*stage.QueueID)
	if err != nil {
		return err
	}

	// Root replies are strict: anything that is not a listed number closes
	// the dialog and leaves the ticket waiting for an agent.
	idx, err := strconv.Atoi(body)
	if err != nil || idx < 1 || idx > len(options) {
		return r.stages.DeleteByContact(contact.ID)
	}
	return r.enterNode(ctx, ticket, contact, options[idx-1])
}

func (r *Router) advanceNode(ctx context.Context, ticket *models.Ticket, contact *models.Contact, stage *models.DialogStage, body string) error {
	current, err := r.chatbots.GetByID(*stage.ChatbotID)
	if err != nil {
		return err
	}
	if current == nil {
		return r.stages.DeleteByContact(contact.ID)
	}

	children, err := r.chatbots.ListChildren(current.ID)
	if err != nil {
		return err
	}

	// Deeper levels parse leniently: a non-numeric reply picks the first
	// option instead of dead-ending the conversation.
	idx, convErr := strconv.Atoi(body)
	var child *models.ChatbotNode
	switch {
	case convErr == nil && idx >= 1 && idx <= len(children):
		child = children[idx-1]
	case len(children) > 0:
		child = children[0]
	}

	if child == nil {
		// Exhausted leaf.
		if current.IsAgent {
			return r.handoff(ctx, ticket, contact, current.Name)
		}
		if current.GreetingMessage != "" {
			r.dispatcher.Typing(contact, 2*time.Second)
			r.dispatcher.SendDebounced(ticket, contact, current.GreetingMessage)
		}
		return r.stages.DeleteByContact(contact.ID)
	}
	return r.enterNode(ctx, ticket, contact, child)
}

// enterNode makes the node the active dialog position, sends its content
// and, when it has children, renders the next menu.
func (r *Router) enterNode(ctx context.Context, ticket *models.Ticket, contact *models.Contact, node *models.ChatbotNode) error {
	if node.IsAgent {
		return r.handoff(ctx, ticket, contact, node.Name)
	}
	if node.GreetingMessage == "" {
		return r.stages.DeleteByContact(contact.ID)
	}

	if err := r.stages.Replace(&models.DialogStage{
		ContactID: contact.ID,
		QueueID:   node.QueueID,
		ChatbotID: &node.ID,
		Awaiting:  true,
	}); err != nil {
		return err
	}

	children, err := r.chatbots.ListChildren(node.ID)
	if err != nil {
		return err
	}

	r.dispatcher.Typing(contact, 2*time.Second)
	r.dispatcher.SendDebounced(ticket, contact, renderNodeMenu(node.GreetingMessage, children))
	r.sendNodeMedia(ctx, ticket, contact, node)
	return nil
}

// sendNodeMedia attaches the node's configured media file, if any. Missing
// or unreadable files only skip the attachment.
func (r *Router) sendNodeMedia(ctx context.Context, ticket *models.Ticket, contact *models.Contact, node *models.ChatbotNode) {
	if node.MediaPath == "" {
		return
	}
	data, err := os.ReadFile(node.MediaPath)
	if err != nil {
		log.Warn().Err(err).Str("path", node.MediaPath).Int("chatbotId", node.ID).
			Msg("Chatbot media unreadable, sending text only")
		return
	}
	media := OutboundMedia{
		Data:     data,
		MimeType: http.DetectContentType(data),
		FileName: filepath.Base(node.MediaPath),
	}
	if _, err := r.dispatcher.SendMedia(ctx, ticket, contact, media, ""); err != nil {
		log.Warn().Err(err).Int("chatbotId", node.ID).Msg("Chatbot media send failed")
	}
}

// handoff assigns the ticket to the human agent the node names and takes
// the bot out of the loop.
func (r *Router) handoff(ctx context.Context, ticket *models.Ticket, contact *models.Contact, agentName string) error {
	if err := r.stages.DeleteByContact(contact.ID); err != nil {
		return err
	}

	user, err := r.users.GetByName(agentName)
	if err != nil {
		return err
	}
	if user == nil {
		log.Warn().Str("agent", agentName).Int("ticketId", ticket.ID).
			Msg("Handoff target not found, ticket left unassigned")
		ticket.IsBot = false
		if err := r.tickets.Update(ticket); err != nil {
			return err
		}
		if r.notify != nil {
			r.notify.TicketEvent("update", ticket)
		}
		return nil
	}

	ticket.UserID = &user.ID
	ticket.Status = models.TicketOpen
	ticket.IsBot = false
	if err := r.tickets.Update(ticket); err != nil {
		return fmt.Errorf("error assigning ticket to agent: %w", err)
	}
	if r.notify != nil {
		r.notify.TicketEvent("update", ticket)
	}
	r.webhook.Publish("ticket", r.sectorID, ticket)
	log.Info().Int("ticketId", ticket.ID).Int("userId", user.ID).Str("agent", agentName).
		Msg("Ticket handed off to agent")
	return nil
}
