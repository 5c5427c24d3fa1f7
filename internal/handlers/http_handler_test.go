package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"zapdesk/internal/models"
)

// missingTicketRepo answers every lookup the way the MySQL repository
// reports an unknown id.
type missingTicketRepo struct {
	models.TicketRepository
}

func (missingTicketRepo) GetByID(int) (*models.Ticket, error) {
	return nil, models.ErrNotFound
}

func TestListTicketMessagesUnknownTicketIs404(t *testing.T) {
	h := &HTTPHandler{tickets: missingTicketRepo{}}

	r := httptest.NewRequest(http.MethodGet, "/tickets/99/messages", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "99"})
	w := httptest.NewRecorder()

	h.ListTicketMessages(w, r)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTicketMessagesBadID(t *testing.T) {
	h := &HTTPHandler{tickets: missingTicketRepo{}}

	r := httptest.NewRequest(http.MethodGet, "/tickets/abc/messages", nil)
	r = mux.SetURLVars(r, map[string]string{"id": "abc"})
	w := httptest.NewRecorder()

	h.ListTicketMessages(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
