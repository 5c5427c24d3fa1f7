package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"zapdesk/internal/models"
	"zapdesk/internal/repositories"
	"zapdesk/internal/services"
)

type HTTPHandler struct {
	manager  *services.ConnectionManager
	media    services.MediaStore
	users    models.UserRepository
	tickets  models.TicketRepository
	messages models.MessageRepository
}

func NewHTTPHandler(manager *services.ConnectionManager, media services.MediaStore) *HTTPHandler {
	db := manager.DB()
	return &HTTPHandler{
		manager:  manager,
		media:    media,
		users:    repositories.NewMySQLUserRepository(db),
		tickets:  repositories.NewMySQLTicketRepository(db),
		messages: repositories.NewMySQLMessageRepository(db),
	}
}

// @Summary Send a text message
// @Description Send a text message to a WhatsApp contact
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.MessageRequest true "Message details"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Router /send-message [post]
func (h *HTTPHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req models.MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Erro ao decodificar requisição: "+err.Error()))
		return
	}

	pipeline, err := h.manager.GetPipeline(req.SectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}

	contact, ticket, err := pipeline.Resolver.Resolve(&services.InboundMessage{
		ChatJID: req.Recipient,
		FromMe:  true,
	})
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}

	body := req.Message
	if prefix := h.agentPrefix(req.UserID); prefix != "" {
		body = prefix + body
	}

	message, err := pipeline.Dispatcher.SendText(r.Context(), ticket, contact, body)
	if err != nil {
		log.Error().Err(err).Str("recipient", req.Recipient).Msg("Send failed")
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Erro ao enviar mensagem: "+err.Error()))
		return
	}

	if ticket.IsBot {
		ticket.IsBot = false
		if err := h.tickets.Update(ticket); err != nil {
			log.Error().Err(err).Int("ticketId", ticket.ID).Msg("Ticket update failed")
		}
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagem enviada com sucesso", message))
}

// @Summary Send a media message
// @Description Send a base64-encoded file to a WhatsApp contact
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.MediaMessageRequest true "Media message details"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.APIResponse
// @Router /send-media [post]
func (h *HTTPHandler) SendMedia(w http.ResponseWriter, r *http.Request) {
	var req models.MediaMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Erro ao decodificar requisição: "+err.Error()))
		return
	}

	base64Data := req.Base64File
	if i := strings.Index(base64Data, ";base64,"); i > -1 {
		base64Data = base64Data[i+8:]
	}
	data, err := base64.StdEncoding.DecodeString(base64Data)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Erro ao decodificar base64: "+err.Error()))
		return
	}

	pipeline, err := h.manager.GetPipeline(req.SectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}

	contact, ticket, err := pipeline.Resolver.Resolve(&services.InboundMessage{
		ChatJID: req.Recipient,
		FromMe:  true,
	})
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}

	mimeType := http.DetectContentType(data)
	mediaURL := ""
	if h.media != nil {
		url, err := h.media.UploadBytes(data, req.FileName, mimeType)
		if err != nil {
			log.Warn().Err(err).Str("fileName", req.FileName).Msg("Attachment upload failed")
		} else {
			mediaURL = url
		}
	}

	media := services.OutboundMedia{
		Data:     data,
		MimeType: mimeType,
		FileName: req.FileName,
		Caption:  req.Caption,
	}
	message, err := pipeline.Dispatcher.SendMedia(r.Context(), ticket, contact, media, mediaURL)
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse("Erro ao enviar arquivo: "+err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Arquivo enviado com sucesso", message))
}

// @Summary Show typing presence
// @Tags messages
// @Accept json
// @Produce json
// @Param request body models.TypingRequest true "Typing details"
// @Success 200 {object} models.APIResponse
// @Router /send-typing [post]
func (h *HTTPHandler) SendTyping(w http.ResponseWriter, r *http.Request) {
	var req models.TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("Erro ao decodificar requisição: "+err.Error()))
		return
	}

	pipeline, err := h.manager.GetPipeline(req.SectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}
	if err := pipeline.Provider.SendTyping(req.Recipient, 0); err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Status de digitação enviado", nil))
}

// @Summary Get pairing QR code
// @Tags connection
// @Produce json
// @Param sectorId query int true "Sector id"
// @Success 200 {object} models.APIResponse
// @Router /qrcode [get]
func (h *HTTPHandler) GetQRCode(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := h.sectorParam(w, r)
	if !ok {
		return
	}
	qr, err := h.manager.GetQRCode(sectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("QR code gerado", map[string]string{"qrcode": qr}))
}

// @Summary Get connection status
// @Tags connection
// @Produce json
// @Param sectorId query int true "Sector id"
// @Success 200 {object} models.APIResponse
// @Router /status [get]
func (h *HTTPHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := h.sectorParam(w, r)
	if !ok {
		return
	}
	status, err := h.manager.GetConnectionStatus(sectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Status da conexão", map[string]string{"status": status}))
}

// @Summary Disconnect a sector
// @Tags connection
// @Produce json
// @Param sectorId query int true "Sector id"
// @Success 200 {object} models.APIResponse
// @Router /disconnect [post]
func (h *HTTPHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := h.sectorParam(w, r)
	if !ok {
		return
	}
	if err := h.manager.Disconnect(sectorID); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Conexão encerrada", nil))
}

// @Summary Log out and remove the session
// @Tags connection
// @Produce json
// @Param sectorId query int true "Sector id"
// @Success 200 {object} models.APIResponse
// @Router /logout [post]
func (h *HTTPHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := h.sectorParam(w, r)
	if !ok {
		return
	}
	if err := h.manager.Logout(sectorID); err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sessão removida", nil))
}

// @Summary Trigger a history backfill
// @Tags connection
// @Produce json
// @Param sectorId query int true "Sector id"
// @Success 200 {object} models.APIResponse
// @Router /sync [post]
func (h *HTTPHandler) RunSync(w http.ResponseWriter, r *http.Request) {
	sectorID, ok := h.sectorParam(w, r)
	if !ok {
		return
	}
	pipeline, err := h.manager.GetPipeline(sectorID)
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse(err.Error()))
		return
	}
	stats, err := pipeline.Sync.Run(r.Context())
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Sincronização concluída", stats))
}

// @Summary List open tickets
// @Tags tickets
// @Produce json
// @Param afterId query int false "Return tickets with id greater than this"
// @Param limit query int false "Page size, default 50"
// @Success 200 {object} models.APIResponse
// @Router /tickets [get]
func (h *HTTPHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	afterID, _ := strconv.Atoi(r.URL.Query().Get("afterId"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	tickets, err := h.tickets.ListOpenPage(afterID, limit)
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Tickets abertos", tickets))
}

// @Summary List the messages of a ticket
// @Tags tickets
// @Produce json
// @Param id path int true "Ticket id"
// @Param limit query int false "Page size, default 50"
// @Success 200 {object} models.APIResponse
// @Router /tickets/{id}/messages [get]
func (h *HTTPHandler) ListTicketMessages(w http.ResponseWriter, r *http.Request) {
	ticketID, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("id inválido"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	ticket, err := h.tickets.GetByID(ticketID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	if ticket == nil {
		models.RespondWithJSON(w, http.StatusNotFound, models.NewErrorResponse("ticket não encontrado"))
		return
	}

	messages, err := h.messages.ListByTicket(ticketID, limit)
	if err != nil {
		models.RespondWithJSON(w, http.StatusInternalServerError, models.NewErrorResponse(err.Error()))
		return
	}
	models.RespondWithJSON(w, http.StatusOK, models.NewSuccessResponse("Mensagens do ticket", messages))
}

// agentPrefix renders the "*Name*:" header shown when a known agent sends
// through the API.
func (h *HTTPHandler) agentPrefix(userID *int) string {
	if userID == nil {
		return ""
	}
	user, err := h.users.GetByID(*userID)
	if err != nil || user == nil {
		return ""
	}
	return "*" + user.Name + "*:\n\n"
}

func (h *HTTPHandler) sectorParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	sectorID, err := strconv.Atoi(r.URL.Query().Get("sectorId"))
	if err != nil || sectorID <= 0 {
		models.RespondWithJSON(w, http.StatusBadRequest, models.NewErrorResponse("sectorId inválido"))
		return 0, false
	}
	return sectorID, true
}
