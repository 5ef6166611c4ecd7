package voucher

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/athwifi/voucher-api/internal/domain/plan"
	"github.com/athwifi/voucher-api/internal/pkg/errorhandler"
	"github.com/athwifi/voucher-api/internal/pkg/logger"
	"github.com/athwifi/voucher-api/internal/pkg/response"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	maxImportRows  = 5000
)

// Handler serves the admin inventory endpoints.
type Handler struct {
	svc      *Service
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewHandler(svc *Service, hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		svc: svc,
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if len(allowedOrigins) == 0 {
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				log.Warn().Str("origin", origin).Msg("WebSocket origin rejected")
				return false
			},
		},
	}
}

// List handles GET /vouchers?tier=&consumed=&search=&page=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ListFilter{Search: q.Get("search")}

	if t := q.Get("tier"); t != "" {
		tier, err := plan.ParseTier(t)
		if err != nil {
			response.BadRequest(w, "unknown tier")
			return
		}
		f.Tier = tier
	}
	if c := q.Get("consumed"); c != "" {
		consumed, err := strconv.ParseBool(c)
		if err != nil {
			response.BadRequest(w, "consumed must be true or false")
			return
		}
		f.Consumed = &consumed
	}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.normalize()

	items, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to list vouchers")
		response.InternalError(w)
		return
	}
	response.WithMeta(w, items, response.NewMeta(total, f.Page, f.Limit))
}

// GetByReference handles GET /vouchers/by-reference/{reference}
func (h *Handler) GetByReference(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.GetByReference(r.Context(), chi.URLParam(r, "reference"))
	if errors.Is(err, ErrVoucherNotFound) {
		response.NotFound(w, "no voucher for this reference")
		return
	}
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to load voucher")
		response.InternalError(w)
		return
	}
	response.OK(w, map[string]interface{}{
		"voucher":    v,
		"expires_at": v.ExpiresAt(),
	})
}

// Stock handles GET /vouchers/stock
func (h *Handler) Stock(w http.ResponseWriter, r *http.Request) {
	stock, err := h.svc.Stock(r.Context())
	if err != nil {
		logger.LogError(r.Context(), err, "Failed to count stock")
		response.InternalError(w)
		return
	}
	response.OK(w, stock)
}

type importRequest struct {
	Items []ImportItem `json:"items"`
}

// Import handles POST /vouchers/import
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "Invalid JSON body")
		return
	}
	if len(req.Items) > maxImportRows {
		response.BadRequest(w, "batch is too large, split it up")
		return
	}

	res, err := h.svc.Import(r.Context(), req.Items)
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.Created(w, res)
}

// PurgeExpired handles DELETE /vouchers/expired
func (h *Handler) PurgeExpired(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.PurgeExpired(r.Context())
	if err != nil {
		errorhandler.HandleError(r.Context(), w, err)
		return
	}
	response.OK(w, res)
}

// Stream handles WS /vouchers/ws
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := &Client{Conn: conn, Send: make(chan []byte, 16)}
	h.hub.Register(client)

	go h.wsReader(client)
	go h.wsWriter(client)
}

// wsReader only keeps the connection alive; admins never send commands.
func (h *Handler) wsReader(client *Client) {
	defer func() {
		h.hub.Unregister(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(maxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Msg("Inventory stream read error")
			}
			return
		}
	}
}

func (h *Handler) wsWriter(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Routes returns the admin inventory routes; auth is mounted by the caller.
// Inventory writes additionally go through elevated.
func (h *Handler) Routes(elevated func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/stock", h.Stock)
	r.Get("/by-reference/{reference}", h.GetByReference)
	r.Get("/ws", h.Stream)
	r.With(elevated).Post("/import", h.Import)
	r.With(elevated).Delete("/expired", h.PurgeExpired)
	return r
}
