package plan

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athwifi/voucher-api/internal/pkg/response"
)

// StockReader reports available credentials per tier.
type StockReader interface {
	AvailableByTier(ctx context.Context) (map[Tier]int, error)
}

// Handler serves the public catalog.
type Handler struct {
	stock StockReader
}

// NewHandler creates a catalog handler. stock may be nil, in which case
// availability is omitted.
func NewHandler(stock StockReader) *Handler {
	return &Handler{stock: stock}
}

type planResponse struct {
	Plan
	Price     string `json:"price_display"`
	Available *bool  `json:"available,omitempty"`
}

// List handles GET /plans
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var available map[Tier]int
	if h.stock != nil {
		counts, err := h.stock.AvailableByTier(r.Context())
		if err != nil {
			response.InternalError(w)
			return
		}
		available = counts
	}

	plans := All()
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		item := planResponse{Plan: p, Price: FormatNaira(p.PriceNaira)}
		if available != nil {
			inStock := available[p.Tier] > 0
			item.Available = &inStock
		}
		out = append(out, item)
	}
	response.OK(w, out)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	return r
}
