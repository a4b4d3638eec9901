// Package system exposes the platform-wide read-only/config and cost
// endpoints (§6: GET /system/config, GET /system/cost).
package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/internal/httpserver"
	"github.com/CoderRahul01/unideploy/pkg/intent"
)

// Handler serves system-level introspection endpoints.
type Handler struct {
	limits guard.Limits
	ledger *intent.CostLedger
}

// NewHandler creates a Handler.
func NewHandler(limits guard.Limits, ledger *intent.CostLedger) *Handler {
	return &Handler{limits: limits, ledger: ledger}
}

// Mount registers the system routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/system/config", h.handleConfig)
	r.Get("/system/cost", h.handleCost)
}

type configResponse struct {
	ReadOnly       bool `json:"read_only"`
	Maintenance    bool `json:"maintenance"`
	DailyLimitMins int  `json:"daily_limit_mins"`
}

func (h *Handler) handleConfig(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, configResponse{
		ReadOnly: h.limits.IsReadOnly(),
		// The platform has no separate maintenance flag beyond read-only in
		// this design; the two are reported identically.
		Maintenance:    h.limits.IsReadOnly(),
		DailyLimitMins: h.limits.DailyRuntimeLimitMins,
	})
}

type costSummary struct {
	TotalEstimatedUSD float64               `json:"total_estimated_usd"`
	Events            []intent.CostRecord   `json:"events"`
}

const maxCostEvents = 100

func (h *Handler) handleCost(w http.ResponseWriter, r *http.Request) {
	records, err := h.ledger.ReadAll()
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "reading cost ledger")
		return
	}

	if len(records) > maxCostEvents {
		records = records[len(records)-maxCostEvents:]
	}

	var total float64
	for _, rec := range records {
		total += estimateCostUSD(rec)
	}

	httpserver.Respond(w, http.StatusOK, costSummary{TotalEstimatedUSD: total, Events: records})
}

// perTierHourlyUSD are the reference platform's rough sandbox-cost rates,
// used only to surface an indicative running total on /system/cost.
var perTierHourlyUSD = map[string]float64{
	"SEED":   0.01,
	"LAUNCH": 0.05,
	"SCALE":  0.20,
}

func estimateCostUSD(rec intent.CostRecord) float64 {
	rate, ok := perTierHourlyUSD[rec.Tier]
	if !ok {
		rate = perTierHourlyUSD["SEED"]
	}
	return rate * float64(rec.Minutes) / 60.0
}
