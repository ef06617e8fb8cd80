package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/fieldline/dispatch/internal/dedup"
	"github.com/fieldline/dispatch/pkg/async"
	"github.com/fieldline/dispatch/pkg/common"
	"github.com/fieldline/dispatch/pkg/logger"
	"github.com/fieldline/dispatch/pkg/models"
	"github.com/fieldline/dispatch/pkg/tracing"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler exposes the dispatcher over HTTP.
type Handler struct {
	service *Service
	store   dedup.Store
}

func NewHandler(service *Service, store dedup.Store) *Handler {
	return &Handler{service: service, store: store}
}

// RegisterRoutes wires the dispatch endpoints.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/dispatch/process", h.ProcessTurn)
}

// ProcessTurn decides one SMS turn. A redelivered turn (same
// conversation_sid) is answered from the replay cache byte-for-byte, with
// dedup.ReplayHeader set so the gateway can tell.
func (h *Handler) ProcessTurn(c *gin.Context) {
	var req models.DispatchRequest
	if !common.BindJSON(c, &req) {
		return
	}
	ctx := async.WithConversationSID(c.Request.Context(), req.ConversationSID)

	if cached, found, err := h.store.Lookup(ctx, req.ConversationSID); err != nil {
		// A broken cache must not block the turn; worst case a retry
		// gets a freshly computed answer.
		logger.WarnContext(ctx, "replay lookup failed, processing anyway", zap.Error(err))
	} else if found {
		replaysTotal.WithLabelValues("dispatch_process").Inc()
		c.Header(dedup.ReplayHeader, "true")
		common.RawJSONResponse(c, http.StatusOK, cached)
		return
	}

	decision := h.service.Process(ctx, &req)
	tracing.AddSpanAttributes(ctx, append(
		tracing.ConversationAttributes(req.ConversationSID, string(req.Profile.Trade)),
		tracing.DecisionAttributes(string(decision.Action), string(decision.Stage))...)...)

	body, err := json.Marshal(decision)
	if err != nil {
		logger.ErrorContext(ctx, "decision marshal failed", zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, common.CodeInternalError, "could not encode decision")
		return
	}
	// Recorded only after a decision exists; a failed turn leaves no
	// cache entry, so the gateway's retry gets processed for real.
	if err := h.store.Record(ctx, req.ConversationSID, body); err != nil {
		logger.WarnContext(ctx, "replay record failed", zap.Error(err))
	}
	common.RawJSONResponse(c, http.StatusOK, body)
}
