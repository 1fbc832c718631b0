package handlers

import (
	"net/http"

	"factory_device/internal/models"
	"factory_device/internal/service"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK = "ok"

	errGetState        = "failed to load state"
	errSyncDesired     = "failed to fetch desired properties"
	errInvalidBodyPref = "invalid body: "
)

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// ReconcileResponse is the outcome of applying a desired document.
type ReconcileResponse struct {
	// Desired version the acknowledgments carry
	Version int64 `json:"version" example:"7"`
	// Properties applied (or re-acknowledged)
	Applied []string `json:"applied"`
	// Rejected properties and the reason for each
	Rejected map[string]string `json:"rejected,omitempty"`
	// Set when the document was older than the mirrored version and was skipped
	Stale bool `json:"stale,omitempty"`
}

func newReconcileResponse(res service.ReconcileResult) ReconcileResponse {
	out := ReconcileResponse{Version: res.Version, Applied: res.Applied, Stale: res.Stale}
	if out.Applied == nil {
		out.Applied = []string{}
	}
	if len(res.Failed) > 0 {
		out.Rejected = make(map[string]string, len(res.Failed))
		for name, err := range res.Failed {
			out.Rejected[name] = err.Error()
		}
	}
	return out
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Get device state
// @Description  Simulated temperature plus the reported property document
// @Tags         device
// @Produce      json
// @Success      200  {object}  models.DeviceState
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/device/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.services.Monitoring.GetState(ctx)
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, errGetState, "device_get_state_failed", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// @Summary      Apply desired properties
// @Description  Applies a desired document locally, as if the control plane had patched it. Invalid fields are rejected one by one.
// @Tags         device
// @Accept       json
// @Produce      json
// @Param        body  body      object  true  "Desired document, e.g. {\"$version\":7,\"UnitPerMinute\":{\"value\":90}}"
// @Success      200   {object}  ReconcileResponse
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/device/desired [post]
// @Security     BearerAuth
func (h *Handler) applyDesired(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	doc, err := models.ParseDesired(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	res := h.services.Reconciler.Reconcile(c.Request.Context(), doc)
	if h.log != nil {
		h.log.Infow("desired_applied_locally", "operator_id", c.GetInt(operatorCtxKey), "version", res.Version, "applied", len(res.Applied), "rejected", len(res.Failed))
	}
	c.JSON(http.StatusOK, newReconcileResponse(res))
}

// @Summary      Sync desired properties
// @Description  Fetches the full desired document from the control plane and reconciles it
// @Tags         device
// @Produce      json
// @Success      200  {object}  ReconcileResponse
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/v1/device/sync [post]
// @Security     BearerAuth
func (h *Handler) syncDesired(c *gin.Context) {
	res, err := h.services.Reconciler.Sync(c.Request.Context())
	if err != nil {
		h.logAndJSONError(c, http.StatusBadGateway, errSyncDesired, "desired_sync_failed", err)
		return
	}
	c.JSON(http.StatusOK, newReconcileResponse(res))
}
