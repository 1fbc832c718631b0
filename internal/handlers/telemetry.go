package handlers

import (
	"net/http"
	"strconv"
	"time"

	"factory_device/internal/models"
	"factory_device/internal/service"

	"github.com/gin-gonic/gin"
)

const errLimitInvalid = "invalid 'limit'; use a non-negative integer"

// TelemetrySample is one locally recorded telemetry message.
type TelemetrySample struct {
	RecordedAt  time.Time `json:"recorded_at"`
	DeviceID    string    `json:"device_id" example:"factory-device-01"`
	Temperature float64   `json:"temperature" example:"84.5"`
	NewUnits    int64     `json:"new_units" example:"10"`
	Overheated  bool      `json:"overheated"`
}

func newTelemetrySamples(recs []models.TelemetryRecord) []TelemetrySample {
	out := make([]TelemetrySample, 0, len(recs))
	for _, r := range recs {
		out = append(out, TelemetrySample{
			RecordedAt:  r.RecordedAt,
			DeviceID:    r.DeviceID,
			Temperature: r.Temperature,
			NewUnits:    r.NewUnits,
			Overheated:  r.Overheated,
		})
	}
	return out
}

// @Summary      List telemetry history
// @Description  Most recent samples first. 'limit' defaults to 100 and is capped at 1000.
// @Tags         telemetry
// @Produce      json
// @Param        from   query   string  false  "Start of range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD')"
// @Param        to     query   string  false  "End of range; date-only treated as end of day"
// @Param        limit  query   int     false  "Maximum number of samples"  example(50)
// @Success      200    {object}  map[string]interface{}  "count, samples"
// @Failure      400    {object}  map[string]string
// @Failure      401    {object}  map[string]string
// @Failure      500    {object}  map[string]string
// @Router       /api/v1/telemetry [get]
// @Security     BearerAuth
func (h *Handler) getTelemetry(c *gin.Context) {
	from, to, ok := queryRange(c)
	if !ok {
		return
	}
	limit := 0
	if qs := c.Query("limit"); qs != "" {
		n, err := strconv.Atoi(qs)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": errLimitInvalid})
			return
		}
		limit = n
	}

	recs, err := h.services.TelemetryHistory.List(c.Request.Context(), service.TelemetryFilter{
		From:  from,
		To:    to,
		Limit: limit,
	})
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to load telemetry", "telemetry_list_failed", err, "from", from, "to", to, "limit", limit)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(recs),
		"samples": newTelemetrySamples(recs),
	})
}
