package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/autoanalyse/carscout/internal/models"
	"github.com/autoanalyse/carscout/internal/repository"
	"github.com/autoanalyse/carscout/internal/services/stats"
)

// Handler serves the dashboard's read-only queries. It never writes to the
// store; the scraper process is the only writer.
type Handler struct {
	log   *slog.Logger
	store repository.Store
	stats *stats.Service
}

// NewHandler creates a new API handler.
func NewHandler(log *slog.Logger, store repository.Store, statsSvc *stats.Service) *Handler {
	return &Handler{log: log, store: store, stats: statsSvc}
}

// HealthCheck reports service liveness.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListModels returns every make/model pair present in storage.
func (h *Handler) ListModels(c *gin.Context) {
	pairs, err := h.store.GetVehicleModels(c.Request.Context())
	if err != nil {
		h.serverError(c, "failed to list models", err)
		return
	}

	out := make([]VehicleModelResponse, 0, len(pairs))
	for _, pair := range pairs {
		out = append(out, VehicleModelResponse{Make: pair[0], Model: pair[1]})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// GetListings returns the current listings for ?make=&model=. Inactive
// rows are included only with ?include_inactive=true.
func (h *Handler) GetListings(c *gin.Context) {
	mk, md, ok := h.modelParams(c)
	if !ok {
		return
	}

	var (
		rows []models.Listing
		err  error
	)
	if c.Query("include_inactive") == "true" {
		rows, err = h.store.GetListings(c.Request.Context(), mk, md)
	} else {
		rows, err = h.store.GetActiveListings(c.Request.Context(), mk, md)
	}
	if err != nil {
		h.serverError(c, "failed to get listings", err)
		return
	}
	listings := toListingResponses(rows)

	c.JSON(http.StatusOK, gin.H{
		"make":     mk,
		"model":    md,
		"count":    len(listings),
		"listings": listings,
	})
}

// GetListingHistory returns one listing with its full price history.
func (h *Handler) GetListingHistory(c *gin.Context) {
	id := c.Param("id")

	listing, err := h.store.GetListingByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrListingNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		h.serverError(c, "failed to get listing", err)
		return
	}

	history, err := h.store.GetPriceHistory(c.Request.Context(), id)
	if err != nil {
		h.serverError(c, "failed to get price history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"listing": toListingResponse(*listing),
		"history": toPriceChangeResponses(history),
	})
}

// GetModelHistory returns a model's price changes, newest first.
func (h *Handler) GetModelHistory(c *gin.Context) {
	mk, md, ok := h.modelParams(c)
	if !ok {
		return
	}

	history, err := h.store.GetPriceHistoryForModel(c.Request.Context(), mk, md, h.limitParam(c, 0))
	if err != nil {
		h.serverError(c, "failed to get price history", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"make":    mk,
		"model":   md,
		"count":   len(history),
		"history": toPriceChangeResponses(history),
	})
}

// GetModelStats returns aggregate statistics for one make/model.
func (h *Handler) GetModelStats(c *gin.Context) {
	mk, md, ok := h.modelParams(c)
	if !ok {
		return
	}

	result, err := h.stats.ModelStatistics(c.Request.Context(), mk, md)
	if err != nil {
		h.serverError(c, "failed to compute statistics", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// GetOverview returns the cross-model rollup.
func (h *Handler) GetOverview(c *gin.Context) {
	overview, err := h.stats.Overview(c.Request.Context())
	if err != nil {
		h.serverError(c, "failed to compute overview", err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// GetTopCheapest returns the n cheapest active listings across all models.
func (h *Handler) GetTopCheapest(c *gin.Context) {
	top, err := h.stats.TopCheapest(c.Request.Context(), h.limitParam(c, 10))
	if err != nil {
		h.serverError(c, "failed to compute top listings", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listings": toListingResponses(top)})
}

// GetRecentChanges returns the newest price changes across all models.
func (h *Handler) GetRecentChanges(c *gin.Context) {
	changes, err := h.stats.RecentChanges(c.Request.Context(), h.limitParam(c, 20))
	if err != nil {
		h.serverError(c, "failed to get recent changes", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"changes": toPriceChangeResponses(changes)})
}

func (h *Handler) modelParams(c *gin.Context) (string, string, bool) {
	mk, md := c.Query("make"), c.Query("model")
	if mk == "" || md == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "make and model query parameters are required"})
		return "", "", false
	}
	return mk, md, true
}

func (h *Handler) limitParam(c *gin.Context, fallback int) int {
	raw := c.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}

func (h *Handler) serverError(c *gin.Context, msg string, err error) {
	h.log.Error(msg, "error", err, "path", c.Request.URL.Path)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
