package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arunvm123/voyagecache/freshness"
	"github.com/arunvm123/voyagecache/model"
	"github.com/arunvm123/voyagecache/store"
)

type VoyageHandler struct {
	manager *freshness.Manager
	store   store.Store
	logger  *slog.Logger
}

func NewVoyageHandler(manager *freshness.Manager, s store.Store, logger *slog.Logger) *VoyageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoyageHandler{
		manager: manager,
		store:   s,
		logger:  logger,
	}
}

// GetVoyage returns the tracked voyage, loading it if needed
func (h *VoyageHandler) GetVoyage(c *gin.Context) {
	voyage, err := h.manager.Load(c.Request.Context())
	if err != nil {
		h.fetchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, h.voyageResponse(voyage))
}

// RefreshVoyage bypasses the memo and fetches from the voyage API
func (h *VoyageHandler) RefreshVoyage(c *gin.Context) {
	voyage, err := h.manager.Refresh(c.Request.Context())
	if err != nil {
		h.fetchFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, h.voyageResponse(voyage))
}

// ClearCache drops the memo and the durable entry
func (h *VoyageHandler) ClearCache(c *gin.Context) {
	if err := h.manager.ClearAll(c.Request.Context()); err != nil {
		h.logger.Error("failed to clear voyage cache", "error", err)
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:   "cache_unavailable",
			Message: "Failed to clear voyage cache",
		})
		return
	}

	ctx := c.Request.Context()
	c.JSON(http.StatusOK, h.manager.GetState().ToStateResponse(h.manager.IsCacheValid(ctx)))
}

// GetState returns the manager state without triggering a load
func (h *VoyageHandler) GetState(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, h.manager.GetState().ToStateResponse(h.manager.IsCacheValid(ctx)))
}

// StreamState provides Server-Sent Events for every state transition
func (h *VoyageHandler) StreamState(c *gin.Context) {
	ctx := c.Request.Context()

	states := make(chan model.ManagerState, 32)
	unsubscribe := h.manager.Subscribe(func(s model.ManagerState) {
		select {
		case states <- s:
		default:
			h.logger.Warn("dropping state update for slow stream client")
		}
	})
	defer unsubscribe()

	// Set SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case state := <-states:
			eventData, err := json.Marshal(state.ToStateResponse(h.manager.IsCacheValid(ctx)))
			if err != nil {
				h.logger.Error("failed to encode state event", "error", err)
				continue
			}
			c.SSEvent("state", string(eventData))
			c.Writer.Flush()

		case <-keepAlive.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			c.Writer.Flush()

		case <-ctx.Done():
			return
		}
	}
}

// HealthCheck handles health check endpoint
func (h *VoyageHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Error:   "service_unavailable",
			Message: "Durable store ping failed",
		})
		return
	}

	response := model.HealthResponse{
		Status:    "healthy",
		Service:   "voyage-freshness",
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

func (h *VoyageHandler) voyageResponse(voyage *model.Voyage) *model.VoyageResponse {
	state := h.manager.GetState()
	response := &model.VoyageResponse{
		Voyage:      voyage,
		LastUpdated: state.LastUpdated,
	}
	if voyage != nil {
		response.Nights = voyage.Nights()
	}
	// stale-on-error: a voyage was served but the last fetch failed
	if state.Error != nil && state.Snapshot == voyage {
		response.Stale = true
		response.Warning = state.Error.Error()
	}
	return response
}

func (h *VoyageHandler) fetchFailed(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, model.ErrorResponse{
			Error:   "timeout",
			Message: "Voyage request was cancelled before the fetch completed",
		})
		return
	}

	var fetchErr *model.FetchError
	if errors.As(err, &fetchErr) {
		c.JSON(http.StatusBadGateway, model.ErrorResponse{
			Error:   "voyage_unavailable",
			Message: err.Error(),
		})
		return
	}

	h.logger.Error("voyage load failed", "error", err)
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Error:   "internal_error",
		Message: "Failed to load voyage",
	})
}
