// internal/server/handlers/channel.go

package handlers

import (
	"context"
	"net/http"

	"medwarehouse/internal/domain/warehouse"
)

// ChannelStore reads the materialized channel dimension.
type ChannelStore interface {
	ListChannels(ctx context.Context) ([]warehouse.ChannelRow, error)
}

// ChannelHandler handles channel-dimension HTTP requests
type ChannelHandler struct {
	store ChannelStore
}

// NewChannelHandler creates a new channel handler
func NewChannelHandler(store ChannelStore) *ChannelHandler {
	return &ChannelHandler{
		store: store,
	}
}

// ListChannels returns the channel dimension ordered by post volume
func (h *ChannelHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListChannels(r.Context())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to list channels", err)
		return
	}

	if channels == nil {
		channels = []warehouse.ChannelRow{}
	}

	respondWithJSON(w, http.StatusOK, channels)
}
