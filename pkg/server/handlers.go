package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/notifyhub/notifyhub/pkg/notify"
	"github.com/notifyhub/notifyhub/pkg/registry"
	"github.com/notifyhub/notifyhub/pkg/stream"
)

// SubscribeRequest is the request body for registering a push subscription.
type SubscribeRequest struct {
	Endpoint string            `json:"endpoint" validate:"required"`
	Keys     map[string]string `json:"keys" validate:"required"`
}

// SubscribeResponse reports the outcome of a subscription mutation.
type SubscribeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": "notifyhub"})
}

func (s *Server) handleVAPIDPublicKey(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"publicKey": s.vapid.PublicKey})
}

// handleCreate creates a notification and fans it out: synchronously to the
// bus (live stream consumers attached right now) and asynchronously to every
// registered push endpoint.
func (s *Server) handleCreate(c echo.Context) error {
	var req notify.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Title == "" || req.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Title and body are required")
	}

	rec := notify.NewRecord(req)
	s.remember(rec)
	s.bus.Publish(Channel, rec)

	// The goroutine must not retain c: echo pools and resets contexts once
	// the handler returns.
	go func(id string) {
		result := s.dispatcher.Dispatch(context.Background(), rec)
		if result.Failed > 0 {
			log.Printf("Push dispatch for %s: %d/%d failed", id, result.Failed, result.Attempted)
		}
	}(rec.ID)

	return c.JSON(http.StatusCreated, rec)
}

func (s *Server) handleListRecent(c echo.Context) error {
	return c.JSON(http.StatusOK, s.recentSnapshot())
}

func (s *Server) handleSubscribe(c echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Endpoint is required")
	}
	if req.Keys == nil || req.Keys["p256dh"] == "" || req.Keys["auth"] == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Keys with p256dh and auth are required")
	}

	added, err := s.registry.Register(registry.Subscription{
		Endpoint: req.Endpoint,
		Keys:     req.Keys,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, SubscribeResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to register subscription: %v", err),
		})
	}

	message := "Subscription already registered"
	if added {
		message = "Subscription registered"
	}
	return c.JSON(http.StatusOK, SubscribeResponse{Success: true, Message: message})
}

func (s *Server) handleUnsubscribe(c echo.Context) error {
	var req SubscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body")
	}
	if req.Endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Endpoint is required")
	}

	removed, err := s.registry.Remove(req.Endpoint)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, SubscribeResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to remove subscription: %v", err),
		})
	}
	if !removed {
		return echo.NewHTTPError(http.StatusNotFound, "Subscription not found")
	}
	return c.JSON(http.StatusOK, SubscribeResponse{Success: true, Message: "Subscription removed"})
}

// handleProbe fans a connectivity probe out to every registered endpoint.
// Receivers reply on their device-local side channel; this endpoint only
// reports how the sends went.
func (s *Server) handleProbe(c echo.Context) error {
	probeID := uuid.New().String()
	result := s.dispatcher.DispatchProbe(c.Request().Context(), probeID)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"probe_id":  probeID,
		"attempted": result.Attempted,
		"failed":    result.Failed,
	})
}

// handleStream serves the live notification stream over SSE. One stream
// consumer is attached per connection and detached on disconnect; records
// queued for a disconnected consumer are discarded.
func (s *Server) handleStream(c echo.Context) error {
	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	consumer := s.gateway.Attach()
	defer consumer.Close()

	ctx := c.Request().Context()
	for {
		rec, err := consumer.Next(ctx)
		if err != nil {
			if err == stream.ErrClosed || ctx.Err() != nil {
				return nil
			}
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			c.Logger().Errorf("Failed to marshal stream record %s: %v", rec.ID, err)
			continue
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
			return nil
		}
		resp.Flush()
	}
}
