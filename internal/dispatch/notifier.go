package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Event is one notification message pushed to a driver or client.
type Event struct {
	Type    string `json:"type"`
	RideID  string `json:"ride_id,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// Notifier delivers best-effort messages. Every method may fail without
// consequence for the caller's primary operation.
type Notifier interface {
	NotifyDriver(ctx context.Context, driverID string, ev Event) error
	NotifyClient(ctx context.Context, clientID string, ev Event) error
	ClearChat(ctx context.Context, rideID string) error
}

// WSNotifier pushes over live websocket sessions and falls back to an
// HTTP webhook for peers without a session. Chat state lives in a
// ChatStore cleared on ride completion/cancellation.
type WSNotifier struct {
	Drivers *Registry
	Clients *Registry
	Chat    ChatStore

	// WebhookEndpoint receives events for disconnected peers; empty
	// disables the fallback.
	WebhookEndpoint string
	HTTPClient      *http.Client

	Logger *slog.Logger
}

// ChatStore owns per-ride chat history.
type ChatStore interface {
	Clear(ctx context.Context, rideID string) error
}

func NewWSNotifier(drivers, clients *Registry, chat ChatStore, webhook string, logger *slog.Logger) *WSNotifier {
	return &WSNotifier{
		Drivers:         drivers,
		Clients:         clients,
		Chat:            chat,
		WebhookEndpoint: webhook,
		HTTPClient:      &http.Client{Timeout: 3 * time.Second},
		Logger:          logger,
	}
}

func (n *WSNotifier) NotifyDriver(ctx context.Context, driverID string, ev Event) error {
	return n.deliver(ctx, n.Drivers, "driver", driverID, ev)
}

func (n *WSNotifier) NotifyClient(ctx context.Context, clientID string, ev Event) error {
	return n.deliver(ctx, n.Clients, "client", clientID, ev)
}

func (n *WSNotifier) deliver(ctx context.Context, reg *Registry, kind, id string, ev Event) error {
	if reg != nil {
		if err := reg.Send(id, ev); err == nil {
			return nil
		}
	}
	if n.WebhookEndpoint == "" {
		return ErrNoSession
	}
	body, _ := json.Marshal(map[string]any{"recipient_kind": kind, "recipient_id": id, "event": ev})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.WebhookEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (n *WSNotifier) ClearChat(ctx context.Context, rideID string) error {
	if n.Chat == nil {
		return nil
	}
	return n.Chat.Clear(ctx, rideID)
}
