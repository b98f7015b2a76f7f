package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/taxi-dispatch/internal/dispatch"
	"github.com/example/taxi-dispatch/internal/geo"
	"github.com/example/taxi-dispatch/internal/handshake"
	"github.com/example/taxi-dispatch/internal/ingest"
	"github.com/example/taxi-dispatch/internal/lifecycle"
	"github.com/example/taxi-dispatch/internal/matcher"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/registry"
	"github.com/example/taxi-dispatch/internal/storage"
)

type Server struct {
	Lifecycle *lifecycle.Service
	Matcher   *matcher.Service
	Handshake *handshake.Service
	Registry  *registry.Service
	Store     storage.Store

	// Producer ships raw position fixes to Kafka when configured.
	Producer *ingest.KafkaProducer

	DriverWS *dispatch.Registry
	ClientWS *dispatch.Registry

	// Chat is optional; nil disables the ride chat endpoints.
	Chat ChatLog

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(lc *lifecycle.Service, m *matcher.Service, hs *handshake.Service,
	reg *registry.Service, store storage.Store, producer *ingest.KafkaProducer,
	driverWS, clientWS *dispatch.Registry, logger *slog.Logger) *Server {
	s := &Server{
		Lifecycle: lc,
		Matcher:   m,
		Handshake: hs,
		Registry:  reg,
		Store:     store,
		Producer:  producer,
		DriverWS:  driverWS,
		ClientWS:  clientWS,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/estimate", s.handleEstimateFare).Methods("POST")
	api.HandleFunc("/rides/cancel", s.handleCancelByPhone).Methods("POST")
	api.HandleFunc("/rides/nearest", s.handleNearestByPhone).Methods("GET")
	api.HandleFunc("/rides/{id}", s.handleGetRide).Methods("GET")
	api.HandleFunc("/rides/{id}/cancel", s.handleCancelRide).Methods("POST")
	api.HandleFunc("/rides/{id}/nearest", s.handleNearestForRide).Methods("GET")
	api.HandleFunc("/rides/{id}/offer", s.handleOffer).Methods("POST")
	api.HandleFunc("/rides/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/rides/{id}/assign", s.handleAssignByAdmin).Methods("POST")
	api.HandleFunc("/rides/{id}/status", s.handleChangeStatus).Methods("POST")
	api.HandleFunc("/rides/{id}/rate", s.handleRateRide).Methods("POST")
	api.HandleFunc("/rides/{id}/chat", s.handleChatPost).Methods("POST")
	api.HandleFunc("/rides/{id}/chat", s.handleChatGet).Methods("GET")

	api.HandleFunc("/drivers/{id}/trip/start", s.handleStartTrip).Methods("POST")
	api.HandleFunc("/drivers/{id}/trip/complete", s.handleCompleteTrip).Methods("POST")
	api.HandleFunc("/drivers/{id}/positions", s.handleRecordPosition).Methods("POST")
	api.HandleFunc("/drivers/{id}/positions", s.handleRecentPositions).Methods("GET")
	api.HandleFunc("/drivers/active", s.handleActiveDrivers).Methods("GET")

	api.HandleFunc("/track/{code}", s.handleTrack).Methods("GET")

	s.mux.HandleFunc("/ws/drivers/{id}", s.handleDriverWS)
	s.mux.HandleFunc("/ws/clients/{id}", s.handleClientWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// createRideBody wraps the lifecycle request with optional WKT forms of
// the coordinate fields.
type createRideBody struct {
	lifecycle.CreateRequest
	OriginWKT  string `json:"origin_wkt,omitempty"`
	ContextWKT string `json:"context_wkt,omitempty"`
}

func (b *createRideBody) resolveWKT() error {
	if b.OriginWKT != "" && b.OriginPoint == nil {
		p, err := geo.ParsePoint(b.OriginWKT)
		if err != nil {
			return err
		}
		b.OriginPoint = &p
	}
	if b.ContextWKT != "" && b.ContextPoint == nil {
		p, err := geo.ParsePoint(b.ContextWKT)
		if err != nil {
			return err
		}
		b.ContextPoint = &p
	}
	return nil
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var body createRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.InvalidInput("malformed request body", "body"))
		return
	}
	if err := body.resolveWKT(); err != nil {
		s.writeError(w, err)
		return
	}
	ride, err := s.Lifecycle.Create(r.Context(), body.CreateRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.DriverWS != nil {
		s.DriverWS.Broadcast(dispatch.Event{
			Type:   "ride_available",
			RideID: ride.ID,
			Payload: map[string]any{
				"origin":          ride.Origin,
				"destination":     ride.Destination,
				"passenger_count": ride.PassengerCount,
			},
		})
	}
	s.writeJSON(w, http.StatusCreated, ride)
}

func (s *Server) handleEstimateFare(w http.ResponseWriter, r *http.Request) {
	var body createRideBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.InvalidInput("malformed request body", "body"))
		return
	}
	if err := body.resolveWKT(); err != nil {
		s.writeError(w, err)
		return
	}
	quote, route, err := s.Lifecycle.EstimateFare(r.Context(), body.CreateRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"quote": quote, "route": route})
}

func (s *Server) handleGetRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Store.FindRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Lifecycle.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancelByPhone(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientPhone string `json:"client_phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ClientPhone == "" {
		s.writeError(w, models.InvalidInput("client_phone required", "client_phone"))
		return
	}
	ride, err := s.Lifecycle.CancelByClientPhone(r.Context(), body.ClientPhone)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleNearestForRide(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Store.FindRide(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	match, err := s.Matcher.FindNearest(r.Context(), matcher.ForRide(ride))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, match)
}

func (s *Server) handleNearestByPhone(w http.ResponseWriter, r *http.Request) {
	phone := r.URL.Query().Get("phone")
	if phone == "" {
		s.writeError(w, models.InvalidInput("phone query parameter required", "phone"))
		return
	}
	client, err := s.Store.FindClientByPhone(r.Context(), phone)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ride, err := s.Store.FindPendingRideForClient(r.Context(), client.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	match, err := s.Matcher.FindNearest(r.Context(), matcher.ForRide(ride))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ride_id": ride.ID, "match": match})
}

type driverIDBody struct {
	DriverID string `json:"driver_id"`
}

func (s *Server) decodeDriverID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var body driverIDBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DriverID == "" {
		s.writeError(w, models.InvalidInput("driver_id required", "driver_id"))
		return "", false
	}
	return body.DriverID, true
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.decodeDriverID(w, r)
	if !ok {
		return
	}
	offer, err := s.Handshake.Offer(r.Context(), driverID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, offer)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.decodeDriverID(w, r)
	if !ok {
		return
	}
	ride, err := s.Handshake.Accept(r.Context(), driverID, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleAssignByAdmin(w http.ResponseWriter, r *http.Request) {
	driverID, ok := s.decodeDriverID(w, r)
	if !ok {
		return
	}
	ride, err := s.Handshake.AssignByAdmin(r.Context(), mux.Vars(r)["id"], driverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.RideStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
		s.writeError(w, models.InvalidInput("status required", "status"))
		return
	}
	ride, err := s.Lifecycle.ChangeStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRateRide(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating  float64 `json:"rating"`
		Comment string  `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.InvalidInput("malformed request body", "body"))
		return
	}
	ride, err := s.Lifecycle.RateRide(r.Context(), mux.Vars(r)["id"], body.Rating, body.Comment)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleStartTrip(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Lifecycle.StartTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCompleteTrip(w http.ResponseWriter, r *http.Request) {
	ride, err := s.Lifecycle.CompleteTrip(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ride)
}

// ChatLog is the per-ride chat store behind the chat endpoints.
type ChatLog interface {
	Append(ctx context.Context, rideID, from, text string) error
	History(ctx context.Context, rideID string, limit int64) ([]string, error)
}

func (s *Server) handleChatPost(w http.ResponseWriter, r *http.Request) {
	if s.Chat == nil {
		s.writeError(w, models.InvalidInput("chat is not enabled", "chat"))
		return
	}
	var body struct {
		From string `json:"from"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.From == "" || body.Text == "" {
		s.writeError(w, models.InvalidInput("from and text required", "from", "text"))
		return
	}
	rideID := mux.Vars(r)["id"]
	ride, err := s.Store.FindRide(r.Context(), rideID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ride.Status == models.RideCompleted || ride.Status == models.RideCancelled {
		s.writeError(w, models.InvalidInput("chat is closed for finished rides", "status"))
		return
	}
	if err := s.Chat.Append(r.Context(), rideID, body.From, body.Text); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChatGet(w http.ResponseWriter, r *http.Request) {
	if s.Chat == nil {
		s.writeError(w, models.InvalidInput("chat is not enabled", "chat"))
		return
	}
	rideID := mux.Vars(r)["id"]
	if _, err := s.Store.FindRide(r.Context(), rideID); err != nil {
		s.writeError(w, err)
		return
	}
	msgs, err := s.Chat.History(r.Context(), rideID, 100)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ride_id": rideID, "messages": msgs})
}

// positionBody accepts either a coordinate pair or a WKT point.
type positionBody struct {
	models.PositionFix
	LocationWKT string `json:"location_wkt,omitempty"`
}

func (s *Server) handleRecordPosition(w http.ResponseWriter, r *http.Request) {
	var body positionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, models.InvalidInput("malformed request body", "body"))
		return
	}
	body.DriverID = mux.Vars(r)["id"]
	if body.LocationWKT != "" {
		p, err := geo.ParsePoint(body.LocationWKT)
		if err != nil {
			s.writeError(w, err)
			return
		}
		body.Location = p
	}
	if err := s.Registry.RecordPosition(r.Context(), body.PositionFix); err != nil {
		s.writeError(w, err)
		return
	}
	if s.Producer != nil {
		if err := s.Producer.PublishPosition(body.PositionFix); err != nil {
			s.logger.Warn("position publish failed", "driver_id", body.DriverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentPositions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.writeError(w, models.InvalidInput("limit must be a positive integer", "limit"))
			return
		}
		limit = n
	}
	fixes, err := s.Registry.RecentPositions(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fixes)
}

func (s *Server) handleActiveDrivers(w http.ResponseWriter, r *http.Request) {
	drivers, err := s.Registry.ActiveDrivers(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, drivers)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	view, err := s.Lifecycle.TrackByCode(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleDriverWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, s.DriverWS)
}

func (s *Server) handleClientWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, s.ClientWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, reg *dispatch.Registry) {
	id := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		s.logger.Warn("websocket upgrade failed", "peer_id", id, "error", err)
		return
	}
	reg.Register(id, conn)
	go func() {
		defer func() {
			reg.Unregister(id)
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	resp := map[string]any{"error": err.Error()}

	var appErr *models.Error
	if errors.As(err, &appErr) {
		resp["kind"] = appErr.Kind
		if len(appErr.Fields) > 0 {
			resp["fields"] = appErr.Fields
		}
		switch appErr.Kind {
		case models.KindNotFound:
			status = http.StatusNotFound
		case models.KindConflict:
			status = http.StatusConflict
		case models.KindInvalidInput:
			status = http.StatusBadRequest
		case models.KindUpstream:
			status = http.StatusBadGateway
		}
	}
	s.writeJSON(w, status, resp)
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
