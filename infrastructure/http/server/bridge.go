package server

import (
	"call-lab/auth"
	"call-lab/domain"
	errors2 "call-lab/errors"
	"call-lab/observability"
	"call-lab/services"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const shutdownGracePeriod = 5 * time.Second

type BridgeServer struct {
	log       *slog.Logger
	addr      string
	discovery *services.DiscoveryService
	lookup    *services.LookupClient
	mapper    *services.RoomMapper
	monitor   *observability.MonitoringManager
	invites   chan<- domain.Invite
	validate  *validator.Validate
}

func NewBridgeServer(log *slog.Logger, addr string,
	discovery *services.DiscoveryService, lookup *services.LookupClient,
	mapper *services.RoomMapper, monitor *observability.MonitoringManager,
	invites chan<- domain.Invite) *BridgeServer {
	return &BridgeServer{
		log:       log,
		addr:      addr,
		discovery: discovery,
		lookup:    lookup,
		mapper:    mapper,
		monitor:   monitor,
		invites:   invites,
		validate:  validator.New(),
	}
}

// Handler assembles the routes and wraps them with the auth middleware.
// Exposed separately from Run so tests can mount it on httptest.Server.
func (s *BridgeServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/protocols/check", s.handleCheckProtocols).Methods(http.MethodPost)
	router.HandleFunc("/v1/protocols/status", s.handleProtocolStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/lookup/phone/{number}", s.handleLookupPhone).Methods(http.MethodGet)
	router.HandleFunc("/v1/rooms/virtual", s.handleCreateVirtualRoom).Methods(http.MethodPost)
	router.HandleFunc("/v1/rooms/{id}/native", s.handleNativeRoom).Methods(http.MethodGet)
	router.HandleFunc("/v1/rooms/{id}/virtual", s.handleIsVirtual).Methods(http.MethodGet)
	router.HandleFunc("/v1/invites/{id}", s.handleInvite).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return auth.Middleware(router)
}

// Run serves HTTP until the context is cancelled, then drains in-flight
// requests within the grace period.
func (s *BridgeServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	failed := make(chan error, 1)
	go func() {
		failed <- srv.ListenAndServe()
	}()
	s.log.Info(fmt.Sprintf("Bridge API listening on %s", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-failed:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *BridgeServer) handleCheckProtocols(w http.ResponseWriter, _ *http.Request) {
	s.discovery.CheckProtocols()
	s.monitor.IncrProtocolChecks()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "discovery started"})
}

type protocolStatusResponse struct {
	Checked      bool   `json:"checked"`
	PSTNProtocol string `json:"pstn_protocol"`
	VirtualRooms bool   `json:"virtual_rooms"`
}

// handleProtocolStatus reports the discovered capabilities. With ?wait=1 the
// request blocks until discovery settles, starting one if none ran yet, so
// callers never have to poll.
func (s *BridgeServer) handleProtocolStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Has("wait") {
		if err := s.discovery.AwaitProtocolsChecked(r.Context()); err != nil {
			if r.Context().Err() != nil {
				// Client went away while we were waiting.
				return
			}
			s.monitor.IncrErrorCount()
			s.writeError(w, err)
			return
		}
	}
	s.writeJSON(w, http.StatusOK, protocolStatusResponse{
		Checked:      s.discovery.ProtocolsChecked(),
		PSTNProtocol: s.discovery.SupportedPSTNProtocol(),
		VirtualRooms: s.discovery.SupportsVirtualRooms(),
	})
}

func (s *BridgeServer) handleLookupPhone(w http.ResponseWriter, r *http.Request) {
	users, err := s.lookup.LookupByPhoneNumber(r.Context(), mux.Vars(r)["number"])
	if err != nil {
		s.monitor.IncrErrorCount()
		s.writeError(w, err)
		return
	}
	if users == nil {
		users = []domain.ThirdPartyUser{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]domain.ThirdPartyUser{"results": users})
}

type createVirtualRoomRequest struct {
	NativeRoomID   string `json:"native_room_id" validate:"required"`
	OpponentUserID string `json:"opponent_user_id" validate:"required"`
}

func (s *BridgeServer) handleCreateVirtualRoom(w http.ResponseWriter, r *http.Request) {
	var req createVirtualRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	virtualRoomID, err := s.mapper.VirtualRoomForRoom(r.Context(),
		domain.RoomID(req.NativeRoomID), domain.UserID(req.OpponentUserID))
	if err != nil {
		s.monitor.IncrErrorCount()
		s.writeError(w, err)
		return
	}
	if virtualRoomID != "" {
		s.monitor.AddRecentRoom(string(virtualRoomID), req.NativeRoomID, "provisioned")
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"virtual_room_id": string(virtualRoomID)})
}

func (s *BridgeServer) handleNativeRoom(w http.ResponseWriter, r *http.Request) {
	native, found := s.mapper.NativeRoomForVirtualRoom(r.Context(), domain.RoomID(mux.Vars(r)["id"]))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"native_room_id": string(native),
		"found":          found,
	})
}

func (s *BridgeServer) handleIsVirtual(w http.ResponseWriter, r *http.Request) {
	virtual := s.mapper.IsVirtualRoom(r.Context(), domain.RoomID(mux.Vars(r)["id"]))
	s.writeJSON(w, http.StatusOK, map[string]bool{"virtual": virtual})
}

type inviteRequest struct {
	InviterUserID string `json:"inviter_user_id"`
}

// handleInvite acknowledges the invite and hands it to the invite worker.
// Processing is asynchronous on purpose: accepting an invite involves remote
// lookups and a join, none of which should hold the notifying client hostage.
// The body is optional; an inviter id lets the worker persist the invited
// room before evaluating it.
func (s *BridgeServer) handleInvite(w http.ResponseWriter, r *http.Request) {
	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	invite := domain.Invite{
		RoomID:    domain.RoomID(mux.Vars(r)["id"]),
		InviterID: domain.UserID(req.InviterUserID),
		At:        time.Now().UTC(),
	}
	select {
	case s.invites <- invite:
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "invite queued"})
	default:
		s.monitor.IncrErrorCount()
		s.writeJSONError(w, http.StatusServiceUnavailable, "invite queue full")
	}
}

func (s *BridgeServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *BridgeServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *BridgeServer) writeError(w http.ResponseWriter, err error) {
	s.writeJSONError(w, errors2.MapToHTTPStatus(err), err.Error())
}

func (s *BridgeServer) writeJSONError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
