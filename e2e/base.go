package e2e

import (
	"bytes"
	"call-lab/auth"
	"call-lab/domain"
	"call-lab/infrastructure/http/client"
	"call-lab/infrastructure/http/server"
	"call-lab/observability"
	"call-lab/repositories"
	"call-lab/runtime/workers"
	"call-lab/services"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseBridgeSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration before running tests
func (s *BaseBridgeSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
}

// BridgeStack is a complete in-process deployment: a fake remote bridge
// directory behind real HTTP, the real services on a throwaway database,
// the bridge API and its background workers.
type BridgeStack struct {
	API    *httptest.Server
	Remote *httptest.Server
	Rooms  repositories.RoomDirectory
}

// StartBridge boots the whole stack for one test and tears it down with it.
// The fake remote validates service tokens like the real directory would,
// so the client's token minting is covered too.
func (s *BaseBridgeSuite) StartBridge() *BridgeStack {
	t := s.T()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if _, err := auth.ValidateServiceToken(header); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1/protocols":
			_ = json.NewEncoder(w).Encode(remoteProtocols())
		case strings.HasPrefix(r.URL.Path, "/v1/users/"):
			protocol := strings.TrimPrefix(r.URL.Path, "/v1/users/")
			_ = json.NewEncoder(w).Encode(remoteUsers(protocol))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(remote.Close)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	rooms := repositories.NewRoomDirectory(db, log, domain.UserID(s.Config.LocalUser))
	monitor := observability.NewMonitoringManager(log)
	directory := client.NewDirectoryClient(log, remote.URL, "bridged-e2e")
	discovery := services.NewDiscoveryService(log, directory)
	discovery.AddListener(observability.NewCapabilityLogListener(log, monitor))
	lookup := services.NewLookupClient(log, directory, discovery)
	mapper := services.NewRoomMapper(log, discovery, lookup, rooms, monitor)

	invites := make(chan domain.Invite, 16)
	bridge := server.NewBridgeServer(log, "127.0.0.1:0", discovery, lookup, mapper, monitor, invites)
	api := httptest.NewServer(bridge.Handler())
	t.Cleanup(api.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewInviteWorker(log, invites, rooms, mapper), monitor)
	go sup.Run(ctx)

	return &BridgeStack{API: api, Remote: remote, Rooms: rooms}
}

// Call performs one authenticated request against the bridge API with a
// colorized step header in logs.
func (s *BaseBridgeSuite) Call(api *httptest.Server, name, method, path string, body any) *http.Response {
	t := s.T()

	// 1. Print a colorized header for the step in logs
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	t.Log(header)

	// 2. Encode the optional JSON body
	var reader io.Reader = http.NoBody
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, api.URL+path, reader)
	s.Require().NoError(err)
	token, err := auth.GenerateServiceToken("e2e", time.Minute)
	s.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer "+token)

	// 3. Fire and log the exchange
	start := time.Now()
	resp, err := api.Client().Do(req)
	s.Require().NoError(err)

	logBuilder := strings.Builder{}
	fmt.Fprintf(&logBuilder, "HTTP %s %s [%d] in %v", method, path, resp.StatusCode, time.Since(start))
	if s.Config.DebugJSON && payload != nil {
		fmt.Fprintln(&logBuilder, "\nREQUEST:")
		fmt.Fprintln(&logBuilder, string(payload))
	}
	t.Log(logBuilder.String())
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return out
}

func remoteProtocols() map[string]domain.ProtocolInfo {
	// Legacy PSTN advertised on purpose, the preferred id must win
	return map[string]domain.ProtocolInfo{
		domain.ProtocolPSTN:       {DisplayName: "Phone calls", Fields: []string{domain.FieldPhoneNumber}},
		domain.ProtocolPSTNLegacy: {DisplayName: "Phone calls (legacy)", Fields: []string{domain.FieldPhoneNumber}},
		domain.ProtocolSIPVirtual: {DisplayName: "SIP virtual users", Fields: []string{domain.FieldNativeUser}},
		domain.ProtocolSIPNative:  {DisplayName: "SIP native users", Fields: []string{domain.FieldVirtualUser}},
	}
}

func remoteUsers(protocol string) []map[string]any {
	switch protocol {
	case domain.ProtocolPSTN:
		return []map[string]any{{
			"user_id":  "@pstn_0601020304:bridge.call.lab",
			"protocol": domain.ProtocolPSTN,
			"fields":   map[string]string{domain.FieldPhoneNumber: "0601020304"},
		}}
	case domain.ProtocolSIPVirtual:
		return []map[string]any{{
			"user_id":  "@sip_bob:bridge.call.lab",
			"protocol": domain.ProtocolSIPVirtual,
			"fields":   map[string]string{domain.FieldNativeUser: "@bob:native.call.lab"},
		}}
	case domain.ProtocolSIPNative:
		return []map[string]any{{
			"user_id":  "@bob:native.call.lab",
			"protocol": domain.ProtocolSIPNative,
			"fields":   map[string]string{domain.FieldIsVirtual: "true"},
		}}
	default:
		return []map[string]any{}
	}
}
