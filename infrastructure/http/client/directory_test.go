package client

import (
	"call-lab/auth"
	"call-lab/domain"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestDirectoryClient_ListProtocols(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	var gotPath, gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"chat.protocol.pstn":{"display_name":"PSTN","fields":["phone_number"]}}`))
	}))
	defer server.Close()

	c := NewDirectoryClient(log, server.URL+"/", "bridged-test")

	protocols, err := c.ListProtocols(context.Background())

	req.NoError(err)
	req.Len(protocols, 1)
	req.Equal("PSTN", protocols[domain.ProtocolPSTN].DisplayName)
	req.Equal([]string{"phone_number"}, protocols[domain.ProtocolPSTN].Fields)

	// And the call was authenticated with a service token
	req.Equal("/v1/protocols", gotPath)
	claims, err := auth.ValidateServiceToken(gotToken)
	req.NoError(err)
	req.Equal("bridged-test", claims.ServiceID)
}

func TestDirectoryClient_FindUsers(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	var gotPath string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"user_id":"@bob_virtual:sip.example.org","protocol":"chat.protocol.sip.virtual","fields":{"is_virtual":"true"}}]`))
	}))
	defer server.Close()

	c := NewDirectoryClient(log, server.URL, "bridged-test")

	users, err := c.FindUsers(context.Background(), domain.ProtocolSIPVirtual,
		map[string]string{domain.FieldNativeUser: "@bob:example.org"})

	req.NoError(err)
	req.Len(users, 1)
	req.Equal(domain.UserID("@bob_virtual:sip.example.org"), users[0].UserID)
	req.Equal(domain.ProtocolSIPVirtual, users[0].Protocol)
	req.True(users[0].IsVirtual())

	req.Equal("/v1/users/"+domain.ProtocolSIPVirtual, gotPath)
	req.Equal("@bob:example.org", gotQuery.Get(domain.FieldNativeUser))
}

func TestDirectoryClient_RejectsNon2xx(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewDirectoryClient(log, server.URL, "bridged-test")

	_, err := c.ListProtocols(context.Background())

	req.Error(err)
	req.Contains(err.Error(), "500")
}
