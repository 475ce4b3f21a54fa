package client

import (
	"call-lab/auth"
	"call-lab/domain"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"
)

const (
	requestTimeout  = 15 * time.Second
	serviceTokenTTL = 5 * time.Minute
)

// DirectoryClient talks to the bridge directory over HTTP/JSON and
// implements contract.IBridgeDirectory. Errors are returned raw: retry
// and swallow policies belong to the services layer.
type DirectoryClient struct {
	log        *slog.Logger
	baseURL    string
	serviceID  string
	httpClient *http.Client
}

func NewDirectoryClient(log *slog.Logger, baseURL, serviceID string) *DirectoryClient {
	return &DirectoryClient{
		log:        log,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		serviceID:  serviceID,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// wireUser is the directory's answer shape for user lookups.
type wireUser struct {
	UserID   string            `json:"user_id"`
	Protocol string            `json:"protocol"`
	Fields   map[string]string `json:"fields"`
}

// ListProtocols fetches the protocol instances the bridge advertises.
func (c *DirectoryClient) ListProtocols(ctx context.Context) (map[string]domain.ProtocolInfo, error) {
	var payload map[string]domain.ProtocolInfo
	if err := c.getJSON(ctx, c.baseURL+"/v1/protocols", &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// FindUsers queries one protocol's user directory with the given fields.
func (c *DirectoryClient) FindUsers(ctx context.Context, protocol string, fields map[string]string) ([]domain.ThirdPartyUser, error) {
	query := url.Values{}
	for key, value := range fields {
		query.Set(key, value)
	}
	endpoint := fmt.Sprintf("%s/v1/users/%s?%s", c.baseURL, url.PathEscape(protocol), query.Encode())

	var payload []wireUser
	if err := c.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	return lo.Map(payload, func(u wireUser, _ int) domain.ThirdPartyUser {
		return domain.ThirdPartyUser{
			UserID:   domain.UserID(u.UserID),
			Protocol: u.Protocol,
			Fields:   u.Fields,
		}
	}), nil
}

// getJSON performs one authenticated GET and decodes the JSON answer.
// A fresh short-lived token is minted per request.
func (c *DirectoryClient) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	token, err := auth.GenerateServiceToken(c.serviceID, serviceTokenTTL)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("directory replied %s on %s", resp.Status, endpoint)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
