package services

import (
	"call-lab/contract"
	"call-lab/domain"
	"call-lab/errors"
	"context"
	"log/slog"
)

// LookupClient wraps the remote third-party user directory. Stateless: it
// holds no cache and keeps no record of past answers. Remote failures are
// swallowed into empty results, so callers cannot distinguish "no results"
// from "lookup failed" and must not rely on that distinction.
type LookupClient struct {
	log       *slog.Logger
	directory contract.IBridgeDirectory
	discovery *DiscoveryService
}

func NewLookupClient(log *slog.Logger, directory contract.IBridgeDirectory, discovery *DiscoveryService) *LookupClient {
	return &LookupClient{log: log, directory: directory, discovery: discovery}
}

// LookupByPhoneNumber resolves a phone number through the discovered
// telephony protocol. It does not trigger discovery itself: calling it
// before a protocol is known is a configuration mistake and returns
// errors.ErrNoPSTNProtocol.
func (c *LookupClient) LookupByPhoneNumber(ctx context.Context, number string) ([]domain.ThirdPartyUser, error) {
	protocol := c.discovery.SupportedPSTNProtocol()
	if protocol == "" {
		return nil, errors.ErrNoPSTNProtocol
	}
	return c.find(ctx, protocol, map[string]string{domain.FieldPhoneNumber: number}), nil
}

// LookupVirtualUser resolves the virtual counterpart of a native user.
func (c *LookupClient) LookupVirtualUser(ctx context.Context, nativeUserID domain.UserID) []domain.ThirdPartyUser {
	return c.find(ctx, domain.ProtocolSIPVirtual, map[string]string{domain.FieldNativeUser: string(nativeUserID)})
}

// LookupNativeUser resolves the native counterpart of a virtual user.
func (c *LookupClient) LookupNativeUser(ctx context.Context, virtualUserID domain.UserID) []domain.ThirdPartyUser {
	return c.find(ctx, domain.ProtocolSIPNative, map[string]string{domain.FieldVirtualUser: string(virtualUserID)})
}

func (c *LookupClient) find(ctx context.Context, protocol string, fields map[string]string) []domain.ThirdPartyUser {
	users, err := c.directory.FindUsers(ctx, protocol, fields)
	if err != nil {
		c.log.Warn("Third-party lookup failed", "protocol", protocol, "error", err)
		return nil
	}
	return users
}
