package services

import (
	"call-lab/contract"
	"call-lab/domain"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ProvisioningMonitor observes the mapper's side effects.
type ProvisioningMonitor interface {
	IncrRoomsProvisioned()
	IncrInvitesJoined()
}

// RoomMapper maintains the mapping between native rooms and the virtual
// rooms carrying their telephony-bridged call legs. It owns a process-local
// confirmation cache of rooms already known to be virtual and orchestrates
// lookup, reuse-or-create, tagging and joining through the conversation
// collaborator.
//
// The cache only ever asserts in one direction: presence proves a room is
// virtual, absence proves nothing. Entries are never evicted; dropping one
// would silently demote a confirmed fact back to "unknown".
type RoomMapper struct {
	log       *slog.Logger
	discovery *DiscoveryService
	lookup    *LookupClient
	convos    contract.IConversations
	monitor   ProvisioningMonitor

	// provisioning serializes reuse-or-create per opponent, so concurrent
	// callers share one room instead of racing to create two.
	provisioning singleflight.Group

	mu      sync.Mutex
	virtual map[domain.RoomID]struct{}
}

func NewRoomMapper(log *slog.Logger, discovery *DiscoveryService, lookup *LookupClient,
	convos contract.IConversations, monitor ProvisioningMonitor) *RoomMapper {
	return &RoomMapper{
		log:       log,
		discovery: discovery,
		lookup:    lookup,
		convos:    convos,
		monitor:   monitor,
		virtual:   make(map[domain.RoomID]struct{}),
	}
}

// NativeRoomForVirtualRoom reads the virtual→native back-link of a room.
// Pure read: no side effects, no remote calls.
func (m *RoomMapper) NativeRoomForVirtualRoom(ctx context.Context, roomID domain.RoomID) (domain.RoomID, bool) {
	attr, err := m.convos.RoomAttribute(ctx, roomID, domain.AttrVirtualRoom)
	if err != nil {
		m.log.Debug("Back-link read failed", "room", string(roomID), "error", err)
		return "", false
	}
	if attr == "" {
		return "", false
	}
	return domain.RoomID(attr), true
}

// VirtualRoomForRoom returns the virtual room carrying nativeRoomID's
// bridged call leg with the given opponent, creating it when needed.
//
// The only error surfaced is a failed discovery wait. Everything after the
// capability gate is best-effort: no virtual identity, or any provisioning
// failure, yields ("", nil) and a later call starts over.
func (m *RoomMapper) VirtualRoomForRoom(ctx context.Context, nativeRoomID domain.RoomID, opponent domain.UserID) (domain.RoomID, error) {
	if err := m.discovery.AwaitProtocolsChecked(ctx); err != nil {
		return "", err
	}
	if !m.discovery.SupportsVirtualRooms() {
		return "", nil
	}

	result, err, shared := m.provisioning.Do(string(opponent), func() (any, error) {
		return m.provisionVirtualRoom(ctx, nativeRoomID, opponent)
	})
	if shared {
		m.log.Debug("Joined in-flight provisioning", "opponent", string(opponent))
	}
	if err != nil {
		m.log.Warn("Virtual room provisioning failed",
			"native_room", string(nativeRoomID), "opponent", string(opponent), "error", err)
		return "", nil
	}
	return result.(domain.RoomID), nil
}

// provisionVirtualRoom resolves the opponent's virtual identity, reuses or
// creates the direct room with it, tags the room with the back-link and
// confirms it in the cache. Returns "" when the opponent has no virtual
// counterpart.
func (m *RoomMapper) provisionVirtualRoom(ctx context.Context, nativeRoomID domain.RoomID, opponent domain.UserID) (domain.RoomID, error) {
	candidates := m.lookup.LookupVirtualUser(ctx, opponent)
	if len(candidates) == 0 {
		return "", nil
	}
	virtualUser := candidates[0].UserID

	roomID, found, err := m.convos.FindDirectRoom(ctx, virtualUser)
	if err != nil {
		return "", err
	}
	if !found {
		roomID, err = m.convos.CreateDirectRoom(ctx, domain.CreateDirectRoomParams{
			InviteUserID:    virtualUser,
			CreationContent: map[string]string{domain.AttrVirtualRoom: string(nativeRoomID)},
			TransactionID:   uuid.NewString(),
		})
		if err != nil {
			return "", err
		}
		m.monitor.IncrRoomsProvisioned()
		m.log.Info("Virtual room created",
			"room", string(roomID), "native_room", string(nativeRoomID), "virtual_user", string(virtualUser))
	}

	if err := m.convos.SetRoomAttribute(ctx, roomID, domain.AttrVirtualRoom, string(nativeRoomID)); err != nil {
		return "", err
	}
	m.rememberVirtual(roomID)
	return roomID, nil
}

// IsVirtualRoom reports whether a room is a virtual one. It never waits for
// discovery: while virtual-room support is unknown or absent the answer is
// false, whatever the room looks like.
func (m *RoomMapper) IsVirtualRoom(ctx context.Context, roomID domain.RoomID) bool {
	if !m.discovery.SupportsVirtualRooms() {
		return false
	}
	return m.resolveVirtualTrust(ctx, roomID)
}

// resolveVirtualTrust decides whether a room is virtual, in strict
// precedence order:
//
//  1. confirmation cache: rooms this session already confirmed.
//  2. persisted back-link attribute: a durable, peer-confirmed fact.
//  3. creation-content marker, only when the creation event was sent by the
//     local user. Any inviter can forge the marker on a room it creates, so
//     the marker alone proves nothing about someone else's room.
//
// Positive answers from tiers 2 and 3 are memoized into the cache.
func (m *RoomMapper) resolveVirtualTrust(ctx context.Context, roomID domain.RoomID) bool {
	if m.knownVirtual(roomID) {
		return true
	}

	attr, err := m.convos.RoomAttribute(ctx, roomID, domain.AttrVirtualRoom)
	if err == nil && attr != "" {
		m.rememberVirtual(roomID)
		return true
	}

	creation, err := m.convos.CreationEvent(ctx, roomID)
	if err != nil || creation == nil {
		return false
	}
	if creation.Sender != m.convos.LocalUser() {
		return false
	}
	if _, ok := creation.Content[domain.AttrVirtualRoom]; !ok {
		return false
	}
	m.rememberVirtual(roomID)
	return true
}

// OnNewInvitedRoom inspects a pending invite and, when the inviter turns
// out to be a bridge-owned virtual identity tied to an existing native
// conversation, tags the invited room as virtual and auto-joins it. The
// trust here is the inviter's authenticated identity, never room content.
// Invites that do not match are left untouched.
func (m *RoomMapper) OnNewInvitedRoom(ctx context.Context, invitedRoomID domain.RoomID) error {
	if err := m.discovery.AwaitProtocolsChecked(ctx); err != nil {
		return err
	}
	if !m.discovery.SupportsVirtualRooms() {
		return nil
	}

	room, err := m.convos.GetRoom(ctx, invitedRoomID)
	if err != nil {
		return err
	}
	if room.InviterID == "" {
		return nil
	}

	results := m.lookup.LookupNativeUser(ctx, room.InviterID)
	if len(results) == 0 {
		return nil
	}
	native := results[0]
	if !native.IsVirtual() {
		return nil
	}

	nativeRoomID, found, err := m.convos.FindDirectRoom(ctx, native.UserID)
	if err != nil {
		return err
	}
	if !found {
		// No native conversation with that user: not our invite to accept.
		return nil
	}

	if err := m.convos.SetRoomAttribute(ctx, invitedRoomID, domain.AttrVirtualRoom, string(nativeRoomID)); err != nil {
		return err
	}
	m.rememberVirtual(invitedRoomID)
	if err := m.convos.JoinRoom(ctx, invitedRoomID); err != nil {
		return err
	}
	m.monitor.IncrInvitesJoined()
	m.log.Info("Virtual room invite joined",
		"room", string(invitedRoomID), "native_room", string(nativeRoomID), "inviter", string(room.InviterID))
	return nil
}

func (m *RoomMapper) knownVirtual(roomID domain.RoomID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.virtual[roomID]
	return ok
}

func (m *RoomMapper) rememberVirtual(roomID domain.RoomID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.virtual[roomID] = struct{}{}
}
