//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"call-lab/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// IBridgeDirectory is the remote bridge surface consumed by discovery and
// lookups. Both calls may fail; retry and swallow policies belong to the
// services layer, not to implementations.
type IBridgeDirectory interface {
	ListProtocols(ctx context.Context) (map[string]domain.ProtocolInfo, error)
	FindUsers(ctx context.Context, protocol string, fields map[string]string) ([]domain.ThirdPartyUser, error)
}

// IConversations is the conversation-management collaborator. The mapper
// orchestrates room lookup, creation, tagging and joining through it and
// never touches the storage engine directly.
type IConversations interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.RoomRecord, error)
	FindDirectRoom(ctx context.Context, userID domain.UserID) (domain.RoomID, bool, error)
	CreateDirectRoom(ctx context.Context, params domain.CreateDirectRoomParams) (domain.RoomID, error)
	JoinRoom(ctx context.Context, id domain.RoomID) error
	// RoomAttribute returns "" when the attribute is absent.
	RoomAttribute(ctx context.Context, id domain.RoomID, key string) (string, error)
	SetRoomAttribute(ctx context.Context, id domain.RoomID, key, value string) error
	CreationEvent(ctx context.Context, id domain.RoomID) (*domain.CreationEvent, error)
	LocalUser() domain.UserID
}

// CapabilityListener receives bridge capability transitions. A callback
// fires at most once per capability that became available during the
// session; late registrations miss past notifications.
type CapabilityListener interface {
	OnPSTNSupportUpdated()
	OnVirtualRoomSupportUpdated()
}

// NoopCapabilityListener can be embedded by listeners interested in a
// subset of the callbacks.
type NoopCapabilityListener struct{}

func (NoopCapabilityListener) OnPSTNSupportUpdated() {}

func (NoopCapabilityListener) OnVirtualRoomSupportUpdated() {}
