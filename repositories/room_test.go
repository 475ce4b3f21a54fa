package repositories

import (
	"call-lab/domain"
	"call-lab/errors"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func openTestDirectory(t *testing.T) RoomDirectory {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRoomDirectory(db, slog.Default(), "@me:call.lab")
}

func Test_Create_Direct_Room(t *testing.T) {
	req := require.New(t)
	directory := openTestDirectory(t)
	ctx := context.Background()

	roomID, err := directory.CreateDirectRoom(ctx, domain.CreateDirectRoomParams{
		InviteUserID:    "@sip_bob:bridge.call.lab",
		CreationContent: map[string]string{domain.AttrVirtualRoom: "!native:call.lab"},
		TransactionID:   "txn-1",
	})
	req.NoError(err)
	req.True(strings.HasPrefix(string(roomID), "!"))
	req.True(strings.HasSuffix(string(roomID), ":call.lab"))

	room, err := directory.GetRoom(ctx, roomID)
	req.NoError(err)
	req.True(room.Direct)
	req.Equal(domain.UserID("@sip_bob:bridge.call.lab"), room.OpponentID)

	creation, err := directory.CreationEvent(ctx, roomID)
	req.NoError(err)
	req.Equal(domain.UserID("@me:call.lab"), creation.Sender)
	req.Equal("!native:call.lab", creation.Content[domain.AttrVirtualRoom])

	directID, found, err := directory.FindDirectRoom(ctx, "@sip_bob:bridge.call.lab")
	req.NoError(err)
	req.True(found)
	req.Equal(roomID, directID)

	membership, err := directory.Membership(roomID)
	req.NoError(err)
	req.Equal(domain.MembershipJoined, membership)
}

func Test_Create_Direct_Room_Replayed_Transaction(t *testing.T) {
	req := require.New(t)
	directory := openTestDirectory(t)
	ctx := context.Background()

	params := domain.CreateDirectRoomParams{
		InviteUserID:  "@sip_bob:bridge.call.lab",
		TransactionID: "txn-replayed",
	}
	first, err := directory.CreateDirectRoom(ctx, params)
	req.NoError(err)
	second, err := directory.CreateDirectRoom(ctx, params)
	req.NoError(err)

	req.Equal(first, second)
	rooms, err := directory.Rooms()
	req.NoError(err)
	req.Len(rooms, 1)
}

func Test_Unknown_Room(t *testing.T) {
	req := require.New(t)
	directory := openTestDirectory(t)
	ctx := context.Background()

	_, err := directory.GetRoom(ctx, "!ghost:call.lab")
	req.ErrorIs(err, errors.ErrRoomNotFound)

	_, found, err := directory.FindDirectRoom(ctx, "@nobody:call.lab")
	req.NoError(err)
	req.False(found)

	value, err := directory.RoomAttribute(ctx, "!ghost:call.lab", domain.AttrVirtualRoom)
	req.NoError(err)
	req.Empty(value)

	_, err = directory.CreationEvent(ctx, "!ghost:call.lab")
	req.ErrorIs(err, errors.ErrNoCreationEvent)

	membership, err := directory.Membership("!ghost:call.lab")
	req.NoError(err)
	req.Empty(membership)
}

func Test_Room_Attributes(t *testing.T) {
	req := require.New(t)
	directory := openTestDirectory(t)
	ctx := context.Background()

	req.NoError(directory.SetRoomAttribute(ctx, "!a:call.lab", domain.AttrVirtualRoom, "!native:call.lab"))
	req.NoError(directory.SetRoomAttribute(ctx, "!a:call.lab", "chat.pinned", "yes"))
	req.NoError(directory.SetRoomAttribute(ctx, "!ab:call.lab", domain.AttrVirtualRoom, "!other:call.lab"))

	value, err := directory.RoomAttribute(ctx, "!a:call.lab", domain.AttrVirtualRoom)
	req.NoError(err)
	req.Equal("!native:call.lab", value)

	// Prefix scans must not leak attributes of rooms sharing a key prefix
	attrs, err := directory.Attributes("!a:call.lab")
	req.NoError(err)
	req.Equal(map[string]string{
		domain.AttrVirtualRoom: "!native:call.lab",
		"chat.pinned":          "yes",
	}, attrs)
}

func Test_Invited_Room_Join_Flow(t *testing.T) {
	req := require.New(t)
	directory := openTestDirectory(t)
	ctx := context.Background()

	record := domain.RoomRecord{
		ID:        "!invited:bridge.call.lab",
		Direct:    true,
		InviterID: "@sip_bob:bridge.call.lab",
	}
	req.NoError(directory.InsertInvitedRoom(record))

	membership, err := directory.Membership(record.ID)
	req.NoError(err)
	req.Equal(domain.MembershipInvited, membership)

	room, err := directory.GetRoom(ctx, record.ID)
	req.NoError(err)
	req.Equal(domain.UserID("@sip_bob:bridge.call.lab"), room.InviterID)

	req.NoError(directory.JoinRoom(ctx, record.ID))
	membership, err = directory.Membership(record.ID)
	req.NoError(err)
	req.Equal(domain.MembershipJoined, membership)

	req.ErrorIs(directory.JoinRoom(ctx, "!ghost:call.lab"), errors.ErrRoomNotFound)
}
