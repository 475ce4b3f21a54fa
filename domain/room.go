package domain

import "time"

// AttrVirtualRoom is the room attribute carrying the virtual→native
// back-link: stored on a virtual room, its value is the native room id.
// The same key inside a room's creation content marks the room as virtual
// from birth and is only trusted when the local user created the room.
const AttrVirtualRoom = "chat.virtual_room"

// Membership states tracked by the local room directory.
const (
	MembershipJoined  = "joined"
	MembershipInvited = "invited"
)

// RoomRecord is the locally known state of a room.
type RoomRecord struct {
	ID         RoomID `json:"id"`
	Direct     bool   `json:"direct"`
	OpponentID UserID `json:"opponent_id,omitempty"`
	InviterID  UserID `json:"inviter_id,omitempty"`
}

// CreationEvent is the immutable first event of a room. Sender identity is
// what makes its content trustworthy, or not.
type CreationEvent struct {
	Sender  UserID            `json:"sender"`
	Content map[string]string `json:"content,omitempty"`
}

// CreateDirectRoomParams describes a direct room to provision.
// TransactionID lets the conversation layer de-duplicate replayed requests.
type CreateDirectRoomParams struct {
	InviteUserID    UserID
	CreationContent map[string]string
	TransactionID   string
}

// Invite is a pending room invite observed by the session. InviterID may be
// empty when the notifying side already persisted the invited room.
type Invite struct {
	RoomID    RoomID    `json:"room_id"`
	InviterID UserID    `json:"inviter_user_id,omitempty"`
	At        time.Time `json:"at"`
}
