package workers

import (
	"call-lab/domain"
	"call-lab/repositories"
	"call-lab/services"
	"context"
	"log/slog"
)

// InviteWorker drains the invite queue fed by the bridge API and evaluates
// each invited room. A failed invite is logged and dropped, the queue must
// keep flowing.
type InviteWorker struct {
	log     *slog.Logger
	invites <-chan domain.Invite
	rooms   repositories.RoomDirectory
	mapper  *services.RoomMapper
}

func NewInviteWorker(log *slog.Logger, invites <-chan domain.Invite,
	rooms repositories.RoomDirectory, mapper *services.RoomMapper) *InviteWorker {
	return &InviteWorker{log: log, invites: invites, rooms: rooms, mapper: mapper}
}

func (w *InviteWorker) Run(ctx context.Context) error {
	w.log.Info("Starting invite worker")
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping worker")
			return nil
		case invite, ok := <-w.invites:
			if !ok {
				return nil
			}
			w.handle(ctx, invite)
		}
	}
}

func (w *InviteWorker) handle(ctx context.Context, invite domain.Invite) {
	if invite.InviterID != "" {
		record := domain.RoomRecord{ID: invite.RoomID, Direct: true, InviterID: invite.InviterID}
		if err := w.rooms.InsertInvitedRoom(record); err != nil {
			w.log.Error("Failed to persist invited room", "room_id", invite.RoomID, "error", err)
			return
		}
	}
	if err := w.mapper.OnNewInvitedRoom(ctx, invite.RoomID); err != nil {
		w.log.Warn("Invite evaluation failed", "room_id", invite.RoomID, "error", err)
	}
}
