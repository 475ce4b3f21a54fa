//go:generate go run go.uber.org/mock/mockgen -source=room.go -destination=../mocks/mock_room_directory.go -package=mocks
package repositories

import (
	"call-lab/domain"
	errors2 "call-lab/errors"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Key layout of the room directory:
//  1. "room:{room_id}" holds the JSON room record.
//  2. "member:{room_id}" holds the local membership state.
//  3. "create:{room_id}" holds the JSON creation event, immutable after write.
//  4. "attr:{room_id}:{key}" holds one room attribute value.
//  5. "direct:{user_id}" indexes the direct room shared with a user.
//  6. "txn:{transaction_id}" de-duplicates replayed room creations.
const (
	roomKeyPrefix   = "room:"
	memberKeyPrefix = "member:"
	createKeyPrefix = "create:"
	attrKeyPrefix   = "attr:"
	directKeyPrefix = "direct:"
	txnKeyPrefix    = "txn:"
)

// RoomDirectory is the local, durable view of the rooms this session knows.
// It backs the conversation contract consumed by the room mapper.
type RoomDirectory struct {
	db        *badger.DB
	log       *slog.Logger
	localUser domain.UserID
}

func NewRoomDirectory(db *badger.DB, log *slog.Logger, localUser domain.UserID) RoomDirectory {
	return RoomDirectory{db: db, log: log, localUser: localUser}
}

func (d RoomDirectory) LocalUser() domain.UserID {
	return d.localUser
}

func (d RoomDirectory) GetRoom(_ context.Context, id domain.RoomID) (*domain.RoomRecord, error) {
	var room domain.RoomRecord
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(roomKeyPrefix + string(id)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &room)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors2.ErrRoomNotFound
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d RoomDirectory) FindDirectRoom(_ context.Context, userID domain.UserID) (domain.RoomID, bool, error) {
	var roomID domain.RoomID
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(directKeyPrefix + string(userID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			roomID = domain.RoomID(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return roomID, true, nil
}

// CreateDirectRoom mints a room id, persists the record, the creation event
// and the direct index in one transaction. A replayed transaction id returns
// the room created the first time instead of a new one.
func (d RoomDirectory) CreateDirectRoom(_ context.Context, params domain.CreateDirectRoomParams) (domain.RoomID, error) {
	newID := domain.RoomID(fmt.Sprintf("!%s:%s", uuid.NewString(), d.serverPart()))
	roomID := newID
	err := d.db.Update(func(txn *badger.Txn) error {
		if params.TransactionID != "" {
			item, err := txn.Get([]byte(txnKeyPrefix + params.TransactionID))
			if err == nil {
				return item.Value(func(val []byte) error {
					roomID = domain.RoomID(val)
					return nil
				})
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}

		record := domain.RoomRecord{ID: newID, Direct: true, OpponentID: params.InviteUserID}
		recordBytes, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}
		creation := domain.CreationEvent{Sender: d.localUser, Content: params.CreationContent}
		creationBytes, err := json.Marshal(creation)
		if err != nil {
			return fmt.Errorf("marshal failed: %w", err)
		}

		if err = txn.Set([]byte(roomKeyPrefix+string(newID)), recordBytes); err != nil {
			return err
		}
		if err = txn.Set([]byte(createKeyPrefix+string(newID)), creationBytes); err != nil {
			return err
		}
		if err = txn.Set([]byte(memberKeyPrefix+string(newID)), []byte(domain.MembershipJoined)); err != nil {
			return err
		}
		if err = txn.Set([]byte(directKeyPrefix+string(params.InviteUserID)), []byte(newID)); err != nil {
			return err
		}
		if params.TransactionID != "" {
			return txn.Set([]byte(txnKeyPrefix+params.TransactionID), []byte(newID))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return roomID, nil
}

func (d RoomDirectory) JoinRoom(_ context.Context, id domain.RoomID) error {
	return d.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(roomKeyPrefix + string(id))); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return errors2.ErrRoomNotFound
			}
			return err
		}
		return txn.Set([]byte(memberKeyPrefix+string(id)), []byte(domain.MembershipJoined))
	})
}

func (d RoomDirectory) RoomAttribute(_ context.Context, id domain.RoomID, key string) (string, error) {
	var value string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(attrKeyPrefix + string(id) + ":" + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (d RoomDirectory) SetRoomAttribute(_ context.Context, id domain.RoomID, key, value string) error {
	return d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(attrKeyPrefix+string(id)+":"+key), []byte(value))
	})
}

func (d RoomDirectory) CreationEvent(_ context.Context, id domain.RoomID) (*domain.CreationEvent, error) {
	var creation domain.CreationEvent
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(createKeyPrefix + string(id)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &creation)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, errors2.ErrNoCreationEvent
	}
	if err != nil {
		return nil, err
	}
	return &creation, nil
}

// InsertInvitedRoom records a room the session was invited to. The record
// overwrites any previous state for the same id, the membership becomes
// invited.
func (d RoomDirectory) InsertInvitedRoom(record domain.RoomRecord) error {
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}
	return d.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(roomKeyPrefix+string(record.ID)), recordBytes); err != nil {
			return err
		}
		return txn.Set([]byte(memberKeyPrefix+string(record.ID)), []byte(domain.MembershipInvited))
	})
}

// Membership returns the local membership state of a room, "" when unknown.
func (d RoomDirectory) Membership(id domain.RoomID) (string, error) {
	var membership string
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(memberKeyPrefix + string(id)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			membership = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return membership, nil
}

// Rooms lists every known room using a prefix scan.
func (d RoomDirectory) Rooms() ([]domain.RoomRecord, error) {
	var rooms []domain.RoomRecord
	err := d.db.View(func(txn *badger.Txn) error {
		prefix := []byte(roomKeyPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var room domain.RoomRecord
				if err := json.Unmarshal(val, &room); err != nil {
					return err
				}
				rooms = append(rooms, room)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return rooms, err
}

// Attributes collects the attributes of one room using a prefix scan.
func (d RoomDirectory) Attributes(id domain.RoomID) (map[string]string, error) {
	attrs := make(map[string]string)
	err := d.db.View(func(txn *badger.Txn) error {
		prefixStr := attrKeyPrefix + string(id) + ":"
		prefix := []byte(prefixStr)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(prefixStr):])
			err := item.Value(func(val []byte) error {
				attrs[key] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return attrs, err
}

// serverPart extracts the homeserver of the local user id, used as the
// server suffix of minted room ids.
func (d RoomDirectory) serverPart() string {
	parts := strings.SplitN(string(d.localUser), ":", 2)
	if len(parts) == 2 && parts[1] != "" {
		return parts[1]
	}
	return "localhost"
}
