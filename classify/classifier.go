// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/switchboard/adminroom"
	"github.com/bureau-foundation/switchboard/lib/metrics"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
)

const defaultWorkers = 8

// Directory enumerates the server's users and rooms. *adminroom.Channel
// implements it.
type Directory interface {
	ListUsers(ctx context.Context) ([]adminroom.UserEntry, error)
	ListRooms(ctx context.Context) ([]adminroom.RoomEntry, error)
}

// Config holds the dependencies of a Classifier.
type Config struct {
	Session   messaging.Session
	Directory Directory

	// SystemAccounts always classify as RoleSystemBot: the admin bot
	// and the brain itself.
	SystemAccounts []ref.UserID

	// Workers bounds concurrent per-room reads. Zero uses 8.
	Workers int

	Logger *slog.Logger
}

// Classifier scans the homeserver. It holds no cache; every Classify
// call reads fresh state.
type Classifier struct {
	session   messaging.Session
	directory Directory
	system    []ref.UserID
	workers   int
	logger    *slog.Logger
}

// New returns a Classifier.
func New(config Config) (*Classifier, error) {
	if config.Session == nil {
		return nil, fmt.Errorf("classify: Session is required")
	}
	if config.Directory == nil {
		return nil, fmt.Errorf("classify: Directory is required")
	}
	workers := config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		session:   config.Session,
		directory: config.Directory,
		system:    slices.Clone(config.SystemAccounts),
		workers:   workers,
		logger:    logger,
	}, nil
}

// KindOf reads a room's kind declaration. ok is false when the room
// has no declaration or declares a kind this build does not know.
func (c *Classifier) KindOf(ctx context.Context, roomID ref.RoomID) (schema.RoomKind, bool, error) {
	declaration, ok, err := c.declaration(ctx, roomID)
	if err != nil || !ok {
		return "", false, err
	}
	return declaration.Kind, true, nil
}

func (c *Classifier) declaration(ctx context.Context, roomID ref.RoomID) (schema.RoomKindContent, bool, error) {
	content, err := messaging.GetState[schema.RoomKindContent](ctx, c.session, roomID, schema.EventTypeRoomKind, "")
	if err != nil {
		if messaging.IsMatrixError(err, messaging.ErrCodeNotFound) {
			return schema.RoomKindContent{}, false, nil
		}
		return schema.RoomKindContent{}, false, fmt.Errorf("classify: reading kind of %s: %w", roomID, err)
	}
	if !content.Kind.IsKnown() {
		return schema.RoomKindContent{}, false, nil
	}
	return content, true, nil
}

// roomResult is one task's output. Tasks never share state; the merge
// reads results in room order after every task finishes.
type roomResult struct {
	entry   adminroom.RoomEntry
	typed   bool
	gap     error
	info    RoomInfo
	members []messaging.RoomMember
}

// Classify scans every room and returns typed accounts and rooms. It
// fails only when the directory listing fails or ctx is cancelled.
func (c *Classifier) Classify(ctx context.Context) (*Snapshot, error) {
	users, err := c.directory.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("classify: listing users: %w", err)
	}
	rooms, err := c.directory.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("classify: listing rooms: %w", err)
	}
	rooms = slices.Clone(rooms)
	slices.SortFunc(rooms, func(a, b adminroom.RoomEntry) int {
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	rooms = slices.CompactFunc(rooms, func(a, b adminroom.RoomEntry) bool { return a.ID == b.ID })

	results := make([]roomResult, len(rooms))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.workers)
	for index, entry := range rooms {
		group.Go(func() error {
			results[index] = c.scanRoom(groupCtx, entry)
			return nil
		})
	}
	group.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return c.merge(users, results), nil
}

func (c *Classifier) scanRoom(ctx context.Context, entry adminroom.RoomEntry) roomResult {
	result := roomResult{entry: entry}

	declaration, ok, err := c.declaration(ctx, entry.ID)
	if err != nil {
		result.gap = err
		return result
	}
	if !ok {
		return result
	}

	members, err := c.session.GetRoomMembers(ctx, entry.ID)
	if err != nil {
		result.gap = fmt.Errorf("classify: reading members of %s: %w", entry.ID, err)
		return result
	}

	info := RoomInfo{
		ID:         entry.ID,
		Name:       entry.Name,
		Kind:       declaration.Kind,
		Owner:      declaration.Owner,
		WorkerType: declaration.WorkerType,
		Members:    []ref.UserID{},
	}
	var joined []messaging.RoomMember
	for _, member := range members {
		if member.Membership == schema.MembershipJoin {
			joined = append(joined, member)
			info.Members = append(info.Members, member.UserID)
		}
	}
	slices.SortFunc(info.Members, func(a, b ref.UserID) int { return cmp.Compare(a.String(), b.String()) })

	if !declaration.Owner.IsZero() {
		powerLevels, err := messaging.GetState[schema.PowerLevels](ctx, c.session, entry.ID, schema.MatrixEventTypePowerLevels, "")
		if err == nil {
			info.OwnerPower = powerLevels.UserLevel(declaration.Owner.String()) >= schema.PowerLevelOwner
		}
	}

	result.typed = true
	result.info = info
	result.members = joined
	return result
}

func (c *Classifier) merge(users []adminroom.UserEntry, results []roomResult) *Snapshot {
	snapshot := &Snapshot{
		Accounts: make(map[ref.UserID]Account, len(users)),
		Rooms:    make(map[ref.RoomID]RoomInfo),
	}
	for _, user := range users {
		snapshot.Accounts[user.ID] = Account{ID: user.ID, Deactivated: user.Deactivated}
	}
	for _, userID := range c.system {
		account := snapshot.Accounts[userID]
		account.ID = userID
		account.Role = RoleSystemBot
		snapshot.Accounts[userID] = account
	}

	for _, result := range results {
		if result.gap != nil {
			metrics.ClassificationGapsTotal.Inc()
			c.logger.Debug("room excluded from classification",
				"room_id", result.entry.ID,
				"error", result.gap,
			)
			snapshot.Gaps = append(snapshot.Gaps, result.entry.ID)
			continue
		}
		if !result.typed {
			continue
		}
		info := result.info
		snapshot.Rooms[info.ID] = info

		for _, member := range result.members {
			account, ok := snapshot.Accounts[member.UserID]
			if !ok {
				account = Account{ID: member.UserID}
			}
			if account.DisplayName == "" {
				account.DisplayName = member.DisplayName
			}
			snapshot.Accounts[member.UserID] = account
		}

		if info.Kind == schema.RoomKindOwner {
			if !info.Owner.IsZero() {
				assignRole(snapshot.Accounts, info.Owner, RoleOwner, info)
			}
			continue
		}
		role, assigns := roleForKind(info.Kind)
		if !assigns {
			continue
		}
		for _, member := range result.members {
			if member.UserID != info.Owner {
				assignRole(snapshot.Accounts, member.UserID, role, info)
			}
		}
	}
	return snapshot
}

// assignRole gives an account role unless it already holds one of
// equal or higher precedence.
func assignRole(accounts map[ref.UserID]Account, userID ref.UserID, role Role, room RoomInfo) {
	account, ok := accounts[userID]
	if !ok {
		account = Account{ID: userID}
	}
	if role.precedence() <= account.Role.precedence() {
		accounts[userID] = account
		return
	}
	account.Role = role
	account.LinkedRoom = room.ID
	account.WorkerType = ""
	if role == RoleWorker {
		account.WorkerType = room.WorkerType
	}
	accounts[userID] = account
}
