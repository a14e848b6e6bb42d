// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package brain

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/bureau-foundation/switchboard/adminroom"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/schema"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/provision"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// Admin is the account administration surface of the command channel.
// *adminroom.Channel implements it.
type Admin interface {
	classify.Directory
	CreateUser(ctx context.Context, localpart, password string) (ref.UserID, error)
	DeactivateUser(ctx context.Context, userID ref.UserID) error
	ResetPassword(ctx context.Context, userID ref.UserID, password string) error
	ForceJoinRoom(ctx context.Context, userID ref.UserID, roomID ref.RoomID) error
}

// Scanner produces classifier snapshots. *classify.Classifier
// implements it.
type Scanner interface {
	Classify(ctx context.Context) (*classify.Snapshot, error)
}

// InvitationSource exposes pending invitations. *syncengine.Engine
// implements it.
type InvitationSource interface {
	Invitations() []syncengine.Invitation
}

// RoomMap is the router's room map. *router.Router implements it.
type RoomMap interface {
	Seed(snapshot *classify.Snapshot)
	Learn(roomID ref.RoomID, kind schema.RoomKind)
}

// Provisioner is the provisioning pipeline. *provision.Provisioner
// implements it.
type Provisioner interface {
	Preflight(ctx context.Context) (*provision.PreflightResult, error)
	Configure(ctx context.Context, params provision.Params, options provision.ConfigureOptions) (*provision.ConfigureResult, error)
	Pull(ctx context.Context) error
	Start(ctx context.Context) error
	Verify(ctx context.Context, url string) (*provision.VerifyResult, error)
	Status(ctx context.Context) (*provision.Status, error)
}

// Config holds a Brain's collaborators. Rooms and Provisioner are
// optional.
type Config struct {
	Session     messaging.Session
	Admin       Admin
	Scanner     Scanner
	Invitations InvitationSource
	Hub         *fanout.Hub
	Rooms       RoomMap
	Provisioner Provisioner
	Logger      *slog.Logger
}

// Brain implements the control-plane operations.
type Brain struct {
	session     messaging.Session
	admin       Admin
	scanner     Scanner
	invitations InvitationSource
	hub         *fanout.Hub
	rooms       RoomMap
	provisioner Provisioner
	logger      *slog.Logger
	validate    *validator.Validate
}

// New returns a Brain.
func New(config Config) (*Brain, error) {
	switch {
	case config.Session == nil:
		return nil, fmt.Errorf("brain: Session is required")
	case config.Admin == nil:
		return nil, fmt.Errorf("brain: Admin is required")
	case config.Scanner == nil:
		return nil, fmt.Errorf("brain: Scanner is required")
	case config.Invitations == nil:
		return nil, fmt.Errorf("brain: Invitations is required")
	case config.Hub == nil:
		return nil, fmt.Errorf("brain: Hub is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Brain{
		session:     config.Session,
		admin:       config.Admin,
		scanner:     config.Scanner,
		invitations: config.Invitations,
		hub:         config.Hub,
		rooms:       config.Rooms,
		provisioner: config.Provisioner,
		logger:      logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}, nil
}

// UserID returns the brain account.
func (b *Brain) UserID() ref.UserID {
	return b.session.UserID()
}

func (b *Brain) check(request any) error {
	if err := b.validate.Struct(request); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			messages := make([]string, 0, len(validationErrors))
			for _, fieldErr := range validationErrors {
				messages = append(messages, fmt.Sprintf("%s: failed %s", strings.ToLower(fieldErr.Field()), fieldErr.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(messages, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// scan classifies and refreshes the router's room map.
func (b *Brain) scan(ctx context.Context) (*classify.Snapshot, error) {
	snapshot, err := b.scanner.Classify(ctx)
	if err != nil {
		return nil, err
	}
	if b.rooms != nil {
		b.rooms.Seed(snapshot)
	}
	return snapshot, nil
}

// ListAccounts classifies every account, sorted by user ID.
func (b *Brain) ListAccounts(ctx context.Context) ([]classify.Account, error) {
	snapshot, err := b.scan(ctx)
	if err != nil {
		return nil, err
	}
	accounts := make([]classify.Account, 0, len(snapshot.Accounts))
	for _, account := range snapshot.Accounts {
		accounts = append(accounts, account)
	}
	slices.SortFunc(accounts, func(a, b classify.Account) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return accounts, nil
}

// CreateAccount registers an account. A password is generated when
// the request has none.
func (b *Brain) CreateAccount(ctx context.Context, request CreateAccountRequest) (*CreatedAccount, error) {
	if err := b.check(request); err != nil {
		return nil, err
	}
	if !validLocalpart(request.Localpart) {
		return nil, fmt.Errorf("%w: localpart %q may only contain a-z, 0-9, and ._=-/", ErrInvalidRequest, request.Localpart)
	}
	password := request.Password
	if password == "" {
		generated, err := generatePassword()
		if err != nil {
			return nil, err
		}
		password = generated
	}
	userID, err := b.admin.CreateUser(ctx, request.Localpart, password)
	if err != nil {
		return nil, err
	}
	b.logger.Info("account created", "user_id", userID)
	return &CreatedAccount{UserID: userID, Password: password}, nil
}

// validLocalpart reports whether localpart uses only the characters
// Matrix allows in new user IDs.
func validLocalpart(localpart string) bool {
	for _, r := range localpart {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case strings.ContainsRune("._=-/", r):
		default:
			return false
		}
	}
	return localpart != ""
}

func generatePassword() (string, error) {
	raw := make([]byte, 18)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("brain: generating password: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// DeactivateAccount deactivates userID. The brain's own account and
// the zero user ID are refused.
func (b *Brain) DeactivateAccount(ctx context.Context, userID ref.UserID) error {
	if userID.IsZero() {
		return fmt.Errorf("%w: user ID is required", ErrInvalidRequest)
	}
	if userID == b.session.UserID() {
		return fmt.Errorf("%w: refusing to deactivate the brain account", ErrInvalidRequest)
	}
	if err := b.admin.DeactivateUser(ctx, userID); err != nil {
		return err
	}
	b.logger.Info("account deactivated", "user_id", userID)
	return nil
}

// ResetPassword sets a new password for an account, generating one
// when the request has none. The homeserver logs out the account's
// devices. The brain's own account is refused.
func (b *Brain) ResetPassword(ctx context.Context, request ResetPasswordRequest) (*CreatedAccount, error) {
	if err := b.check(request); err != nil {
		return nil, err
	}
	if request.UserID.IsZero() {
		return nil, fmt.Errorf("%w: user ID is required", ErrInvalidRequest)
	}
	if request.UserID == b.session.UserID() {
		return nil, fmt.Errorf("%w: refusing to reset the brain account's password", ErrInvalidRequest)
	}
	password := request.Password
	if password == "" {
		generated, err := generatePassword()
		if err != nil {
			return nil, err
		}
		password = generated
	}
	if err := b.admin.ResetPassword(ctx, request.UserID, password); err != nil {
		return nil, err
	}
	b.logger.Info("account password reset", "user_id", request.UserID)
	return &CreatedAccount{UserID: request.UserID, Password: password}, nil
}

// ListRooms returns every typed room, sorted by room ID.
func (b *Brain) ListRooms(ctx context.Context) ([]classify.RoomInfo, error) {
	snapshot, err := b.scan(ctx)
	if err != nil {
		return nil, err
	}
	rooms := make([]classify.RoomInfo, 0, len(snapshot.Rooms))
	for _, room := range snapshot.Rooms {
		rooms = append(rooms, room)
	}
	slices.SortFunc(rooms, func(a, b classify.RoomInfo) int {
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return rooms, nil
}

// CreateRoom creates a room with its kind declared in initial state.
// Owner rooms give the owner owner-level power.
func (b *Brain) CreateRoom(ctx context.Context, request CreateRoomRequest) (ref.RoomID, error) {
	if err := b.check(request); err != nil {
		return ref.RoomID{}, err
	}
	if request.Kind == schema.RoomKindOwner && request.Owner.IsZero() {
		return ref.RoomID{}, fmt.Errorf("%w: owner rooms need an owner", ErrInvalidRequest)
	}

	declaration := schema.RoomKindContent{
		Kind:       request.Kind,
		Owner:      request.Owner,
		WorkerType: request.WorkerType,
	}
	invite := slices.Clone(request.Invite)
	if !request.Owner.IsZero() && !slices.Contains(invite, request.Owner) {
		invite = append(invite, request.Owner)
	}
	createRequest := messaging.CreateRoomRequest{
		Name:   request.Name,
		Topic:  request.Topic,
		Preset: "private_chat",
		Invite: invite,
		InitialState: []messaging.StateEvent{
			{Type: schema.EventTypeRoomKind, StateKey: "", Content: declaration},
		},
	}
	if request.Kind == schema.RoomKindOwner {
		createRequest.PowerLevelContentOverride = map[string]any{
			"users": map[string]int{
				b.session.UserID().String(): schema.PowerLevelOwner,
				request.Owner.String():      schema.PowerLevelOwner,
			},
		}
	}

	response, err := b.session.CreateRoom(ctx, createRequest)
	if err != nil {
		return ref.RoomID{}, err
	}
	if b.rooms != nil {
		b.rooms.Learn(response.RoomID, request.Kind)
	}
	b.logger.Info("room created", "room_id", response.RoomID, "kind", request.Kind)
	return response.RoomID, nil
}

// InviteToRoom invites userID to roomID.
func (b *Brain) InviteToRoom(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	if roomID.IsZero() || userID.IsZero() {
		return fmt.Errorf("%w: room ID and user ID are required", ErrInvalidRequest)
	}
	return b.session.InviteUser(ctx, roomID, userID)
}

// ForceJoinRoom joins userID to roomID through the admin bot, with no
// invite round trip. Worker bots that never accept invitations are
// placed this way.
func (b *Brain) ForceJoinRoom(ctx context.Context, roomID ref.RoomID, userID ref.UserID) error {
	if roomID.IsZero() || userID.IsZero() {
		return fmt.Errorf("%w: room ID and user ID are required", ErrInvalidRequest)
	}
	if err := b.admin.ForceJoinRoom(ctx, userID, roomID); err != nil {
		return err
	}
	b.logger.Info("account force-joined", "room_id", roomID, "user_id", userID)
	return nil
}

// PendingInvitations returns the invitations the sync engine holds.
func (b *Brain) PendingInvitations() []syncengine.Invitation {
	return b.invitations.Invitations()
}

func (b *Brain) pending(roomID ref.RoomID) bool {
	for _, invitation := range b.invitations.Invitations() {
		if invitation.RoomID == roomID {
			return true
		}
	}
	return false
}

// AcceptInvitation joins an invited room.
func (b *Brain) AcceptInvitation(ctx context.Context, roomID ref.RoomID) error {
	if !b.pending(roomID) {
		return fmt.Errorf("%w %s", ErrNoInvitation, roomID)
	}
	if _, err := b.session.JoinRoom(ctx, roomID); err != nil {
		return err
	}
	b.logger.Info("invitation accepted", "room_id", roomID)
	return nil
}

// RejectInvitation declines an invitation.
func (b *Brain) RejectInvitation(ctx context.Context, roomID ref.RoomID) error {
	if !b.pending(roomID) {
		return fmt.Errorf("%w %s", ErrNoInvitation, roomID)
	}
	if err := b.session.LeaveRoom(ctx, roomID); err != nil {
		return err
	}
	b.logger.Info("invitation rejected", "room_id", roomID)
	return nil
}

// SubscribeEvents returns a subscription to the event stream. The
// caller must Close it.
func (b *Brain) SubscribeEvents() *fanout.Subscription {
	return b.hub.Subscribe()
}

func (b *Brain) requireProvisioner() error {
	if b.provisioner == nil {
		return ErrNoProvisioner
	}
	return nil
}

func (b *Brain) RunPreflight(ctx context.Context) (*provision.PreflightResult, error) {
	if err := b.requireProvisioner(); err != nil {
		return nil, err
	}
	return b.provisioner.Preflight(ctx)
}

func (b *Brain) Configure(ctx context.Context, params provision.Params, options provision.ConfigureOptions) (*provision.ConfigureResult, error) {
	if err := b.requireProvisioner(); err != nil {
		return nil, err
	}
	return b.provisioner.Configure(ctx, params, options)
}

func (b *Brain) Pull(ctx context.Context) error {
	if err := b.requireProvisioner(); err != nil {
		return err
	}
	return b.provisioner.Pull(ctx)
}

func (b *Brain) Start(ctx context.Context) error {
	if err := b.requireProvisioner(); err != nil {
		return err
	}
	return b.provisioner.Start(ctx)
}

func (b *Brain) Verify(ctx context.Context, url string) (*provision.VerifyResult, error) {
	if err := b.requireProvisioner(); err != nil {
		return nil, err
	}
	return b.provisioner.Verify(ctx, url)
}

func (b *Brain) ProvisionStatus(ctx context.Context) (*provision.Status, error) {
	if err := b.requireProvisioner(); err != nil {
		return nil, err
	}
	return b.provisioner.Status(ctx)
}

var _ Admin = (*adminroom.Channel)(nil)
