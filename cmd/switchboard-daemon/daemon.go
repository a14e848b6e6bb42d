// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/switchboard/adminroom"
	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/brain"
	"github.com/bureau-foundation/switchboard/classify"
	"github.com/bureau-foundation/switchboard/fanout"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/ref"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/lib/service"
	"github.com/bureau-foundation/switchboard/messaging"
	"github.com/bureau-foundation/switchboard/provision"
	"github.com/bureau-foundation/switchboard/router"
	"github.com/bureau-foundation/switchboard/syncengine"
)

// Daemon owns the brain's long-lived components.
type Daemon struct {
	config      *config.Config
	logger      *slog.Logger
	identity    *secret.Buffer
	state       *stateStore
	hasState    bool
	provisioner *provision.Provisioner
}

// newDaemon loads the age identity, state.yaml, and the provisioner.
// No network calls are made.
func newDaemon(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	var recipients []string
	if cfg.Provision.SealRecipient != "" {
		if err := sealed.ParsePublicKey(cfg.Provision.SealRecipient); err != nil {
			return nil, fmt.Errorf("provision.seal_recipient: %w", err)
		}
		recipients = []string{cfg.Provision.SealRecipient}
	}

	var identity *secret.Buffer
	if cfg.Provision.IdentityFile != "" {
		loaded, err := sealed.LoadIdentity(cfg.Provision.IdentityFile)
		if err != nil {
			return nil, err
		}
		identity = loaded
	}

	state, hasState, err := openStateStore(cfg.Paths.State, recipients, identity)
	if err != nil {
		closeBuffer(identity)
		return nil, err
	}

	provisioner, err := provision.New(provision.Config{
		Dir:            cfg.Paths.Homeserver,
		ContainerName:  cfg.Provision.ContainerName,
		Recipients:     recipients,
		Identity:       identity,
		DefaultPort:    cfg.Provision.Port,
		HealthInterval: cfg.Provision.HealthInterval,
		HealthTimeout:  cfg.Provision.HealthTimeout,
		Logger:         logger.With("component", "provision"),
	})
	if err != nil {
		closeBuffer(identity)
		return nil, err
	}

	return &Daemon{
		config:      cfg,
		logger:      logger,
		identity:    identity,
		state:       state,
		hasState:    hasState,
		provisioner: provisioner,
	}, nil
}

// Close releases the age identity.
func (d *Daemon) Close() {
	closeBuffer(d.identity)
}

func closeBuffer(buffer *secret.Buffer) {
	if buffer != nil {
		buffer.Close()
	}
}

// Run wires the components together and blocks until ctx is cancelled
// or a server fails.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.config

	session, err := d.openSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()
	d.logger.Info("brain session ready", "user_id", session.UserID())

	botUserID, err := ref.ParseUserID(cfg.AdminBotID())
	if err != nil {
		return fmt.Errorf("admin bot user ID: %w", err)
	}

	channel, err := adminroom.New(adminroom.Config{
		Session:      session,
		BotUserID:    botUserID,
		StoredRoomID: d.state.AdminRoomID(),
		OnDiscover: func(roomID ref.RoomID) {
			if err := d.state.SetAdminRoom(roomID); err != nil {
				d.logger.Warn("persisting admin room failed", "room_id", roomID, "error", err)
			}
		},
		Attempts: cfg.Brain.CommandAttempts,
		Interval: cfg.Brain.CommandInterval,
		Logger:   d.logger.With("component", "adminroom"),
	})
	if err != nil {
		return err
	}

	classifier, err := classify.New(classify.Config{
		Session:        session,
		Directory:      channel,
		SystemAccounts: []ref.UserID{botUserID, session.UserID()},
		Workers:        cfg.Brain.ClassifyWorkers,
		Logger:         d.logger.With("component", "classify"),
	})
	if err != nil {
		return err
	}

	engine, err := syncengine.New(syncengine.Config{
		Session:   session,
		BotUserID: botUserID,
		AdminRoom: channel.CachedRoomID,
		Timeout:   cfg.Brain.SyncTimeout,
		Logger:    d.logger.With("component", "sync"),
	})
	if err != nil {
		return err
	}

	hub := fanout.NewHub(cfg.Brain.SubscriberBuffer, d.logger.With("component", "fanout"))
	hub.Bridge(engine)

	messageRouter, err := router.New(router.Config{
		Session: session,
		Kinds:   classifier,
		Logger:  d.logger.With("component", "router"),
	})
	if err != nil {
		return err
	}
	defer messageRouter.Close()
	hub.OnEvent(messageRouter.HandleEvent)

	control, err := brain.New(brain.Config{
		Session:     session,
		Admin:       channel,
		Scanner:     classifier,
		Invitations: engine,
		Hub:         hub,
		Rooms:       messageRouter,
		Provisioner: &imageDefaulter{Provisioner: d.provisioner, image: cfg.Provision.Image},
		Logger:      d.logger.With("component", "brain"),
	})
	if err != nil {
		return err
	}

	// Rooms the scan misses are classified on first message.
	if snapshot, err := classifier.Classify(ctx); err != nil {
		d.logger.Warn("initial scan failed", "error", err)
	} else {
		messageRouter.Seed(snapshot)
		d.logger.Info("initial scan complete",
			"accounts", len(snapshot.Accounts),
			"rooms", len(snapshot.Rooms),
			"gaps", len(snapshot.Gaps),
		)
	}

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.API.Listen,
		Handler: api.NewHandler(api.HandlerConfig{
			Control: control,
			Logger:  d.logger.With("component", "api"),
		}),
		ShutdownTimeout: cfg.API.ShutdownTimeout,
		Logger:          d.logger,
	})
	socketServer := service.NewSocketServer(cfg.Paths.Socket, d.logger)
	api.RegisterActions(socketServer, control)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return engine.Run(groupCtx) })
	group.Go(func() error { return httpServer.Serve(groupCtx) })
	group.Go(func() error { return socketServer.Serve(groupCtx) })

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info("switchboard daemon stopped")
	return nil
}

// openSession returns the brain session stored in state.yaml, or
// registers the brain account when there is none.
func (d *Daemon) openSession(ctx context.Context) (*messaging.DirectSession, error) {
	if !d.hasState {
		return d.register(ctx)
	}

	homeserverURL := d.state.HomeserverURL(d.config.Homeserver.URL)
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        d.logger,
	})
	if err != nil {
		return nil, err
	}
	userID, err := d.state.UserID()
	if err != nil {
		return nil, fmt.Errorf("state user_id: %w", err)
	}
	token, err := d.state.AccessToken()
	if err != nil {
		return nil, err
	}
	defer token.Close()

	session, err := client.SessionFromToken(userID, token.String())
	if err != nil {
		return nil, err
	}
	whoami, err := session.WhoAmI(ctx)
	if err != nil {
		session.Close()
		return nil, fmt.Errorf("validating brain session: %w", err)
	}
	if whoami != userID {
		session.Close()
		return nil, fmt.Errorf("access token in %s belongs to %s, not %s", d.config.Paths.State, whoami, userID)
	}
	return session, nil
}

// register starts the provisioned homeserver if needed, registers the
// brain account with the stored registration token, and persists the
// new session.
func (d *Daemon) register(ctx context.Context) (*messaging.DirectSession, error) {
	status, err := d.provisioner.Status(ctx)
	if err != nil {
		return nil, err
	}
	if status.Phase == provision.PhaseUnconfigured {
		return nil, fmt.Errorf("no brain session in %s and no provisioned homeserver; "+
			"run 'switchboard provision configure --local' and 'switchboard provision start --local' first",
			d.config.Paths.State)
	}
	if status.Phase != provision.PhaseHealthy {
		d.logger.Info("starting provisioned homeserver", "phase", status.Phase)
		if err := d.provisioner.Start(ctx); err != nil {
			return nil, err
		}
	}

	registrationToken, err := d.provisioner.RegistrationToken()
	if err != nil {
		return nil, err
	}
	defer registrationToken.Close()

	password, err := generatePassword()
	if err != nil {
		return nil, err
	}
	defer password.Close()

	homeserverURL := d.config.Homeserver.URL
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: homeserverURL,
		Logger:        d.logger,
	})
	if err != nil {
		return nil, err
	}
	session, err := client.Register(ctx, messaging.RegisterRequest{
		Username:          d.config.Brain.Localpart,
		Password:          password,
		RegistrationToken: registrationToken,
	})
	if err != nil {
		return nil, fmt.Errorf("registering brain account %q: %w", d.config.Brain.Localpart, err)
	}

	if err := d.state.SaveSession(homeserverURL, session.UserID(), session.AccessToken()); err != nil {
		session.Close()
		return nil, err
	}
	d.hasState = true
	d.logger.Info("registered brain account", "user_id", session.UserID())
	return session, nil
}

func generatePassword() (*secret.Buffer, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("generating password: %w", err)
	}
	encoded := make([]byte, hex.EncodedLen(len(raw)))
	hex.Encode(encoded, raw)
	secret.Zero(raw)
	return secret.NewFromBytes(encoded)
}

// imageDefaulter fills in the configured image for configure requests
// that name none.
type imageDefaulter struct {
	*provision.Provisioner
	image string
}

func (p *imageDefaulter) Configure(ctx context.Context, params provision.Params, options provision.ConfigureOptions) (*provision.ConfigureResult, error) {
	if params.Image == "" {
		params.Image = p.image
	}
	return p.Provisioner.Configure(ctx, params, options)
}
