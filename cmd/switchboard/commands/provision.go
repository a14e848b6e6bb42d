// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/switchboard/api"
	"github.com/bureau-foundation/switchboard/cmd/switchboard/cli"
	"github.com/bureau-foundation/switchboard/lib/config"
	"github.com/bureau-foundation/switchboard/lib/sealed"
	"github.com/bureau-foundation/switchboard/lib/secret"
	"github.com/bureau-foundation/switchboard/provision"
)

func provisionCommand() *cli.Command {
	return &cli.Command{
		Name:    "provision",
		Summary: "Provision and run the homeserver container",
		Description: "Provision and run the homeserver container.\n\n" +
			"Stages run through the daemon by default. With --local they run in this\n" +
			"process against the configuration named by --config or SWITCHBOARD_CONFIG,\n" +
			"which is how the homeserver is brought up before the daemon's first start.",
		Subcommands: []*cli.Command{
			provisionPreflightCommand(),
			provisionConfigureCommand(),
			provisionStageCommand("pull", "Pull the homeserver image", api.ActionProvisionPull,
				func(ctx context.Context, p *provision.Provisioner) error { return p.Pull(ctx) }),
			provisionStageCommand("start", "Start the container and wait until it is healthy", api.ActionProvisionStart,
				func(ctx context.Context, p *provision.Provisioner) error { return p.Start(ctx) }),
			provisionVerifyCommand(),
			provisionStatusCommand(),
			provisionLogsCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Bring up a fresh homeserver before starting the daemon",
				Command: "switchboard provision configure --local --server-name chat.example.org\n" +
					"  switchboard provision pull --local\n" +
					"  switchboard provision start --local",
			},
		},
	}
}

// provisionTarget selects the daemon or an in-process provisioner.
type provisionTarget struct {
	conn       connection
	local      bool
	configPath string
}

func (t *provisionTarget) addFlags(flagSet *pflag.FlagSet) {
	t.conn.addFlags(flagSet)
	flagSet.BoolVar(&t.local, "local", false, "run in this process instead of through the daemon")
	flagSet.StringVar(&t.configPath, "config", "", "configuration for --local (default $SWITCHBOARD_CONFIG)")
}

// withLocal builds a provisioner from the configuration and runs fn
// with a context cancelled on interrupt.
func (t *provisionTarget) withLocal(fn func(ctx context.Context, p *provision.Provisioner, cfg *config.Config) error) error {
	cfg, err := loadLocalConfig(t.configPath)
	if err != nil {
		return err
	}
	provisioner, identity, err := newLocalProvisioner(cfg)
	if err != nil {
		return err
	}
	if identity != nil {
		defer identity.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return fn(ctx, provisioner, cfg)
}

func loadLocalConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLocalProvisioner mirrors the daemon's provisioner construction.
// The returned identity, when non-nil, is closed by the caller.
func newLocalProvisioner(cfg *config.Config) (*provision.Provisioner, *secret.Buffer, error) {
	var recipients []string
	if cfg.Provision.SealRecipient != "" {
		if err := sealed.ParsePublicKey(cfg.Provision.SealRecipient); err != nil {
			return nil, nil, fmt.Errorf("provision.seal_recipient: %w", err)
		}
		recipients = []string{cfg.Provision.SealRecipient}
	}
	var identity *secret.Buffer
	if cfg.Provision.IdentityFile != "" {
		loaded, err := sealed.LoadIdentity(cfg.Provision.IdentityFile)
		if err != nil {
			return nil, nil, err
		}
		identity = loaded
	}
	provisioner, err := provision.New(provision.Config{
		Dir:            cfg.Paths.Homeserver,
		ContainerName:  cfg.Provision.ContainerName,
		Recipients:     recipients,
		Identity:       identity,
		DefaultPort:    cfg.Provision.Port,
		HealthInterval: cfg.Provision.HealthInterval,
		HealthTimeout:  cfg.Provision.HealthTimeout,
		Logger:         cli.NewCommandLogger().With("command", "provision"),
	})
	if err != nil {
		if identity != nil {
			identity.Close()
		}
		return nil, nil, err
	}
	return provisioner, identity, nil
}

func provisionPreflightCommand() *cli.Command {
	var (
		target provisionTarget
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "preflight",
		Summary: "Check docker, the listen port, and the data directory",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("preflight", pflag.ContinueOnError)
			target.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var result provision.PreflightResult
			var err error
			if target.local {
				err = target.withLocal(func(ctx context.Context, p *provision.Provisioner, _ *config.Config) error {
					preflight, preflightErr := p.Preflight(ctx)
					if preflight != nil {
						result = *preflight
					}
					return preflightErr
				})
			} else {
				err = target.conn.call(api.ActionProvisionPreflight, nil, &result)
			}
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(result); done {
				return err
			}
			if result.Existing {
				fmt.Fprintln(cli.Stdout, "homeserver container already running")
				return nil
			}
			fmt.Fprintf(cli.Stdout, "docker:        %s\n", result.DockerVersion)
			fmt.Fprintf(cli.Stdout, "port %-5d     %s\n", result.Port, okText(result.PortFree, "free", "in use"))
			fmt.Fprintf(cli.Stdout, "data dir:      %s\n", okText(result.DataWritable, "writable", "not writable"))
			return nil
		},
	}
}

func okText(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func provisionConfigureCommand() *cli.Command {
	var (
		target          provisionTarget
		output          cli.JSONOutput
		serverName      string
		port            int
		image           string
		allowFederation bool
		confirm         bool
	)
	return &cli.Command{
		Name:    "configure",
		Summary: "Write compose.yaml and the provisioning state",
		Description: "Write compose.yaml and the provisioning state. Re-running with the same\n" +
			"server name keeps the registration token and data. Changing the server\n" +
			"name wipes the homeserver data and requires --confirm.",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("configure", pflag.ContinueOnError)
			target.addFlags(flagSet)
			output.AddFlag(flagSet)
			flagSet.StringVar(&serverName, "server-name", "", "homeserver name (required)")
			flagSet.IntVar(&port, "port", provision.DefaultPort, "loopback port the homeserver listens on")
			flagSet.StringVar(&image, "image", "", "container image (default from config)")
			flagSet.BoolVar(&allowFederation, "allow-federation", false, "allow federation with other servers")
			flagSet.BoolVar(&confirm, "confirm", false, "accept wiping data when the server name changes")
			return flagSet
		},
		Run: func(args []string) error {
			if serverName == "" {
				return fmt.Errorf("--server-name is required")
			}
			params := provision.Params{
				ServerName:      serverName,
				Port:            port,
				Image:           image,
				AllowFederation: allowFederation,
			}

			var result provision.ConfigureResult
			var err error
			if target.local {
				err = target.withLocal(func(ctx context.Context, p *provision.Provisioner, cfg *config.Config) error {
					if params.Image == "" {
						params.Image = cfg.Provision.Image
					}
					configured, configureErr := p.Configure(ctx, params, provision.ConfigureOptions{Confirm: confirm})
					if configured != nil {
						result = *configured
					}
					return configureErr
				})
			} else {
				fields := map[string]any{
					"server_name":      serverName,
					"port":             port,
					"allow_federation": allowFederation,
					"confirm":          confirm,
				}
				if image != "" {
					fields["image"] = image
				}
				err = target.conn.call(api.ActionProvisionConfigure, fields, &result)
			}
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(result); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "configured %s (identity %s)\n", serverName, shortFingerprint(result.Fingerprint))
			if result.Reset {
				fmt.Fprintln(cli.Stdout, "previous homeserver data was removed")
			}
			if result.TokenGenerated {
				fmt.Fprintln(cli.Stdout, "generated a new registration token")
			}
			return nil
		},
	}
}

func shortFingerprint(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}

func provisionStageCommand(name, summary, action string, local func(context.Context, *provision.Provisioner) error) *cli.Command {
	var target provisionTarget
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
			target.addFlags(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var err error
			if target.local {
				err = target.withLocal(func(ctx context.Context, p *provision.Provisioner, _ *config.Config) error {
					return local(ctx, p)
				})
			} else {
				err = target.conn.call(action, nil, nil)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s complete\n", name)
			return nil
		},
	}
}

func provisionVerifyCommand() *cli.Command {
	var (
		target provisionTarget
		output cli.JSONOutput
		url    string
	)
	return &cli.Command{
		Name:    "verify",
		Summary: "Check that a homeserver answers the versions endpoint",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("verify", pflag.ContinueOnError)
			target.addFlags(flagSet)
			output.AddFlag(flagSet)
			flagSet.StringVar(&url, "url", "", "homeserver URL (default: the provisioned one)")
			return flagSet
		},
		Run: func(args []string) error {
			var result provision.VerifyResult
			var err error
			if target.local {
				err = target.withLocal(func(ctx context.Context, p *provision.Provisioner, _ *config.Config) error {
					verified, verifyErr := p.Verify(ctx, url)
					if verified != nil {
						result = *verified
					}
					return verifyErr
				})
			} else {
				fields := map[string]any{}
				if url != "" {
					fields["url"] = url
				}
				err = target.conn.call(api.ActionProvisionVerify, fields, &result)
			}
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(result); done {
				return err
			}
			fmt.Fprintf(cli.Stdout, "%s supports %s\n", result.URL, strings.Join(result.Versions, ", "))
			return nil
		},
	}
}

func provisionStatusCommand() *cli.Command {
	var (
		target provisionTarget
		output cli.JSONOutput
	)
	return &cli.Command{
		Name:    "status",
		Summary: "Show the provisioning phase and container state",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			target.addFlags(flagSet)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			var status provision.Status
			var err error
			if target.local {
				err = target.withLocal(func(ctx context.Context, p *provision.Provisioner, _ *config.Config) error {
					current, statusErr := p.Status(ctx)
					if current != nil {
						status = *current
					}
					return statusErr
				})
			} else {
				err = target.conn.call(api.ActionProvisionStatus, nil, &status)
			}
			if err != nil {
				return err
			}
			if done, err := output.EmitJSON(status); done {
				return err
			}
			writeProvisionStatus(status)
			return nil
		},
	}
}

func writeProvisionStatus(status provision.Status) {
	fmt.Fprintf(cli.Stdout, "phase:       %s\n", status.Phase)
	if status.ServerName != "" {
		fmt.Fprintf(cli.Stdout, "server name: %s\n", status.ServerName)
		fmt.Fprintf(cli.Stdout, "port:        %d\n", status.Port)
		fmt.Fprintf(cli.Stdout, "image:       %s\n", status.Image)
		fmt.Fprintf(cli.Stdout, "identity:    %s\n", shortFingerprint(status.Fingerprint))
	}
	running := okText(status.Running, "running", "stopped")
	if status.Health != "" {
		running += " (" + status.Health + ")"
	}
	fmt.Fprintf(cli.Stdout, "container:   %s\n", running)
	if status.LastError != "" {
		fmt.Fprintf(cli.Stdout, "last error:  %s\n", status.LastError)
	}
}

func provisionLogsCommand() *cli.Command {
	var (
		configPath string
		tail       int
	)
	return &cli.Command{
		Name:    "logs",
		Summary: "Print recent homeserver container output",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("logs", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default $SWITCHBOARD_CONFIG)")
			flagSet.IntVar(&tail, "tail", 100, "number of lines")
			return flagSet
		},
		Run: func(args []string) error {
			target := provisionTarget{local: true, configPath: configPath}
			return target.withLocal(func(ctx context.Context, p *provision.Provisioner, _ *config.Config) error {
				logs, err := p.Logs(ctx, tail)
				if err != nil {
					return err
				}
				fmt.Fprint(cli.Stdout, logs)
				return nil
			})
		},
	}
}
