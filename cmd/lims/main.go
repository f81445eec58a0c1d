package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atvirokodosprendimai/lims/internal/app"
	"github.com/atvirokodosprendimai/lims/internal/core/domain"
	"github.com/atvirokodosprendimai/lims/internal/core/usecase"
	"github.com/atvirokodosprendimai/lims/internal/logging"
	"github.com/atvirokodosprendimai/lims/internal/seed"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newCommand(os.Stdout).Run(context.Background(), os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "lims",
		Usage: "Laboratory aggregate store with audit trail",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Sources: cli.EnvVars("LIMS_CONFIG"),
				Usage:   "Optional TOML config file; flags override its values",
			},
			&cli.StringFlag{
				Name:    "driver",
				Value:   "sqlite",
				Sources: cli.EnvVars("LIMS_DRIVER"),
				Usage:   "Database driver: sqlite or postgres",
			},
			&cli.StringFlag{
				Name:    "dsn",
				Value:   "./lims.sqlite",
				Sources: cli.EnvVars("LIMS_DSN"),
				Usage:   "SQLite file path or Postgres connection string",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("LIMS_LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("LIMS_LOG_FORMAT"),
				Usage:   "text or json",
			},
			&cli.BoolFlag{
				Name:    "sql-log",
				Sources: cli.EnvVars("LIMS_SQL_LOG"),
				Usage:   "Log every SQL statement",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			migrateCommand(),
			seedCommand(stdout),
			auditCommand(stdout),
			apiKeyCommand(stdout),
		},
	}
}

// loadConfig merges the config file with the flags that were set
// explicitly.
func loadConfig(c *cli.Command) (app.Config, error) {
	cfg, err := app.LoadConfig(c.String("config"))
	if err != nil {
		return app.Config{}, err
	}
	str := func(name string, dst *string) {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	str("driver", &cfg.Driver)
	str("dsn", &cfg.DSN)
	str("log-level", &cfg.LogLevel)
	str("log-format", &cfg.LogFormat)
	str("addr", &cfg.Addr)
	str("bootstrap-api-key", &cfg.BootstrapAPIKey)
	str("bootstrap-key-name", &cfg.BootstrapKeyName)
	str("bootstrap-user-id", &cfg.BootstrapUserID)
	str("webhook-url", &cfg.WebhookURL)
	str("webhook-secret", &cfg.WebhookSecret)
	if c.IsSet("sql-log") {
		cfg.SQLLog = c.Bool("sql-log")
	}
	if c.IsSet("outbox") {
		cfg.Outbox = c.Bool("outbox")
	}
	return cfg, nil
}

func setup(c *cli.Command) (app.Config, *logrus.Logger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return app.Config{}, nil, err
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		return app.Config{}, nil, err
	}
	return cfg, log, nil
}

// withRuntime opens and migrates the database for a one-shot command.
func withRuntime(ctx context.Context, c *cli.Command, fn func(*app.Runtime) error) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	rt, err := app.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.WithError(err).Warn("close database")
		}
	}()
	if err := rt.Migrate(ctx); err != nil {
		return err
	}
	return fn(rt)
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and the outbox dispatcher",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("LIMS_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.StringFlag{
				Name:    "bootstrap-api-key",
				Sources: cli.EnvVars("LIMS_BOOTSTRAP_API_KEY"),
				Usage:   "Optional API key to upsert at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-key-name",
				Value:   "bootstrap",
				Sources: cli.EnvVars("LIMS_BOOTSTRAP_KEY_NAME"),
				Usage:   "Actor name recorded for writes made with the bootstrap key",
			},
			&cli.StringFlag{
				Name:    "bootstrap-user-id",
				Sources: cli.EnvVars("LIMS_BOOTSTRAP_USER_ID"),
				Usage:   "User id recorded for writes made with the bootstrap key",
			},
			&cli.BoolFlag{
				Name:    "outbox",
				Value:   true,
				Sources: cli.EnvVars("LIMS_OUTBOX"),
				Usage:   "Queue an event for every audit row and dispatch it",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("LIMS_WEBHOOK_URL"),
				Usage:   "Deliver audit events to this URL instead of the log",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("LIMS_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for webhook requests",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, log, err := setup(c)
			if err != nil {
				return err
			}

			server, closer, err := app.NewServer(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create server: %w", err)
			}
			defer func() {
				if closeErr := closer.Close(); closeErr != nil {
					log.WithError(closeErr).Warn("close resources")
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				log.WithField("addr", cfg.Addr).Info("listening")
				errCh <- server.ListenAndServe()
			}()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			shutdown := func() error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			}
			select {
			case <-ctx.Done():
				return shutdown()
			case sig := <-sigCh:
				log.WithField("signal", sig.String()).Info("shutting down")
				return shutdown()
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending schema migrations",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withRuntime(ctx, c, func(rt *app.Runtime) error {
				rt.Log.WithField("driver", rt.DB.Dialect).Info("schema up to date")
				return nil
			})
		},
	}
}

func seedCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Load reference data and preparation geometries from a YAML file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "file", Required: true, Usage: "YAML seed file"},
			&cli.StringFlag{Name: "actor", Value: "seed", Usage: "Actor name recorded in the audit log"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			f, err := seed.LoadFile(c.String("file"))
			if err != nil {
				return err
			}
			return withRuntime(ctx, c, func(rt *app.Runtime) error {
				actor := rt.Aggregates.Actor(c.String("actor"), uuid.Nil)
				summary, err := seed.Apply(ctx, rt.References, rt.Aggregates, actor, f)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(stdout, "nuclides=%d sample_types=%d sample_components=%d preparation_geometries=%d\n",
					summary.Nuclides, summary.SampleTypes, summary.SampleComponents, summary.Geometries)
				return err
			})
		},
	}
}

func auditCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Print the audit trail as JSON lines, optionally republishing it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Usage: "Entity kind, e.g. analysis"},
			&cli.StringFlag{Name: "id", Usage: "Entity id"},
			&cli.StringFlag{Name: "operation", Usage: "insert, update or delete"},
			&cli.IntFlag{Name: "after", Usage: "Start after this audit sequence number"},
			&cli.IntFlag{Name: "batch", Value: 500, Usage: "Rows read per page"},
			&cli.BoolFlag{Name: "publish", Usage: "Send every record to the configured event publisher"},
			&cli.StringFlag{Name: "webhook-url", Sources: cli.EnvVars("LIMS_WEBHOOK_URL")},
			&cli.StringFlag{Name: "webhook-secret", Sources: cli.EnvVars("LIMS_WEBHOOK_SECRET")},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			filter := domain.AuditFilter{
				EntityKind: domain.EntityKind(c.String("kind")),
				EntityID:   c.String("id"),
				Operation:  domain.AuditOperation(c.String("operation")),
				AfterSeq:   c.Int("after"),
				Limit:      int(c.Int("batch")),
			}
			return withRuntime(ctx, c, func(rt *app.Runtime) error {
				enc := json.NewEncoder(stdout)
				publisher := rt.Publisher()
				return usecase.ReplayAudit(ctx, rt.Audit, usecase.NewEventCodec(), filter, func(e usecase.ReplayEvent) error {
					if c.Bool("publish") {
						if err := publisher.Publish(ctx, "audit."+e.Envelope.EventType, e.Envelope); err != nil {
							return err
						}
					}
					return enc.Encode(e)
				})
			})
		},
	}
}

func apiKeyCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "apikey",
		Usage: "Issue an API key; the token is printed once",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Required: true, Usage: "Actor name recorded for writes made with the key"},
			&cli.StringFlag{Name: "user-id", Usage: "User id recorded for writes made with the key"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			userID := uuid.Nil
			if raw := c.String("user-id"); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return fmt.Errorf("user id: %w", err)
				}
				userID = parsed
			}
			return withRuntime(ctx, c, func(rt *app.Runtime) error {
				token, err := rt.Auth.IssueKey(ctx, c.String("name"), userID)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(stdout, token)
				return err
			})
		},
	}
}
