package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"jobalert/internal/account"
	"jobalert/internal/config"
	"jobalert/internal/notify"
	"jobalert/internal/source"
	"jobalert/internal/storage"
)

// app holds the dependencies shared by all commands. Anything left nil is
// built from the environment on first use.
type app struct {
	cfg      *config.Config
	log      *slog.Logger
	store    storage.Storage
	notifier notify.Notifier
	source   source.JobSource
	now      func() time.Time

	closers []func() error
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "jobalertctl",
		Short:         "Administer job alert users and alerts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.AddCommand(newUserCmd(a), newAlertCmd(a), newMailCmd(a))
	return root
}

func (a *app) setup(ctx context.Context) error {
	if a.now == nil {
		a.now = time.Now
	}
	if a.cfg == nil {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		a.cfg = cfg
	}
	if a.log == nil {
		a.log = config.NewLogger(a.cfg.LogLevel, os.Stderr)
	}
	if a.store == nil {
		store, err := storage.Open(ctx, a.cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}

func (a *app) accounts() *account.Service {
	return account.NewService(a.store, a.cfg.ResetTokenTTL)
}

func (a *app) mailer() (notify.Notifier, error) {
	if a.notifier != nil {
		return a.notifier, nil
	}
	if err := a.cfg.RequireMail(); err != nil {
		return nil, err
	}
	n, err := notify.NewEmail(notify.EmailConfig{
		Host:     a.cfg.SMTPHost,
		Port:     a.cfg.SMTPPort,
		Username: a.cfg.EmailUser,
		Password: a.cfg.EmailPassword,
		From:     a.cfg.EmailFrom,
	})
	if err != nil {
		return nil, err
	}
	a.notifier = n
	return n, nil
}

func (a *app) jobSource() (source.JobSource, error) {
	if a.source != nil {
		return a.source, nil
	}
	src, err := source.New(a.cfg, &http.Client{Timeout: a.cfg.FetchTimeout})
	if err != nil {
		return nil, err
	}
	a.source = src
	return src, nil
}
