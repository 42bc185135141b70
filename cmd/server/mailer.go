package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/auth-service/internal/mailer"
	"github.com/iliyamo/auth-service/internal/queue"
)

func mailerCmd() *cobra.Command {
	var prefetch int
	cmd := &cobra.Command{
		Use:   "mailer",
		Short: "Consume OTP events and deliver them by email",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("mailer")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := &queue.Consumer{
				URL:      cfg.Broker.URL,
				Queue:    cfg.Broker.Queue,
				Prefetch: prefetch,
				Mailer:   &mailer.OTPMailer{Sender: mailer.NewSMTPSender(cfg.SMTP), Logger: log},
				Logger:   log,
			}
			log.Info("mailer started",
				zap.String("queue", cfg.Broker.Queue), zap.String("smtp_host", cfg.SMTP.Host), zap.Int("smtp_port", cfg.SMTP.Port))
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info("mailer stopped")
			return nil
		},
	}
	cmd.Flags().IntVar(&prefetch, "prefetch", 10, "unacknowledged messages held by the worker")
	return cmd
}
