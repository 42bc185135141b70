package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/auth-service/internal/service"
)

func cleanupCmd() *cobra.Command {
	var retention time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete refresh tokens and one-time codes that expired before the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := bootstrap("cleanup")
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if retention <= 0 {
				retention = cfg.Retention
			}

			st, err := openStores(cfg, log)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := service.New(service.Deps{
				Users:  st.users,
				Tokens: st.tokens,
				OTPs:   st.otps,
				Logger: log,
			}, service.OptionsFrom(cfg))

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			tokens, codes, err := svc.Cleanup(ctx, retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted refresh_tokens=%d otp_codes=%d\n", tokens, codes)
			return nil
		},
	}
	cmd.Flags().DurationVar(&retention, "retention", 0, "keep expired rows this long (default RETENTION)")
	return cmd
}
