package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Cleanup deletes refresh tokens and one-time codes that expired more than
// retention ago.
func (m *Manager) Cleanup(ctx context.Context, retention time.Duration) (tokens, codes int64, err error) {
	before := m.clock().Add(-retention)
	tokens, err = m.tokens.DeleteExpired(ctx, before)
	if err != nil {
		return 0, 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	codes, err = m.otps.DeleteExpired(ctx, before)
	if err != nil {
		return tokens, 0, fmt.Errorf("delete expired otp codes: %w", err)
	}
	m.log.Info("cleanup finished",
		zap.Time("before", before), zap.Int64("refresh_tokens", tokens), zap.Int64("otp_codes", codes))
	return tokens, codes, nil
}
