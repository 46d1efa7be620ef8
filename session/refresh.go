package session

import (
	"context"

	"github.com/jrsteele09/storefront-session/credential"
	"github.com/jrsteele09/storefront-session/storage"
	"github.com/rs/zerolog/log"
)

const refreshKey = "refresh"

// RefreshTokens returns refreshed tokens, or the current ones when refresh is
// not possible. Concurrent callers share a single in-flight refresh. A started
// refresh runs to completion even if the caller's ctx is cancelled; the caller
// just stops waiting. A failed refresh clears the session.
func (m *Manager) RefreshTokens(ctx context.Context) (credential.Tokens, error) {
	ch := m.refreshGroup.DoChan(refreshKey, func() (any, error) {
		return m.performRefresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return credential.Tokens{}, res.Err
		}
		return res.Val.(credential.Tokens), nil
	case <-ctx.Done():
		return credential.Tokens{}, ctx.Err()
	}
}

func (m *Manager) performRefresh(ctx context.Context) (credential.Tokens, error) {
	rec, rawTokens, ok, err := m.readRecord(ctx)
	if err != nil {
		m.metrics.refresh(ResultFailed)
		return credential.Tokens{}, err
	}
	if !ok {
		return credential.Tokens{}, ErrNoSession
	}
	if m.refresher == nil || rec.Tokens.RefreshToken == "" {
		m.metrics.refresh(ResultStub)
		return rec.Tokens, nil
	}

	tokens, err := m.refresher.Refresh(ctx, rec.Tokens.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("token refresh failed")
		m.metrics.refresh(ResultFailed)
		if clearErr := m.clear(ctx, ReasonRefreshFailed); clearErr != nil {
			log.Err(clearErr).Msg("failed to clear session after refresh failure")
		}
		return credential.Tokens{}, err
	}
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = rec.Tokens.RefreshToken
	}
	if m.deriveExpiry {
		tokens = tokens.WithDerivedExpiry()
	}

	// The swap only lands if the stored tokens are still the ones refreshed
	// from; a logout or new login while the call was out wins.
	swapped, err := storage.Swap(ctx, m.store, KeyTokens, rawTokens, tokens)
	if err != nil {
		m.metrics.refresh(ResultFailed)
		return credential.Tokens{}, err
	}
	if !swapped {
		log.Info().Msg("session changed during refresh, discarding refreshed tokens")
		m.metrics.refresh(ResultFailed)
		if current, ok := m.CurrentTokens(ctx); ok {
			return current, nil
		}
		return credential.Tokens{}, ErrNoSession
	}
	m.metrics.refresh(ResultOK)
	m.notify()
	return tokens, nil
}
