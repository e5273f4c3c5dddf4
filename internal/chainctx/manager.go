// Package chainctx keeps the wallet's active network aligned with the
// network a route executes on. Nothing is ever submitted while the wallet
// is on the wrong network.
package chainctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	swaperr "github.com/avelar/swapflow/internal/errors"
	"github.com/avelar/swapflow/internal/id"
	"github.com/avelar/swapflow/internal/retry"
	"github.com/avelar/swapflow/internal/wallet"
)

type Manager struct {
	provider wallet.Provider
	policy   retry.Policy
	log      zerolog.Logger

	changes chan id.Network
	done    chan struct{}
}

func NewManager(provider wallet.Provider, logger zerolog.Logger) *Manager {
	m := &Manager{
		provider: provider,
		policy: retry.Policy{
			MaxAttempts: 10,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
		log:     logger.With().Str("component", "chainctx").Logger(),
		changes: make(chan id.Network, 8),
		done:    make(chan struct{}),
	}
	go m.watch()
	return m
}

// Changes delivers one canonical signal per effective network change,
// regardless of which wallet event reported it.
func (m *Manager) Changes() <-chan id.Network { return m.changes }

func (m *Manager) Stop() { close(m.done) }

// watch collapses the provider's event stream: accountsChanged triggers a
// re-read of the active network, chainChanged passes through directly.
func (m *Manager) watch() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.provider.Events():
			if !ok {
				return
			}
			network := ev.Network
			if ev.Type == wallet.EventAccountsChanged {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				active, err := m.provider.ActiveNetwork(ctx)
				cancel()
				if err != nil {
					continue
				}
				network = active
			}
			m.log.Debug().Str("network", network.Slug).Str("event", string(ev.Type)).Msg("wallet network changed")
			select {
			case m.changes <- network:
			default:
			}
		}
	}
}

// EnsureNetwork makes the wallet active on required before returning. A
// mismatch requests a switch, then polls until the wallet reports the new
// network. A rejected switch is permanent; an exhausted poll budget is a
// timeout.
func (m *Manager) EnsureNetwork(ctx context.Context, required id.Network) error {
	active, err := m.provider.ActiveNetwork(ctx)
	if err == nil && active.Equal(required) {
		return nil
	}

	m.log.Info().Str("from", active.Slug).Str("to", required.Slug).Msg("requesting network switch")
	if err := m.provider.RequestNetworkSwitch(ctx, required); err != nil {
		if swaperr.HasCode(err, swaperr.CodeNetworkSwitchRejected) {
			return err
		}
		return swaperr.Wrap(swaperr.CodeNetworkSwitchRejected, "network switch request failed", err)
	}

	err = retry.Do(ctx, m.policy, func(ctx context.Context) error {
		active, err := m.provider.ActiveNetwork(ctx)
		if err != nil {
			return err
		}
		if !active.Equal(required) {
			return swaperr.New(swaperr.CodeUnavailable, "wallet still on "+active.Slug)
		}
		return nil
	})
	if err != nil {
		return swaperr.Wrap(swaperr.CodeNetworkSwitchTimeout, "wallet did not reach "+required.Slug, err)
	}
	return nil
}
