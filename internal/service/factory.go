package service

import (
	"log/slog"

	"stratos.app/sendguard/core/config"
	"stratos.app/sendguard/internal/queue"
	"stratos.app/sendguard/internal/store"
)

type Services struct {
	stores   *store.Stores
	txRunner TxRunner
	verifier WebhookVerifier
	alerts   queue.Producer
	cfg      config.Config
	logger   *slog.Logger
}

func NewServices(stores *store.Stores, txRunner TxRunner, verifier WebhookVerifier, alerts queue.Producer, cfg config.Config, logger *slog.Logger) *Services {
	return &Services{
		stores:   stores,
		txRunner: txRunner,
		verifier: verifier,
		alerts:   alerts,
		cfg:      cfg,
		logger:   logger,
	}
}

func (s *Services) RateLimits() RateLimitService {
	return NewRateLimitService(s.stores.RateLimits(), s.stores.SendingDomains(), s.cfg.RateLimit, s.logger)
}

func (s *Services) ProviderHealth() ProviderHealthService {
	return NewProviderHealthService(s.stores.ProviderEvents(), s.stores.ProviderSnapshots(), s.alerts, s.cfg.Provider, s.logger)
}

func (s *Services) Deliverability() DeliverabilityService {
	return NewDeliverabilityService(
		s.verifier,
		s.txRunner,
		s.stores.DeliveryEvents(),
		s.stores.DomainHealth(),
		s.stores.Suppressions(),
		s.alerts,
		s.cfg.Delivery,
		s.logger,
	)
}
