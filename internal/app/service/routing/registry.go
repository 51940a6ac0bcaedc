package routing

import (
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/jordancrombie/nsim/internal/app/service/issuer"
	"github.com/jordancrombie/nsim/pkg/config"
)

// Registry holds one gateway per configured issuer instance. Providers are
// loaded exactly once at startup; the registry performs no network I/O.
type Registry struct {
	gateways  map[string]*issuer.Gateway
	defaultID string
	log       *zap.SugaredLogger
}

func NewRegistry(cfg *config.Config, log *zap.SugaredLogger) *Registry {
	gateways := make(map[string]*issuer.Gateway, len(cfg.Issuers))
	for _, p := range cfg.Issuers {
		gateways[p.ID] = issuer.NewGateway(issuer.GatewayOptions{
			InstanceID: p.ID,
			BaseURL:    p.BaseURL,
			APIKey:     p.APIKey,
			MaxRetries: cfg.Issuer.MaxRetries,
			RetryBase:  cfg.IssuerRetryBaseDelay(),
			Timeout:    cfg.IssuerTimeout(),
		}, log)
		log.Infow("registered issuer instance", "issuer_id", p.ID, "name", p.Name, "base_url", p.BaseURL)
	}
	return &Registry{
		gateways:  gateways,
		defaultID: cfg.Payment.DefaultIssuerID,
		log:       log,
	}
}

// Lookup returns the gateway for an issuer instance id.
func (r *Registry) Lookup(id string) (*issuer.Gateway, bool) {
	g, ok := r.gateways[id]
	return g, ok
}

// Default returns the gateway for the configured default instance, or nil
// when none is registered under that id.
func (r *Registry) Default() *issuer.Gateway {
	return r.gateways[r.defaultID]
}

// DefaultID is the instance id that receives tokens with no routing hint.
func (r *Registry) DefaultID() string { return r.defaultID }

// All lists every registered gateway.
func (r *Registry) All() []*issuer.Gateway {
	return lo.Values(r.gateways)
}

// GatewayForInstance returns the gateway for a previously assigned issuer
// instance id, falling back to the default and then to a bare client the
// same way token resolution does.
func (r *Registry) GatewayForInstance(id string) *issuer.Gateway {
	if g, ok := r.gateways[id]; ok {
		return g
	}
	r.log.Warnw("issuer instance not registered for stored transaction",
		"issuer_id", id, "default_id", r.defaultID)
	if g, ok := r.gateways[r.defaultID]; ok {
		return g
	}
	return issuer.NewGateway(issuer.GatewayOptions{InstanceID: id}, r.log)
}

// GatewayForToken resolves a token to a gateway, falling back to the default
// instance when the resolved id is unknown. When even the default is
// missing, a bare unconfigured gateway is returned so authorize attempts
// remain possible during partial misconfiguration; the issuer will most
// likely reject them.
func (r *Registry) GatewayForToken(router *Router, token string) (*issuer.Gateway, Route) {
	route := router.Resolve(token)

	id := route.InstanceID
	if id == "" {
		id = r.defaultID
	}
	if g, ok := r.gateways[id]; ok {
		return g, route
	}
	if id != r.defaultID {
		r.log.Warnw("issuer instance not registered, falling back to default",
			"resolved_id", id, "default_id", r.defaultID)
		if g, ok := r.gateways[r.defaultID]; ok {
			return g, route
		}
	}
	r.log.Errorw("default issuer instance not registered, using bare fallback client",
		"default_id", r.defaultID)
	return issuer.NewGateway(issuer.GatewayOptions{InstanceID: r.defaultID}, r.log), route
}
