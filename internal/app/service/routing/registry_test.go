package routing

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jordancrombie/nsim/pkg/config"
)

func testConfig(issuers ...*config.IssuerProviderConfig) *config.Config {
	cfg := &config.Config{Issuers: issuers}
	cfg.Payment.DefaultIssuerID = "default"
	cfg.Issuer.MaxRetries = 1
	cfg.Issuer.RetryBaseDelayMS = 1
	return cfg
}

func TestRegistry_LookupAndDefault(t *testing.T) {
	cfg := testConfig(
		&config.IssuerProviderConfig{ID: "default", Name: "Default Bank", BaseURL: "http://default.test"},
		&config.IssuerProviderConfig{ID: "newbank", Name: "New Bank", BaseURL: "http://newbank.test"},
	)
	reg := NewRegistry(cfg, zap.NewNop().Sugar())

	g, ok := reg.Lookup("newbank")
	require.True(t, ok)
	require.Equal(t, "newbank", g.InstanceID())

	require.NotNil(t, reg.Default())
	require.Equal(t, "default", reg.Default().InstanceID())
	require.Len(t, reg.All(), 2)
}

func TestGatewayForToken_ExplicitInstance(t *testing.T) {
	cfg := testConfig(
		&config.IssuerProviderConfig{ID: "default", BaseURL: "http://default.test"},
		&config.IssuerProviderConfig{ID: "newbank", BaseURL: "http://newbank.test"},
	)
	reg := NewRegistry(cfg, zap.NewNop().Sugar())

	g, route := reg.GatewayForToken(NewRouter(), "wsim_newbank_abc123")
	require.Equal(t, "newbank", g.InstanceID())
	require.True(t, route.WalletOriginated)
}

func TestGatewayForToken_UnknownInstanceFallsBackToDefault(t *testing.T) {
	cfg := testConfig(
		&config.IssuerProviderConfig{ID: "default", BaseURL: "http://default.test"},
	)
	reg := NewRegistry(cfg, zap.NewNop().Sugar())

	g, _ := reg.GatewayForToken(NewRouter(), "wsim_ghostbank_abc")
	require.Equal(t, "default", g.InstanceID())
}

func TestGatewayForToken_MissingDefaultReturnsBareClient(t *testing.T) {
	reg := NewRegistry(testConfig(), zap.NewNop().Sugar())

	g, _ := reg.GatewayForToken(NewRouter(), "ctok_xyz")
	require.NotNil(t, g)
	require.Equal(t, "default", g.InstanceID())
}

func TestGatewayForInstance_FallsBackToDefault(t *testing.T) {
	cfg := testConfig(
		&config.IssuerProviderConfig{ID: "default", BaseURL: "http://default.test"},
	)
	reg := NewRegistry(cfg, zap.NewNop().Sugar())

	g := reg.GatewayForInstance("gone")
	require.Equal(t, "default", g.InstanceID())
}
