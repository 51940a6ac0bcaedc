package routing

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt"
)

// Token shapes, highest precedence first:
//  1. wsim_{issuerId}_{opaque}  — wallet token with an embedded routing hint
//  2. ctok_{opaque}             — consent token, always the default issuer
//  3. header.payload.signature  — JWT-shaped; the payload claims may carry an
//     issuer id. The signature is NOT verified here: the claim only picks a
//     routing target, the issuer re-validates the token itself.
//  4. anything else             — default issuer
var walletTokenPattern = regexp.MustCompile(`^wsim_([a-z0-9]+)_`)

const consentTokenPrefix = "ctok_"

// Route is the outcome of parsing a payment token.
type Route struct {
	// InstanceID is the issuer instance the token resolved to; empty means
	// no routing hint was found and the default applies.
	InstanceID string
	// WalletOriginated marks tokens produced by a wallet on the user's
	// behalf rather than a direct consent flow.
	WalletOriginated bool
}

// Router parses opaque payment tokens into routing decisions. It performs no
// I/O and holds no state.
type Router struct{}

func NewRouter() *Router {
	return &Router{}
}

// Resolve applies the token rules in precedence order; only the first
// matching rule is consulted.
func (r *Router) Resolve(token string) Route {
	if m := walletTokenPattern.FindStringSubmatch(token); m != nil {
		return Route{InstanceID: m[1], WalletOriginated: true}
	}
	if strings.HasPrefix(token, consentTokenPrefix) {
		return Route{}
	}
	if route, ok := r.resolveClaims(token); ok {
		return route
	}
	return Route{}
}

// resolveClaims decodes the middle segment of a three-part token as base64
// JSON. Only the claims segment matters for routing; the header and
// signature segments are not touched. Decode failures are swallowed: the
// token is simply unroutable by this rule.
func (r *Router) resolveClaims(token string) (Route, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Route{}, false
	}
	seg, err := jwt.DecodeSegment(parts[1])
	if err != nil {
		return Route{}, false
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(seg, &claims); err != nil {
		return Route{}, false
	}

	var route Route
	if v, ok := claims["issuerId"].(string); ok && v != "" {
		route.InstanceID = v
	} else if v, ok := claims["bsimId"].(string); ok && v != "" {
		route.InstanceID = v
	}
	if v, ok := claims["type"].(string); ok && v == "wallet_payment_token" {
		route.WalletOriginated = true
	}
	if route.InstanceID == "" && !route.WalletOriginated {
		return Route{}, false
	}
	return route, true
}
