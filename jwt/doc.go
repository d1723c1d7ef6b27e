// Package jwt reads expiry and identity claims from backend-issued bearer
// tokens so the credential store can cap its local validity window at the
// token's own exp claim. Tokens that are not JWTs are reported as opaque and
// left to the configured local TTL.
package jwt
