package http

import (
	"github.com/deadlock-vault/internal/application/nominee"
	"github.com/deadlock-vault/internal/application/vault"
	"github.com/deadlock-vault/internal/transport/http/handler"
	appmiddleware "github.com/deadlock-vault/internal/transport/http/middleware"
)

// Deps holds the application services the router serves.
type Deps struct {
	Vaults   vault.Service
	Nominees nominee.Service
	Sweeper  handler.Sweeper
	// Verifier is nil when no JWT public key is configured; owner routes
	// then answer 401.
	Verifier appmiddleware.TokenVerifier
}
