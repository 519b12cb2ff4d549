package internal

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/pitabwire/frame/security"
)

// OwnerIDFromContext resolves the tenant owner for a request. Authenticated
// requests use the claim subject; unauthenticated requests fall back to the
// configured default owner when one is set.
func OwnerIDFromContext(ctx context.Context, defaultOwnerID string) (string, error) {
	authClaims := security.ClaimsFromContext(ctx)
	if authClaims == nil {
		if defaultOwnerID != "" {
			return defaultOwnerID, nil
		}
		return "", connect.NewError(
			connect.CodeUnauthenticated,
			errors.New("request needs to be authenticated"),
		)
	}

	ownerID, err := authClaims.GetSubject()
	if err != nil || ownerID == "" {
		if defaultOwnerID != "" {
			return defaultOwnerID, nil
		}
		return "", connect.NewError(
			connect.CodeUnauthenticated,
			errors.New("invalid authentication claims"),
		)
	}

	return ownerID, nil
}
