package api

import (
	"context"
	"net/http"

	"github.com/go-chi/jwtauth"
	"github.com/google/uuid"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
)

type contextKey string

const actorKey contextKey = "assetstore.actor"

// ActorFromContext returns the actor attached by ActorCtx.
func ActorFromContext(ctx context.Context) (assetstore.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(assetstore.Actor)
	return actor, ok
}

// WithActor returns a copy of ctx carrying the actor. Exposed for tests.
func WithActor(ctx context.Context, actor assetstore.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorCtx resolves the caller identity and attaches it to the request
// context. With verified JWT claims present (jwtauth.Verifier upstream),
// the actor comes from the "sub" and "role" claims. Without a token the
// X-Actor-Id/X-Actor-Role headers are honored, which is only acceptable
// behind a trusted proxy or in development.
func ActorCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromJWT(r)
		if !ok {
			actor, ok = actorFromHeaders(r)
		}
		if !ok {
			http.Error(w, "missing caller identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

func actorFromJWT(r *http.Request) (assetstore.Actor, bool) {
	token, claims, err := jwtauth.FromContext(r.Context())
	if err != nil || token == nil {
		return assetstore.Actor{}, false
	}

	sub, _ := claims["sub"].(string)
	actorID, err := uuid.Parse(sub)
	if err != nil {
		return assetstore.Actor{}, false
	}
	role, _ := claims["role"].(string)
	return assetstore.Actor{ID: actorID, Role: role}, true
}

func actorFromHeaders(r *http.Request) (assetstore.Actor, bool) {
	actorID, err := uuid.Parse(r.Header.Get("X-Actor-Id"))
	if err != nil {
		return assetstore.Actor{}, false
	}
	return assetstore.Actor{ID: actorID, Role: r.Header.Get("X-Actor-Role")}, true
}

// RequireEditor rejects mutating calls from actors without the editor or
// admin role. The core service performs no authorization of its own, so
// the HTTP layer must gate writes before they reach it.
func RequireEditor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			http.Error(w, "missing caller identity", http.StatusUnauthorized)
			return
		}
		if actor.Role != assetstore.RoleEditor && actor.Role != assetstore.RoleAdmin {
			http.Error(w, "editor role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
