package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/observability"
	"github.com/honeynil/LeadMarketplace/internal/infrastructure/redis"
)

type agentIDKey struct{}

// AgentIDFromContext returns the authenticated agent set by AuthMiddleware.
func AgentIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(agentIDKey{}).(uuid.UUID)
	return id, ok
}

func WithAgentID(ctx context.Context, agentID uuid.UUID) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

// AuthMiddleware validates the bearer token and, when redisClient is set,
// requires it to match the agent's active token so revoked tokens are refused.
func AuthMiddleware(redisClient redis.RedisClient, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "authorization header missing", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr := parts[1]
			claims, err := ValidateJWT([]byte(jwtSecret), tokenStr)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			if redisClient != nil {
				storedToken, err := redisClient.Get(r.Context(), TokenKey(claims.AgentID))
				if err != nil || storedToken != tokenStr {
					observability.Logger(r.Context()).Warn("invalid or revoked token", "agent_id", claims.AgentID, "error", err)
					http.Error(w, "invalid or revoked token", http.StatusUnauthorized)
					return
				}
			}

			ctx := observability.WithContext(WithAgentID(r.Context(), claims.AgentID), "agent_id", claims.AgentID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
