package api

import (
	"context"
	"time"

	"github.com/mindhaven/counseling-api/models"
)

// QueryTimeout is the default timeout for database queries
const QueryTimeout = 10 * time.Second

// WithQueryTimeout creates a context with query timeout
func WithQueryTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, QueryTimeout)
}

type contextKey string

const (
	principalContextKey   contextKey = "principal"
	chatSessionContextKey contextKey = "chatSession"
)

// WithPrincipal attaches the resolved caller identity to the context
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext returns the caller identity the access guard resolved
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(models.Principal)
	return p, ok
}

// WithChatSession attaches the resolved target session to the context
func WithChatSession(ctx context.Context, s *models.ChatSession) context.Context {
	return context.WithValue(ctx, chatSessionContextKey, s)
}

// ChatSessionFromContext returns the session the access guard resolved
// and bound for this request, if the route targeted one
func ChatSessionFromContext(ctx context.Context) (*models.ChatSession, bool) {
	s, ok := ctx.Value(chatSessionContextKey).(*models.ChatSession)
	return s, ok
}
