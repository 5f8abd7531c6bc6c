package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shaj13/go-guardian/auth"
	"github.com/shaj13/go-guardian/auth/strategies/basic"
	"github.com/shaj13/go-guardian/auth/strategies/bearer"
	"github.com/shaj13/go-guardian/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mindhaven/counseling-api/config"
	"github.com/mindhaven/counseling-api/databases"
	"github.com/mindhaven/counseling-api/models"
)

// AnonymousIDHeader carries the anonymous party's client-held identifier.
// It is the sole credential for the anonymous path and is never verified
// beyond exact comparison against the session it claims.
const AnonymousIDHeader = "X-Anonymous-Id"

// MiddlewareDB is a struct that holds the database handles the access
// guard needs: users for counselor identity, chat sessions for anonymous
// binding.
type MiddlewareDB struct {
	UDB       databases.UserDatabase
	SDB       databases.ChatSessionDatabase
	JWTSecret string
}

var authenticator auth.Authenticator
var cache store.Cache

// SetupGoGuardian sets up the go-guardian middleware
func (m MiddlewareDB) SetupGoGuardian() {
	authenticator = auth.New()
	cache = store.NewFIFO(context.Background(), time.Hour*24)
	basicStrategy := basic.New(m.ValidateUser, cache)
	tokenStrategy := bearer.New(bearer.NoOpAuthenticate, cache)

	authenticator.EnableStrategy(basic.StrategyKey, basicStrategy)
	authenticator.EnableStrategy(bearer.CachedStrategyKey, tokenStrategy)
}

// ValidateUser validates a counselor's email and password against the
// user collection
func (m MiddlewareDB) ValidateUser(ctx context.Context, r *http.Request, email, password string) (auth.Info, error) {
	user, err := m.UDB.FindOne(ctx, bson.M{"user.email": email})
	if err != nil {
		return nil, fmt.Errorf("no matching email found")
	}
	if user.Details.Role != models.RoleCounselor && user.Details.Role != models.RoleAdmin {
		return nil, fmt.Errorf("account is not a counselor")
	}
	err = bcrypt.CompareHashAndPassword([]byte(user.Details.Password), []byte(password))
	if err != nil {
		return nil, fmt.Errorf("failed to compare password")
	}
	return auth.NewDefaultUser(email, user.ID, nil, nil), nil
}

// CreateToken returns a cached bearer token for a counselor
func (m MiddlewareDB) CreateToken(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	email, _, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "basic auth failed", http.StatusUnauthorized)
		return
	}

	user, err := m.UDB.FindOne(r.Context(), bson.M{"user.email": email})
	if err != nil {
		http.Error(w, "failed to get user by email", http.StatusUnauthorized)
		return
	}

	token := uuid.New().String()
	authUser := auth.NewDefaultUser(email, user.ID, nil, nil)
	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Append(tokenStrategy, token, authUser, r)

	response := map[string]string{
		"token": token,
		"_id":   user.ID,
		"role":  user.Details.Role,
	}

	responseBody, err := json.Marshal(response)
	if err != nil {
		http.Error(w, "failed to marshal response", http.StatusInternalServerError)
		return
	}

	w.Write(responseBody)
}

// RevokeToken revokes a token
func RevokeToken(w http.ResponseWriter, r *http.Request) {
	reqToken := r.Header.Get("Authorization")
	splitToken := strings.Split(reqToken, "Bearer ")
	if len(splitToken) != 2 {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	reqToken = splitToken[1]

	tokenStrategy := authenticator.Strategy(bearer.CachedStrategyKey)
	auth.Revoke(tokenStrategy, reqToken, r)
	body := fmt.Sprintf(`{"revoked token": "%s"}`, reqToken)
	w.Write([]byte(body))
}

// verifyBearer resolves a bearer credential to an authenticated
// principal: go-guardian cached counselor tokens first, HS256 admin
// tokens second.
func (m MiddlewareDB) verifyBearer(r *http.Request) (models.Principal, error) {
	user, err := authenticator.Authenticate(r)
	if err == nil {
		dbUser, lookupErr := m.lookupUser(r.Context(), user.ID())
		if lookupErr != nil {
			return models.Principal{}, lookupErr
		}
		kind := models.PrincipalCounselor
		if dbUser.Details.Role == models.RoleAdmin {
			kind = models.PrincipalAdmin
		}
		return models.Principal{Kind: kind, UserID: dbUser.ID}, nil
	}

	reqToken := r.Header.Get("Authorization")
	splitToken := strings.Split(reqToken, "Bearer ")
	if len(splitToken) != 2 {
		return models.Principal{}, models.NewAuthenticationError("invalid credential", err)
	}

	claims := jwt.MapClaims{}
	_, jwtErr := jwt.ParseWithClaims(splitToken[1], claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(m.JWTSecret), nil
	})
	if jwtErr != nil {
		return models.Principal{}, models.NewAuthenticationError("invalid credential", jwtErr)
	}
	if scope, _ := claims["scope"].(string); scope != "admin" {
		return models.Principal{}, models.NewAuthenticationError("invalid credential", fmt.Errorf("token scope is not admin"))
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return models.Principal{}, models.NewAuthenticationError("invalid credential", fmt.Errorf("token has no subject"))
	}
	return models.Principal{Kind: models.PrincipalAdmin, UserID: sub}, nil
}

// VerifySocket authenticates an optional bearer credential at the
// websocket handshake. Browser websocket clients cannot set headers, so
// a token query parameter is accepted as an alias for the bearer header.
func (m MiddlewareDB) VerifySocket(r *http.Request) (models.Principal, error) {
	if r.Header.Get("Authorization") == "" {
		if token := r.URL.Query().Get("token"); token != "" {
			r.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return m.verifyBearer(r)
}

func (m MiddlewareDB) lookupUser(ctx context.Context, id string) (*models.User, error) {
	var user *models.User
	err := databases.Retry(ctx, databases.RetryConfig{}, "user lookup", func(ctx context.Context) error {
		var opErr error
		user, opErr = m.UDB.FindOne(ctx, bson.M{"_id": id})
		return opErr
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NewAuthenticationError("unknown user", err)
		}
		if _, ok := models.AsAppError(err); ok {
			return nil, err
		}
		return nil, models.NewStorageUnavailableError("failed to resolve user", err)
	}
	return user, nil
}

// Middleware requires an authenticated counselor or admin and attaches
// the resolved principal to the request context
func (m MiddlewareDB) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		principal, err := m.verifyBearer(r)
		if err != nil {
			zap.S().Errorw("unauthorized",
				"url", r.URL)
			config.AppErrorStatus(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// ChatMiddleware classifies the caller as authenticated counselor/admin
// or anonymous party and, when the route targets a session, resolves and
// binds it. The resolved session rides on the request context so
// handlers never look it up twice.
func (m MiddlewareDB) ChatMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		var principal models.Principal
		if r.Header.Get("Authorization") != "" {
			p, err := m.verifyBearer(r)
			if err != nil {
				config.AppErrorStatus(w, err)
				return
			}
			principal = p
		} else {
			anonID := r.Header.Get(AnonymousIDHeader)
			if anonID == "" {
				anonID = r.URL.Query().Get("anonymousId")
			}
			if anonID == "" {
				config.AppErrorStatus(w, models.NewAuthenticationError("missing credential", fmt.Errorf("no bearer token and no anonymous identifier")))
				return
			}
			principal = models.Principal{Kind: models.PrincipalAnonymous, AnonymousID: anonID}
		}

		ctx := WithPrincipal(r.Context(), principal)

		if sessionID := mux.Vars(r)["session_id"]; sessionID != "" {
			qctx, cancel := WithQueryTimeout(ctx)
			session, err := m.resolveSession(qctx, sessionID, principal)
			cancel()
			if err != nil {
				config.AppErrorStatus(w, err)
				return
			}
			ctx = WithChatSession(ctx, session)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolveSession loads the target session and enforces the anonymous
// binding. Storage trouble is surfaced as service-unavailable, never
// silently downgraded to not-found.
func (m MiddlewareDB) resolveSession(ctx context.Context, sessionID string, principal models.Principal) (*models.ChatSession, error) {
	sID, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return nil, models.NewValidationError("invalid session id", err)
	}

	var session *models.ChatSession
	err = databases.Retry(ctx, databases.RetryConfig{}, "session lookup", func(ctx context.Context) error {
		var opErr error
		session, opErr = m.SDB.FindOne(ctx, bson.M{"_id": sID})
		return opErr
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NewNotFoundError("session not found", err)
		}
		if _, ok := models.AsAppError(err); ok {
			return nil, err
		}
		return nil, models.NewStorageUnavailableError("failed to resolve session", err)
	}

	switch principal.Kind {
	case models.PrincipalAnonymous:
		if session.Details.AnonymousID != principal.AnonymousID {
			return nil, models.NewForbiddenError("not authorized for this session", fmt.Errorf("anonymous identifier mismatch"))
		}
	case models.PrincipalCounselor, models.PrincipalAdmin:
		// counselor binding is operation specific, enforced by the handler
	default:
		return nil, models.NewForbiddenError("not authorized for this session", fmt.Errorf("unknown principal kind %d", principal.Kind))
	}

	return session, nil
}
