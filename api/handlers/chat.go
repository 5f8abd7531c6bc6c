package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/api"
	"github.com/mindhaven/counseling-api/config"
	"github.com/mindhaven/counseling-api/databases"
	"github.com/mindhaven/counseling-api/envelope"
	"github.com/mindhaven/counseling-api/models"
)

var validate = validator.New()

// Chat exposes the counseling chat session operations. The hub handle is
// injected at construction; persistence success never depends on it.
type Chat struct {
	DB    databases.ChatSessionDatabase
	Hub   *ChatHub
	Codec envelope.Codec
}

type createChatSessionRequest struct {
	Category    string `json:"category" validate:"required,oneof=academic personal social mental_health other"`
	Priority    string `json:"priority" validate:"omitempty,oneof=low medium high urgent"`
	IsEmergency bool   `json:"isEmergency"`
}

type appendChatMessageRequest struct {
	Content string `json:"content" validate:"required"`
}

type updateChatStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active resolved escalated"`
}

// activeStatuses filters listings down to conversations still in flight.
var activeStatuses = bson.M{"$in": []string{models.StatusUnassigned, models.StatusActive}}

// CreateChatSessionHandler opens a new unassigned session for the
// calling anonymous party
func (c Chat) CreateChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || principal.Kind != models.PrincipalAnonymous {
		config.AppErrorStatus(w, models.NewForbiddenError("only anonymous parties can open sessions", nil))
		return
	}

	var requestBody createChatSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if err := validate.Struct(requestBody); err != nil {
		config.AppErrorStatus(w, models.NewValidationError("invalid session payload", err))
		return
	}
	if requestBody.Priority == "" {
		requestBody.Priority = models.PriorityMedium
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	newSession := models.ChatSession{
		ID: primitive.NewObjectID(),
		Details: models.ChatSessionDetails{
			AnonymousID: principal.AnonymousID,
			Category:    requestBody.Category,
			Status:      models.StatusUnassigned,
			Priority:    requestBody.Priority,
			Messages:    []models.ChatMessage{},
			Metadata: models.ChatSessionMetadata{
				LastActivity:  now,
				TotalMessages: 0,
				IsEmergency:   requestBody.IsEmergency,
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}

	// the _id is fixed before the retry loop, so a retried insert that
	// already applied surfaces as a duplicate key and counts as success
	err := databases.Retry(r.Context(), databases.RetryConfig{}, "create session", func(ctx context.Context) error {
		_, opErr := c.DB.InsertOne(ctx, newSession)
		return opErr
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		config.AppErrorStatus(w, storageError("failed to create session", err))
		return
	}

	c.Hub.EmitNewChat(principal.AnonymousID, newSession.Summary())

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":   true,
		"sessionId": newSession.ID.Hex(),
		"session":   newSession.Summary(),
	})
}

// ChatSessionsMineHandler lists the caller's own in-flight sessions,
// messages elided, most recently active first
func (c Chat) ChatSessionsMineHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewAuthenticationError("missing credential", nil))
		return
	}

	var filter bson.M
	switch principal.Kind {
	case models.PrincipalAnonymous:
		filter = bson.M{
			"session.anonymousId": principal.AnonymousID,
			"session.status":      activeStatuses,
		}
	case models.PrincipalCounselor, models.PrincipalAdmin:
		filter = bson.M{
			"session.counselorId": principal.UserID,
			"session.status":      activeStatuses,
		}
	default:
		config.AppErrorStatus(w, models.NewForbiddenError("unknown principal", nil))
		return
	}

	c.listSessions(w, r, filter)
}

// ActiveChatSessionsHandler lists unassigned sessions plus the calling
// counselor's own active ones
func (c Chat) ActiveChatSessionsHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || (principal.Kind != models.PrincipalCounselor && principal.Kind != models.PrincipalAdmin) {
		config.AppErrorStatus(w, models.NewForbiddenError("counselor credential required", nil))
		return
	}

	filter := bson.M{
		"session.status": activeStatuses,
		"$or": []bson.M{
			{"session.counselorId": bson.M{"$in": []interface{}{nil, ""}}},
			{"session.counselorId": bson.M{"$exists": false}},
			{"session.counselorId": principal.UserID},
		},
	}

	c.listSessions(w, r, filter)
}

func (c Chat) listSessions(w http.ResponseWriter, r *http.Request, filter bson.M) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		zap.S().Debugf("limit not set, returning unpaginated list")
		limit = 0
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	opts := databases.PaginatedOpts(limit, page, "session.metadata.lastActivity")

	var sessions []models.ChatSession
	err = databases.Retry(r.Context(), databases.RetryConfig{}, "list sessions", func(ctx context.Context) error {
		var opErr error
		sessions, opErr = c.DB.Find(ctx, filter, opts)
		return opErr
	})
	if err != nil {
		config.AppErrorStatus(w, storageError("failed to list sessions", err))
		return
	}

	summaries := make([]models.ChatSessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}

	b, err := json.Marshal(summaries)
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// AssignCounselorHandler claims a session for the calling counselor.
// Claiming an already assigned session re-assigns it; that is deliberate
// permissive policy, not an error.
func (c Chat) AssignCounselorHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || principal.Kind != models.PrincipalCounselor {
		config.AppErrorStatus(w, models.NewForbiddenError("counselor credential required", nil))
		return
	}
	session, ok := api.ChatSessionFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewNotFoundError("session not found", nil))
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	set := bson.M{
		"session.counselorId": principal.UserID,
		"session.updatedAt":   now,
	}
	if session.Details.Status == models.StatusUnassigned {
		set["session.status"] = models.StatusActive
	}

	var updated *models.ChatSession
	err := databases.Retry(r.Context(), databases.RetryConfig{}, "assign counselor", func(ctx context.Context) error {
		var opErr error
		updated, opErr = c.DB.FindOneAndUpdate(ctx,
			bson.M{"_id": session.ID},
			bson.M{"$set": set},
			mongoReturnAfter(),
		)
		return opErr
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.AppErrorStatus(w, models.NewNotFoundError("session not found", err))
			return
		}
		config.AppErrorStatus(w, storageError("failed to assign counselor", err))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"session": updated.Summary(),
	})
}

// AppendChatMessageHandler appends one message to the bound session. The
// transcript push, counter increment and activity timestamp ride in a
// single update document so they can never diverge.
func (c Chat) AppendChatMessageHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewAuthenticationError("missing credential", nil))
		return
	}
	session, ok := api.ChatSessionFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewNotFoundError("session not found", nil))
		return
	}

	var requestBody appendChatMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if err := validate.Struct(requestBody); err != nil {
		config.AppErrorStatus(w, models.NewValidationError("message content must not be empty", err))
		return
	}

	senderRole, err := principal.SenderRole()
	if err != nil {
		config.AppErrorStatus(w, models.NewForbiddenError("caller cannot author messages", err))
		return
	}
	if senderRole == models.SenderCounselor {
		if session.Details.CounselorID == "" {
			config.AppErrorStatus(w, models.NewForbiddenError("session has no assigned counselor", nil))
			return
		}
		if session.Details.CounselorID != principal.UserID {
			config.AppErrorStatus(w, models.NewForbiddenError("session is assigned to another counselor", nil))
			return
		}
	}

	sealed, err := c.Codec.Seal(requestBody.Content)
	if err != nil {
		config.ErrorStatus("failed to seal message content", http.StatusInternalServerError, w, err)
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	message := models.ChatMessage{
		ID:        primitive.NewObjectID(),
		Content:   sealed,
		Sender:    senderRole,
		SenderID:  principal.UserID,
		Timestamp: now,
	}

	// the message _id is generated once per logical append and excluded
	// by the filter, so a retried push cannot duplicate the message
	filter := bson.M{
		"_id":                  session.ID,
		"session.messages._id": bson.M{"$ne": message.ID},
	}
	update := bson.M{
		"$push": bson.M{"session.messages": message},
		"$inc":  bson.M{"session.metadata.totalMessages": 1},
		"$set": bson.M{
			"session.metadata.lastActivity": now,
			"session.updatedAt":             now,
		},
	}

	var result *mongo.UpdateResult
	err = databases.Retry(r.Context(), databases.RetryConfig{}, "append message", func(ctx context.Context) error {
		var opErr error
		result, opErr = c.DB.UpdateOne(ctx, filter, update)
		return opErr
	})
	if err != nil {
		config.AppErrorStatus(w, storageError("failed to append message", err))
		return
	}
	if result.MatchedCount == 0 {
		// either the session vanished or an earlier ambiguous attempt
		// already applied the push; only the first case is not-found
		confirmErr := databases.Retry(r.Context(), databases.RetryConfig{}, "confirm append", func(ctx context.Context) error {
			_, opErr := c.DB.FindOne(ctx, bson.M{"_id": session.ID, "session.messages._id": message.ID})
			return opErr
		})
		if errors.Is(confirmErr, mongo.ErrNoDocuments) {
			config.AppErrorStatus(w, models.NewNotFoundError("session not found", confirmErr))
			return
		}
		if confirmErr != nil {
			config.AppErrorStatus(w, storageError("failed to append message", confirmErr))
			return
		}
	}

	broadcast := message
	broadcast.Content = requestBody.Content
	c.Hub.EmitNewMessage(session.ID.Hex(), broadcast)

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": broadcast,
	})
}

// ChatTranscriptHandler returns the full message list plus status.
// Scoped to the assigned counselor, admins, and the owning anonymous
// party, whose binding the access guard already proved.
func (c Chat) ChatTranscriptHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewAuthenticationError("missing credential", nil))
		return
	}
	session, ok := api.ChatSessionFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewNotFoundError("session not found", nil))
		return
	}

	switch principal.Kind {
	case models.PrincipalAdmin, models.PrincipalAnonymous:
		// admin reads everywhere; anonymous binding was enforced upstream
	case models.PrincipalCounselor:
		if session.Details.CounselorID != principal.UserID {
			config.AppErrorStatus(w, models.NewForbiddenError("session is assigned to another counselor", nil))
			return
		}
	default:
		config.AppErrorStatus(w, models.NewForbiddenError("unknown principal", nil))
		return
	}

	messages := make([]models.ChatMessage, 0, len(session.Details.Messages))
	for _, m := range session.Details.Messages {
		opened, err := c.Codec.Open(m.Content)
		if err != nil {
			zap.S().Warnw("failed to open message content", "sessionId", session.ID.Hex(), "messageId", m.ID.Hex(), "error", err)
			opened = m.Content
		}
		m.Content = opened
		messages = append(messages, m)
	}

	b, err := json.Marshal(map[string]interface{}{
		"success":  true,
		"status":   session.Details.Status,
		"messages": messages,
	})
	if err != nil {
		config.ErrorStatus("failed to marshal response", http.StatusInternalServerError, w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

// UpdateChatStatusHandler lets the assigned counselor (or an admin) move
// a session between active, resolved and escalated. Nothing moves a
// session back to unassigned.
func (c Chat) UpdateChatStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewAuthenticationError("missing credential", nil))
		return
	}
	session, ok := api.ChatSessionFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewNotFoundError("session not found", nil))
		return
	}

	switch principal.Kind {
	case models.PrincipalAdmin:
	case models.PrincipalCounselor:
		if session.Details.CounselorID != principal.UserID {
			config.AppErrorStatus(w, models.NewForbiddenError("session is assigned to another counselor", nil))
			return
		}
	default:
		config.AppErrorStatus(w, models.NewForbiddenError("counselor credential required", nil))
		return
	}

	var requestBody updateChatStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}
	if err := validate.Struct(requestBody); err != nil {
		config.AppErrorStatus(w, models.NewValidationError("invalid status", err))
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	var updated *models.ChatSession
	err := databases.Retry(r.Context(), databases.RetryConfig{}, "update status", func(ctx context.Context) error {
		var opErr error
		updated, opErr = c.DB.FindOneAndUpdate(ctx,
			bson.M{"_id": session.ID},
			bson.M{"$set": bson.M{
				"session.status":    requestBody.Status,
				"session.updatedAt": now,
			}},
			mongoReturnAfter(),
		)
		return opErr
	})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			config.AppErrorStatus(w, models.NewNotFoundError("session not found", err))
			return
		}
		config.AppErrorStatus(w, storageError("failed to update status", err))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"session": updated.Summary(),
	})
}

// DeleteChatSessionHandler hard-deletes a session and its transcript.
// Only the owning anonymous party may do this; closure is terminal.
func (c Chat) DeleteChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || principal.Kind != models.PrincipalAnonymous {
		config.AppErrorStatus(w, models.NewForbiddenError("only the session owner can delete it", nil))
		return
	}
	session, ok := api.ChatSessionFromContext(r.Context())
	if !ok {
		config.AppErrorStatus(w, models.NewNotFoundError("session not found", nil))
		return
	}

	err := databases.Retry(r.Context(), databases.RetryConfig{}, "delete session", func(ctx context.Context) error {
		_, opErr := c.DB.FindOneAndDelete(ctx, bson.M{
			"_id":                 session.ID,
			"session.anonymousId": principal.AnonymousID,
		})
		return opErr
	})
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		// a retried delete that already applied comes back as no
		// documents; the guard proved the session existed, so that
		// still counts as deleted
		config.AppErrorStatus(w, storageError("failed to delete session", err))
		return
	}

	c.Hub.EmitChatDeleted(session.ID.Hex(), session.Details.AnonymousID, session.Details.CounselorID)

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": "session deleted",
	})
}

// storageError keeps typed errors intact and wraps anything else as a
// domain-appropriate condition.
func storageError(msg string, err error) error {
	if appErr, ok := models.AsAppError(err); ok {
		return appErr
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.NewNotFoundError(msg, err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return models.NewConflictError(msg, err)
	}
	return models.NewStorageUnavailableError(msg, err)
}
