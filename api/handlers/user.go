package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindhaven/counseling-api/api"
	"github.com/mindhaven/counseling-api/config"
	"github.com/mindhaven/counseling-api/databases"
	"github.com/mindhaven/counseling-api/models"
)

// User exposes the counselor account operations owned by this API.
// Everything else about accounts lives in the identity service.
type User struct {
	DB databases.UserDatabase
}

type onlineStatusRequest struct {
	IsOnline bool `json:"isOnline"`
}

// SetOnlineStatusHandler flips the calling counselor's availability flag
func (u User) SetOnlineStatusHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := api.PrincipalFromContext(r.Context())
	if !ok || (principal.Kind != models.PrincipalCounselor && principal.Kind != models.PrincipalAdmin) {
		config.AppErrorStatus(w, models.NewForbiddenError("counselor credential required", nil))
		return
	}

	var requestBody onlineStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		config.ErrorStatus("failed to decode request body", http.StatusBadRequest, w, err)
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	err := databases.Retry(r.Context(), databases.RetryConfig{}, "set online status", func(ctx context.Context) error {
		_, opErr := u.DB.UpdateOne(ctx,
			bson.M{"_id": principal.UserID},
			bson.M{"$set": bson.M{
				"user.isOnline":  requestBody.IsOnline,
				"user.updatedAt": now,
			}},
		)
		return opErr
	})
	if err != nil {
		config.AppErrorStatus(w, storageError("failed to set online status", err))
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"isOnline": requestBody.IsOnline,
	})
}
