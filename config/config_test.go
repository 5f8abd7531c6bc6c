package config

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mindhaven/counseling-api/models"
)

func TestNew(t *testing.T) {
	os.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	os.Setenv("DB_NAME", "test")
	conf := New()

	assert.NotEmpty(t, conf)
}

func TestErrorStatus(t *testing.T) {

	ErrorStatus("error it borked", http.StatusBadRequest, httptest.NewRecorder(), errors.New("bad request"))
	assert.True(t, true)
}

func TestSetLoggerSetsDevelopmentLogger(t *testing.T) {
	l, err := setLogger("development")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(1))
}

func TestSetLoggerSetsProductionLogger(t *testing.T) {
	l, err := setLogger("production")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(2))
}

func TestSetLoggerSetsLocalLogger(t *testing.T) {
	l, err := setLogger("local")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(0))
}

func TestAppErrorStatusMapsTypedErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	AppErrorStatus(rr, models.NewNotFoundError("session not found", errors.New("mongo: no documents in result")))

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, models.CodeNotFound, resp.Code)
	assert.Equal(t, "session not found", resp.Message)
}

func TestAppErrorStatusHidesDetailInProduction(t *testing.T) {
	os.Setenv("ENVIRONMENT", "production")
	defer os.Unsetenv("ENVIRONMENT")

	rr := httptest.NewRecorder()
	AppErrorStatus(rr, models.NewStorageUnavailableError("storage is down", errors.New("connection refused")))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var resp models.ErrorResponse
	assert.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Detail)
}

func TestAppErrorStatusFallsBackOnUntypedErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	AppErrorStatus(rr, errors.New("something broke"))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
