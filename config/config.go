package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/models"
)

// Config holds the project config values
type Config struct {
	URL              string
	DatabaseName     string
	BaseURL          string
	Port             string
	Environment      string
	JWTSecret        string
	SocketOrigin     string
	RedisURL         string
	SendgridAPIKey   string
	OncallAlertEmail string
	ContentKey       string
}

// New sets up all config related services
func New() *Config {
	environment := os.Getenv("ENVIRONMENT")

	//setup zap logger and replace default logger
	logger, err := setLogger(environment)
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:              os.Getenv("DB_URI"),
		DatabaseName:     os.Getenv("DB_NAME"),
		BaseURL:          os.Getenv("BASE_URL"),
		Port:             os.Getenv("PORT"),
		Environment:      environment,
		JWTSecret:        os.Getenv("JWT_SECRET"),
		SocketOrigin:     os.Getenv("SOCKET_ORIGIN"),
		RedisURL:         os.Getenv("REDIS_URL"),
		SendgridAPIKey:   os.Getenv("SENDGRID_API_KEY"),
		OncallAlertEmail: os.Getenv("ONCALL_ALERT_EMAIL"),
		ContentKey:       os.Getenv("CHAT_CONTENT_KEY"),
	}
}

func setLogger(environment string) (*zap.Logger, error) {
	switch environment {
	case "production":
		return zap.NewProduction()
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewExample(), nil
	}
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().With(err).Error(message)
	w.WriteHeader(httpStatusCode)
	b, _ := json.Marshal(models.ErrorMessageResponse{
		Response: models.MessageError{Message: message, Error: fmt.Sprintf("%v", err)},
	})
	w.Write(b)
}

// AppErrorStatus maps a typed application error onto the stable error
// response shape. Raw error detail is only exposed outside production.
func AppErrorStatus(w http.ResponseWriter, err error) {
	appErr, ok := models.AsAppError(err)
	if !ok {
		ErrorStatus("internal error", http.StatusInternalServerError, w, err)
		return
	}
	zap.S().With(appErr.Err).Errorw(appErr.Message, "code", appErr.Code)

	resp := models.ErrorResponse{
		Success: false,
		Message: appErr.Message,
		Code:    appErr.Code,
	}
	if os.Getenv("ENVIRONMENT") != "production" && appErr.Err != nil {
		resp.Detail = appErr.Err.Error()
	}
	w.WriteHeader(appErr.HTTPStatus())
	b, _ := json.Marshal(resp)
	w.Write(b)
}
