package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/api"
	"github.com/mindhaven/counseling-api/api/scheduler"
	"github.com/mindhaven/counseling-api/config"
	"github.com/mindhaven/counseling-api/databases"
	"github.com/mindhaven/counseling-api/envelope"
	"github.com/mindhaven/counseling-api/models"
)

// App stores the router and db connection, so it can be reused
type App struct {
	Router    *mux.Router
	Config    config.Config
	Hub       *ChatHub
	Metrics   *api.MetricsCollector
	Scheduler *scheduler.Scheduler
	dbHelper  databases.DatabaseHelper
	codec     envelope.Codec
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	// setup go-guardian for middleware
	m := api.MiddlewareDB{
		UDB:       databases.NewUserDatabase(a.dbHelper),
		SDB:       databases.NewChatSessionDatabase(a.dbHelper),
		JWTSecret: a.Config.JWTSecret,
	}
	m.SetupGoGuardian()

	r := mux.NewRouter()

	if a.Metrics == nil {
		a.Metrics = api.NewMetricsCollector()
	}
	if a.Hub == nil {
		a.Hub = NewChatHub(a.Config.SocketOrigin, m.VerifySocket)
	}
	if a.codec == nil {
		a.codec = envelope.Plain{}
	}

	chat := Chat{DB: databases.NewChatSessionDatabase(a.dbHelper), Hub: a.Hub, Codec: a.codec}
	u := User{DB: databases.NewUserDatabase(a.dbHelper)}
	metrics := Metrics{Collector: a.Metrics}

	// healthchex
	r.HandleFunc("/health", healthCheckHandler)

	r.HandleFunc("/ws/chat", a.Hub.HandleChatWebSocket)

	apiCreate := r.PathPrefix("/api/v1").Subrouter()

	// the websocket route stays outside these: a hijacked connection
	// must not race a timeout response writer
	apiCreate.Use(api.MetricsMiddleware(a.Metrics))
	apiCreate.Use(api.TimeoutMiddleware(30 * time.Second))

	apiCreate.Handle("/auth/token", m.Middleware(http.HandlerFunc(m.CreateToken))).Methods("POST")
	apiCreate.Handle("/auth/logout", m.Middleware(http.HandlerFunc(api.RevokeToken))).Methods("DELETE")

	apiCreate.Handle("/sessions", m.ChatMiddleware(http.HandlerFunc(chat.CreateChatSessionHandler))).Methods("POST")
	apiCreate.Handle("/sessions/mine", m.ChatMiddleware(http.HandlerFunc(chat.ChatSessionsMineHandler))).Methods("GET")
	apiCreate.Handle("/sessions/active", m.Middleware(http.HandlerFunc(chat.ActiveChatSessionsHandler))).Methods("GET")
	apiCreate.Handle("/sessions/{session_id}/assign", m.ChatMiddleware(http.HandlerFunc(chat.AssignCounselorHandler))).Methods("POST")
	apiCreate.Handle("/sessions/{session_id}/status", m.ChatMiddleware(http.HandlerFunc(chat.UpdateChatStatusHandler))).Methods("PUT")
	apiCreate.Handle("/sessions/{session_id}/messages", m.ChatMiddleware(http.HandlerFunc(chat.AppendChatMessageHandler))).Methods("POST")
	apiCreate.Handle("/sessions/{session_id}/messages", m.ChatMiddleware(http.HandlerFunc(chat.ChatTranscriptHandler))).Methods("GET")
	apiCreate.Handle("/sessions/{session_id}", m.ChatMiddleware(http.HandlerFunc(chat.DeleteChatSessionHandler))).Methods("DELETE")

	apiCreate.Handle("/user/online-status", m.Middleware(http.HandlerFunc(u.SetOnlineStatusHandler))).Methods("PUT")

	apiCreate.Handle("/metrics", m.Middleware(http.HandlerFunc(metrics.MetricsHandler))).Methods("GET")

	return r
}

// Initialize is invoked by main to connect with the database and create a router
func (a *App) Initialize() error {

	client, err := databases.NewClient(&a.Config)
	if err != nil {
		// if we fail to create a new database client, then kill the pod
		zap.S().With(err).Error("failed to create new client")
		return err
	}

	a.dbHelper = databases.NewDatabase(&a.Config, client)
	err = client.Connect()
	if err != nil {
		// if we fail to connect to the database, then kill the pod
		zap.S().With(err).Error("failed to connect to database")
		return err
	}
	zap.S().Info("counseling-api has connected to the database")

	a.codec, err = envelope.FromKey(a.Config.ContentKey)
	if err != nil {
		zap.S().With(err).Error("invalid chat content key")
		return err
	}

	// initialize api router
	a.initializeRoutes()

	if a.Config.RedisURL != "" {
		opt, err := redis.ParseURL(a.Config.RedisURL)
		if err != nil {
			zap.S().Warnw("invalid redis url, events stay instance-local", "error", err)
		} else {
			a.Hub.EnableRedisBridge(redis.NewClient(opt))
			zap.S().Info("chat event redis bridge enabled")
		}
	}

	a.Scheduler = scheduler.NewScheduler(
		databases.NewChatSessionDatabase(a.dbHelper),
		a.Config.SendgridAPIKey,
		a.Config.OncallAlertEmail,
	)
	a.Scheduler.Start()

	return nil
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	b, _ := json.Marshal(models.HealthCheckResponse{
		Alive: true,
	})
	_, _ = io.WriteString(w, string(b))
}
