package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mindhaven/counseling-api/databases"
	"github.com/mindhaven/counseling-api/models"
	templates "github.com/mindhaven/counseling-api/templates/html"
)

// emergencyWaitThreshold is how long an emergency session may sit
// unassigned before the on-call alert fires.
const emergencyWaitThreshold = 10 * time.Minute

// Scheduler runs the periodic background jobs: the emergency sweep and
// the nightly session stats log.
type Scheduler struct {
	cron           *cron.Cron
	SDB            databases.ChatSessionDatabase
	SendgridAPIKey string
	OncallEmail    string
}

// NewScheduler creates a new scheduler instance
func NewScheduler(sdb databases.ChatSessionDatabase, sendgridAPIKey, oncallEmail string) *Scheduler {
	return &Scheduler{
		cron:           cron.New(cron.WithLocation(time.UTC)),
		SDB:            sdb,
		SendgridAPIKey: sendgridAPIKey,
		OncallEmail:    oncallEmail,
	}
}

// Start begins the scheduler with all registered jobs
func (s *Scheduler) Start() {
	// Sweep for neglected emergency sessions every 5 minutes
	_, err := s.cron.AddFunc("*/5 * * * *", s.sweepEmergencySessions)
	if err != nil {
		zap.S().Errorw("failed to register emergency sweep job", "error", err)
	}

	// Log session counts per status nightly at 3 AM UTC
	_, err = s.cron.AddFunc("0 3 * * *", s.logSessionStats)
	if err != nil {
		zap.S().Errorw("failed to register session stats job", "error", err)
	}

	s.cron.Start()
	zap.S().Info("counseling scheduler started")
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	zap.S().Info("counseling scheduler stopped")
}

// sweepEmergencySessions alerts the on-call address about emergency
// sessions that have been waiting past the threshold without a
// counselor. Each session is alerted at most once.
func (s *Scheduler) sweepEmergencySessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cutoff := primitive.NewDateTimeFromTime(time.Now().Add(-emergencyWaitThreshold))
	filter := bson.M{
		"session.status":                      models.StatusUnassigned,
		"session.metadata.isEmergency":        true,
		"session.metadata.lastActivity":       bson.M{"$lt": cutoff},
		"session.metadata.emergencyAlertedAt": nil,
	}

	sessions, err := s.SDB.Find(ctx, filter)
	if err != nil {
		zap.S().Errorw("failed to find neglected emergency sessions", "error", err)
		return
	}
	if len(sessions) == 0 {
		return
	}

	// session identifiers and categories only, never transcript content
	lines := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		waited := time.Since(sess.Details.Metadata.LastActivity.Time()).Round(time.Minute)
		lines = append(lines, fmt.Sprintf("session %s (%s, %s priority) waiting %s",
			sess.ID.Hex(), sess.Details.Category, sess.Details.Priority, waited))
	}

	if err := s.sendAlertEmail(lines); err != nil {
		zap.S().Errorw("failed to send emergency alert email", "error", err)
		return
	}

	now := primitive.NewDateTimeFromTime(time.Now())
	for _, sess := range sessions {
		_, err := s.SDB.UpdateOne(ctx, bson.M{"_id": sess.ID}, bson.M{
			"$set": bson.M{"session.metadata.emergencyAlertedAt": now},
		})
		if err != nil {
			zap.S().Warnw("failed to mark session as alerted", "error", err, "sessionId", sess.ID.Hex())
		}
	}

	zap.S().Infow("emergency sweep complete", "alerted", len(sessions))
}

// logSessionStats logs per-status session counts for the nightly report
func (s *Scheduler) logSessionStats() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	statuses := []string{models.StatusUnassigned, models.StatusActive, models.StatusResolved, models.StatusEscalated}
	counts := make(map[string]int64, len(statuses))
	for _, status := range statuses {
		count, err := s.SDB.CountDocuments(ctx, bson.M{"session.status": status})
		if err != nil {
			zap.S().Errorw("failed to count sessions", "error", err, "status", status)
			return
		}
		counts[status] = count
	}

	zap.S().Infow("nightly session stats",
		"unassigned", counts[models.StatusUnassigned],
		"active", counts[models.StatusActive],
		"resolved", counts[models.StatusResolved],
		"escalated", counts[models.StatusEscalated],
	)
}

func (s *Scheduler) sendAlertEmail(sessionLines []string) error {
	if s.OncallEmail == "" || s.SendgridAPIKey == "" {
		return fmt.Errorf("on-call alerting is not configured")
	}

	from := mail.NewEmail("MindHaven Counseling", "no-reply@mindhaven.app")
	to := mail.NewEmail("On-call counselor", s.OncallEmail)
	subject := "Action Required: Unassigned Emergency Sessions"
	htmlContent := templates.RenderEmergencyAlertEmail(sessionLines)
	plainText := fmt.Sprintf("%d emergency session(s) are waiting without a counselor. Please check the dashboard.", len(sessionLines))

	message := mail.NewSingleEmail(from, subject, to, plainText, htmlContent)
	client := sendgrid.NewSendClient(s.SendgridAPIKey)
	response, err := client.Send(message)
	if err != nil {
		return err
	}
	if response.StatusCode >= 400 {
		zap.S().Errorw("sendgrid returned error status", "status", response.StatusCode, "body", response.Body)
	}
	return nil
}
