package scheduler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/mindhaven/counseling-api/databases/mocks"
	"github.com/mindhaven/counseling-api/models"
)

func TestSweepEmergencySessionsFiltersForNeglectedEmergencies(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}

	var filter bson.M
	sdb.On("Find", mock.Anything, mock.Anything).Return([]models.ChatSession{}, nil).Run(func(args mock.Arguments) {
		filter = args.Get(1).(bson.M)
	})

	s := NewScheduler(sdb, "", "")
	s.sweepEmergencySessions()

	require.NotNil(t, filter)
	assert.Equal(t, models.StatusUnassigned, filter["session.status"])
	assert.Equal(t, true, filter["session.metadata.isEmergency"])
	assert.Contains(t, filter, "session.metadata.lastActivity")
	assert.Contains(t, filter, "session.metadata.emergencyAlertedAt")
}

func TestSweepEmergencySessionsSkipsMarkingWhenAlertFails(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("Find", mock.Anything, mock.Anything).Return([]models.ChatSession{
		{ID: primitive.NewObjectID(), Details: models.ChatSessionDetails{
			Category: models.CategoryPersonal,
			Priority: models.PriorityUrgent,
			Status:   models.StatusUnassigned,
		}},
	}, nil)

	// no sendgrid key configured, so the alert cannot be sent and the
	// session must stay eligible for the next sweep
	s := NewScheduler(sdb, "", "")
	s.sweepEmergencySessions()

	sdb.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestSweepEmergencySessionsToleratesStorageErrors(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("Find", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	s := NewScheduler(sdb, "key", "oncall@mindhaven.app")
	s.sweepEmergencySessions()
}

func TestLogSessionStatsCountsEveryStatus(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("CountDocuments", mock.Anything, mock.Anything).Return(int64(2), nil)

	s := NewScheduler(sdb, "", "")
	s.logSessionStats()

	sdb.AssertNumberOfCalls(t, "CountDocuments", 4)
}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler(&mocks.ChatSessionDatabase{}, "", "")
	s.Start()
	s.Stop()
}
