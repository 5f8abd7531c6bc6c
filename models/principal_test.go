package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSenderRole(t *testing.T) {
	role, err := Principal{Kind: PrincipalAnonymous, AnonymousID: "anon-1"}.SenderRole()
	assert.NoError(t, err)
	assert.Equal(t, SenderAnonymous, role)

	role, err = Principal{Kind: PrincipalCounselor, UserID: "c1"}.SenderRole()
	assert.NoError(t, err)
	assert.Equal(t, SenderCounselor, role)

	_, err = Principal{Kind: PrincipalAdmin, UserID: "a1"}.SenderRole()
	assert.Error(t, err)
}

func TestSummaryStripsTranscriptAndAnonymousID(t *testing.T) {
	s := ChatSession{
		Details: ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Category:    CategoryMentalHealth,
			Status:      StatusActive,
			Priority:    PriorityHigh,
			Messages: []ChatMessage{
				{Content: "sensitive text"},
			},
			Metadata: ChatSessionMetadata{TotalMessages: 1},
		},
	}

	summary := s.Summary()
	assert.Equal(t, CategoryMentalHealth, summary.Category)
	assert.Equal(t, "c1", summary.CounselorID)
	assert.Equal(t, 1, summary.Metadata.TotalMessages)
}

func TestValidCategoryAndPriority(t *testing.T) {
	assert.True(t, ValidCategory(CategoryAcademic))
	assert.False(t, ValidCategory("gardening"))
	assert.True(t, ValidPriority(PriorityUrgent))
	assert.False(t, ValidPriority("whenever"))
}
