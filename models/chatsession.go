package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Session categories accepted at creation. The category is immutable
// once the session exists.
const (
	CategoryAcademic     = "academic"
	CategoryPersonal     = "personal"
	CategorySocial       = "social"
	CategoryMentalHealth = "mental_health"
	CategoryOther        = "other"
)

// Session lifecycle statuses. A session with no counselor is always
// "unassigned"; assignment moves it to "active". "resolved" and
// "escalated" are set by the assigned counselor outside message flow.
const (
	StatusUnassigned = "unassigned"
	StatusActive     = "active"
	StatusResolved   = "resolved"
	StatusEscalated  = "escalated"
)

// Advisory priorities. Priority never gates access.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Message sender roles as persisted in the transcript.
const (
	SenderAnonymous = "anonymous"
	SenderCounselor = "counselor"
)

// ChatSession holds the structure for the chatSessions collection in mongo
type ChatSession struct {
	ID      primitive.ObjectID `json:"_id" bson:"_id"`
	Details ChatSessionDetails `json:"session" bson:"session"`
	Version int32              `json:"__v" bson:"__v"`
}

// ChatSessionDetails holds the inner session structure as defined in the
// chatSessions collection in mongo
type ChatSessionDetails struct {
	AnonymousID  string              `json:"anonymousId" bson:"anonymousId"`
	CounselorID  string              `json:"counselorId,omitempty" bson:"counselorId,omitempty"`
	Category     string              `json:"category" bson:"category"`
	Status       string              `json:"status" bson:"status"`
	Priority     string              `json:"priority" bson:"priority"`
	Messages     []ChatMessage       `json:"messages" bson:"messages"`
	Metadata     ChatSessionMetadata `json:"metadata" bson:"metadata"`
	CreatedAt    interface{}         `json:"createdAt" bson:"createdAt"`
	UpdatedAt    interface{}         `json:"updatedAt" bson:"updatedAt"`
}

// ChatSessionMetadata tracks activity counters for a session.
// TotalMessages must always equal len(Messages); both are written in the
// same update document on append.
type ChatSessionMetadata struct {
	LastActivity       primitive.DateTime  `json:"lastActivity" bson:"lastActivity"`
	TotalMessages      int                 `json:"totalMessages" bson:"totalMessages"`
	IsEmergency        bool                `json:"isEmergency" bson:"isEmergency"`
	EmergencyAlertedAt *primitive.DateTime `json:"emergencyAlertedAt,omitempty" bson:"emergencyAlertedAt,omitempty"`
}

// ChatMessage is one immutable transcript entry. Content is an opaque
// blob; whether it is plaintext or an {iv,data} envelope is decided by
// the content codec at the boundary, not by this model.
type ChatMessage struct {
	ID        primitive.ObjectID `json:"_id" bson:"_id"`
	Content   string             `json:"content" bson:"content"`
	Sender    string             `json:"sender" bson:"sender"`
	SenderID  string             `json:"senderId,omitempty" bson:"senderId,omitempty"`
	Timestamp primitive.DateTime `json:"timestamp" bson:"timestamp"`
}

// ChatSessionSummary is the message-elided view returned by the listing
// endpoints.
type ChatSessionSummary struct {
	ID          primitive.ObjectID  `json:"_id"`
	Category    string              `json:"category"`
	Status      string              `json:"status"`
	Priority    string              `json:"priority"`
	CounselorID string              `json:"counselorId,omitempty"`
	Metadata    ChatSessionMetadata `json:"metadata"`
}

// Summary strips the transcript and the anonymous credential from a
// session for listing responses.
func (s ChatSession) Summary() ChatSessionSummary {
	return ChatSessionSummary{
		ID:          s.ID,
		Category:    s.Details.Category,
		Status:      s.Details.Status,
		Priority:    s.Details.Priority,
		CounselorID: s.Details.CounselorID,
		Metadata:    s.Details.Metadata,
	}
}

// ValidCategory reports whether c is one of the accepted session categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryAcademic, CategoryPersonal, CategorySocial, CategoryMentalHealth, CategoryOther:
		return true
	}
	return false
}

// ValidPriority reports whether p is one of the accepted priorities.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
