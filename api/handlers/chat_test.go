package handlers_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mindhaven/counseling-api/api"
	"github.com/mindhaven/counseling-api/api/handlers"
	"github.com/mindhaven/counseling-api/databases/mocks"
	"github.com/mindhaven/counseling-api/envelope"
	"github.com/mindhaven/counseling-api/models"
)

func newChat(sdb *mocks.ChatSessionDatabase) handlers.Chat {
	return handlers.Chat{
		DB:    sdb,
		Hub:   handlers.NewChatHub("", nil),
		Codec: envelope.Plain{},
	}
}

func requestWith(t *testing.T, method, url, body string, principal models.Principal, session *models.ChatSession) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)

	ctx := api.WithPrincipal(context.Background(), principal)
	if session != nil {
		ctx = api.WithChatSession(ctx, session)
	}
	return req.WithContext(ctx)
}

func anonPrincipal(id string) models.Principal {
	return models.Principal{Kind: models.PrincipalAnonymous, AnonymousID: id}
}

func counselorPrincipal(id string) models.Principal {
	return models.Principal{Kind: models.PrincipalCounselor, UserID: id}
}

func TestCreateChatSessionHandler(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}

	var inserted models.ChatSession
	sdb.On("InsertOne", mock.Anything, mock.Anything).Return(nil, nil).Run(func(args mock.Arguments) {
		inserted = args.Get(1).(models.ChatSession)
	})

	c := newChat(sdb)
	req := requestWith(t, "POST", "/api/v1/sessions",
		`{"category":"mental_health","isEmergency":true}`, anonPrincipal("anon-1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.CreateChatSessionHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "anon-1", inserted.Details.AnonymousID)
	assert.Equal(t, models.StatusUnassigned, inserted.Details.Status)
	assert.Equal(t, models.CategoryMentalHealth, inserted.Details.Category)
	assert.Equal(t, models.PriorityMedium, inserted.Details.Priority)
	assert.True(t, inserted.Details.Metadata.IsEmergency)
	assert.Empty(t, inserted.Details.CounselorID)
	assert.Contains(t, rr.Body.String(), "sessionId")
}

func TestCreateChatSessionHandlerRejectsCounselors(t *testing.T) {
	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "POST", "/api/v1/sessions",
		`{"category":"academic"}`, counselorPrincipal("c1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.CreateChatSessionHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestCreateChatSessionHandlerRejectsUnknownCategory(t *testing.T) {
	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "POST", "/api/v1/sessions",
		`{"category":"gardening"}`, anonPrincipal("anon-1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.CreateChatSessionHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestChatSessionsMineHandlerScopesToAnonymousOwner(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}

	var filter bson.M
	sdb.On("Find", mock.Anything, mock.Anything, mock.Anything).Return([]models.ChatSession{
		{ID: primitive.NewObjectID(), Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			Status:      models.StatusActive,
			Messages:    []models.ChatMessage{{Content: "private text"}},
		}},
	}, nil).Run(func(args mock.Arguments) {
		filter = args.Get(1).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "GET", "/api/v1/sessions/mine", "", anonPrincipal("anon-1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ChatSessionsMineHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "anon-1", filter["session.anonymousId"])
	// summaries never carry transcript content
	assert.NotContains(t, rr.Body.String(), "private text")
}

func TestActiveChatSessionsHandlerRequiresCounselor(t *testing.T) {
	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "GET", "/api/v1/sessions/active", "", anonPrincipal("anon-1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ActiveChatSessionsHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestActiveChatSessionsHandlerListsUnassignedAndOwn(t *testing.T) {
	sdb := &mocks.ChatSessionDatabase{}

	var filter bson.M
	sdb.On("Find", mock.Anything, mock.Anything, mock.Anything).Return([]models.ChatSession{}, nil).Run(func(args mock.Arguments) {
		filter = args.Get(1).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "GET", "/api/v1/sessions/active", "", counselorPrincipal("c1"), nil)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ActiveChatSessionsHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, filter, "$or")
	assert.Contains(t, filter, "session.status")
}

func TestAssignCounselorHandler(t *testing.T) {
	sessionID := primitive.NewObjectID()
	session := &models.ChatSession{
		ID: sessionID,
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			Status:      models.StatusUnassigned,
		},
	}

	sdb := &mocks.ChatSessionDatabase{}
	var update bson.M
	sdb.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&models.ChatSession{
		ID: sessionID,
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Status:      models.StatusActive,
		},
	}, nil).Run(func(args mock.Arguments) {
		update = args.Get(2).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "POST", "/api/v1/sessions/"+sessionID.Hex()+"/assign", "", counselorPrincipal("c1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AssignCounselorHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	set := update["$set"].(bson.M)
	assert.Equal(t, "c1", set["session.counselorId"])
	assert.Equal(t, models.StatusActive, set["session.status"])
	assert.Contains(t, rr.Body.String(), models.StatusActive)
}

func TestAssignCounselorHandlerRejectsAnonymous(t *testing.T) {
	session := &models.ChatSession{ID: primitive.NewObjectID()}
	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "POST", "/assign", "", anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AssignCounselorHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAppendChatMessageHandlerWritesOneAtomicUpdate(t *testing.T) {
	sessionID := primitive.NewObjectID()
	session := &models.ChatSession{
		ID: sessionID,
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			Status:      models.StatusActive,
			CounselorID: "c1",
		},
	}

	sdb := &mocks.ChatSessionDatabase{}
	var filter, update bson.M
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil).Run(func(args mock.Arguments) {
		filter = args.Get(1).(bson.M)
		update = args.Get(2).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "POST", "/messages", `{"content":"hello"}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	// push, counter and activity timestamp ride in the same update
	require.Contains(t, update, "$push")
	require.Contains(t, update, "$inc")
	require.Contains(t, update, "$set")
	assert.Equal(t, 1, update["$inc"].(bson.M)["session.metadata.totalMessages"])

	pushed := update["$push"].(bson.M)["session.messages"].(models.ChatMessage)
	assert.Equal(t, "hello", pushed.Content)
	assert.Equal(t, models.SenderAnonymous, pushed.Sender)

	// a retried append is excluded by the pre-generated message id
	require.Contains(t, filter, "session.messages._id")
	assert.Equal(t, bson.M{"$ne": pushed.ID}, filter["session.messages._id"])
}

func TestAppendChatMessageHandlerRejectsEmptyContent(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "POST", "/messages", `{"content":""}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAppendChatMessageHandlerRejectsUnassignedCounselor(t *testing.T) {
	session := &models.ChatSession{
		ID: primitive.NewObjectID(),
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			Status:      models.StatusActive,
			CounselorID: "c1",
		},
	}

	sdb := &mocks.ChatSessionDatabase{}
	c := newChat(sdb)
	req := requestWith(t, "POST", "/messages", `{"content":"hi"}`, counselorPrincipal("c2"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	sdb.AssertNotCalled(t, "UpdateOne", mock.Anything, mock.Anything, mock.Anything)
}

func TestAppendChatMessageHandlerRejectsAdminAuthorship(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "POST", "/messages", `{"content":"hi"}`,
		models.Principal{Kind: models.PrincipalAdmin, UserID: "a1"}, session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAppendChatMessageHandlerSealsStoredContent(t *testing.T) {
	key := make([]byte, 32)
	codec, err := envelope.NewChaCha(key)
	require.NoError(t, err)

	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	sdb := &mocks.ChatSessionDatabase{}
	var update bson.M
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 1}, nil).Run(func(args mock.Arguments) {
		update = args.Get(2).(bson.M)
	})

	c := handlers.Chat{DB: sdb, Hub: handlers.NewChatHub("", nil), Codec: codec}
	req := requestWith(t, "POST", "/messages", `{"content":"very personal"}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)

	pushed := update["$push"].(bson.M)["session.messages"].(models.ChatMessage)
	assert.NotContains(t, pushed.Content, "very personal")
	assert.Contains(t, pushed.Content, `"iv"`)

	// the response carries the plaintext back to the author
	assert.Contains(t, rr.Body.String(), "very personal")
}

func TestAppendChatMessageHandlerVanishedSessionIsNotFound(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	sdb.On("FindOne", mock.Anything, mock.Anything).Return(nil, mongo.ErrNoDocuments)

	c := newChat(sdb)
	req := requestWith(t, "POST", "/messages", `{"content":"hi"}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAppendChatMessageHandlerConfirmFailureIsStorageUnavailable(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	sdb.On("FindOne", mock.Anything, mock.Anything).Return(nil, errors.New("connection pool cleared"))

	c := newChat(sdb)
	req := requestWith(t, "POST", "/messages", `{"content":"hi"}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	// a failed confirmation lookup is storage trouble, not a missing session
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), models.CodeStorageUnavailable)
}

func TestAppendChatMessageHandlerReplayedAppendIsSuccess(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}

	// zero matches but the message id is already in the transcript: an
	// earlier ambiguous attempt landed the push
	sdb := &mocks.ChatSessionDatabase{}
	sdb.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything).Return(&mongo.UpdateResult{MatchedCount: 0}, nil)
	sdb.On("FindOne", mock.Anything, mock.Anything).Return(session, nil)

	c := newChat(sdb)
	req := requestWith(t, "POST", "/messages", `{"content":"hi"}`, anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
}

// appendingSessionStore applies append updates against one shared
// in-memory session document the way the server applies them, under a
// mutex, so interleaved handler calls contend on real state. Unused
// interface methods fall through to the embedded mock.
type appendingSessionStore struct {
	*mocks.ChatSessionDatabase
	mu      sync.Mutex
	session *models.ChatSession
}

func (s *appendingSessionStore) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := filter.(bson.M)
	if f["_id"] != s.session.ID {
		return &mongo.UpdateResult{}, nil
	}
	excluded := f["session.messages._id"].(bson.M)["$ne"].(primitive.ObjectID)
	for _, m := range s.session.Details.Messages {
		if m.ID == excluded {
			return &mongo.UpdateResult{MatchedCount: 0}, nil
		}
	}

	u := update.(bson.M)
	message := u["$push"].(bson.M)["session.messages"].(models.ChatMessage)
	s.session.Details.Messages = append(s.session.Details.Messages, message)
	s.session.Details.Metadata.TotalMessages += u["$inc"].(bson.M)["session.metadata.totalMessages"].(int)
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func TestAppendChatMessageHandlerConcurrentAppendsLoseNoUpdates(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", Status: models.StatusActive},
	}
	store := &appendingSessionStore{ChatSessionDatabase: &mocks.ChatSessionDatabase{}, session: session}
	c := handlers.Chat{DB: store, Hub: handlers.NewChatHub("", nil), Codec: envelope.Plain{}}

	// requests are built up front, each with its own session snapshot,
	// before the store starts mutating the shared document
	requests := make([]*http.Request, 2)
	for i := range requests {
		bound := *session
		requests[i] = requestWith(t, "POST", "/messages",
			fmt.Sprintf(`{"content":"m%d"}`, i), anonPrincipal("anon-1"), &bound)
	}

	codes := make([]int, len(requests))
	var wg sync.WaitGroup
	for i, req := range requests {
		wg.Add(1)
		go func(i int, req *http.Request) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			http.HandlerFunc(c.AppendChatMessageHandler).ServeHTTP(rr, req)
			codes[i] = rr.Code
		}(i, req)
	}
	wg.Wait()

	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated}, codes)

	// both messages land and the counter moves by exactly two
	require.Len(t, session.Details.Messages, 2)
	assert.Equal(t, 2, session.Details.Metadata.TotalMessages)
	assert.ElementsMatch(t, []string{"m0", "m1"},
		[]string{session.Details.Messages[0].Content, session.Details.Messages[1].Content})
}

func TestChatTranscriptHandler(t *testing.T) {
	session := &models.ChatSession{
		ID: primitive.NewObjectID(),
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Status:      models.StatusActive,
			Messages: []models.ChatMessage{
				{ID: primitive.NewObjectID(), Content: "first message", Sender: models.SenderAnonymous},
				{ID: primitive.NewObjectID(), Content: "counselor reply", Sender: models.SenderCounselor},
			},
		},
	}

	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "GET", "/messages", "", counselorPrincipal("c1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ChatTranscriptHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "first message")
	assert.Contains(t, rr.Body.String(), "counselor reply")
	assert.Contains(t, rr.Body.String(), models.StatusActive)
}

func TestChatTranscriptHandlerOpensSealedContent(t *testing.T) {
	key := make([]byte, 32)
	codec, err := envelope.NewChaCha(key)
	require.NoError(t, err)

	sealed, err := codec.Seal("hidden at rest")
	require.NoError(t, err)

	session := &models.ChatSession{
		ID: primitive.NewObjectID(),
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			Status:      models.StatusActive,
			Messages: []models.ChatMessage{
				{ID: primitive.NewObjectID(), Content: sealed, Sender: models.SenderAnonymous},
			},
		},
	}

	c := handlers.Chat{DB: &mocks.ChatSessionDatabase{}, Hub: handlers.NewChatHub("", nil), Codec: codec}
	req := requestWith(t, "GET", "/messages", "", anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ChatTranscriptHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "hidden at rest")
}

func TestChatTranscriptHandlerRejectsOtherCounselors(t *testing.T) {
	session := &models.ChatSession{
		ID: primitive.NewObjectID(),
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Status:      models.StatusActive,
		},
	}

	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "GET", "/messages", "", counselorPrincipal("c2"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.ChatTranscriptHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestUpdateChatStatusHandler(t *testing.T) {
	sessionID := primitive.NewObjectID()
	session := &models.ChatSession{
		ID: sessionID,
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Status:      models.StatusActive,
		},
	}

	sdb := &mocks.ChatSessionDatabase{}
	var update bson.M
	sdb.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&models.ChatSession{
		ID:      sessionID,
		Details: models.ChatSessionDetails{CounselorID: "c1", Status: models.StatusResolved},
	}, nil).Run(func(args mock.Arguments) {
		update = args.Get(2).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "PUT", "/status", `{"status":"resolved"}`, counselorPrincipal("c1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.UpdateChatStatusHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, models.StatusResolved, update["$set"].(bson.M)["session.status"])
}

func TestUpdateChatStatusHandlerRejectsUnknownStatus(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{CounselorID: "c1", Status: models.StatusActive},
	}

	c := newChat(&mocks.ChatSessionDatabase{})
	req := requestWith(t, "PUT", "/status", `{"status":"unassigned"}`, counselorPrincipal("c1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.UpdateChatStatusHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteChatSessionHandler(t *testing.T) {
	sessionID := primitive.NewObjectID()
	session := &models.ChatSession{
		ID: sessionID,
		Details: models.ChatSessionDetails{
			AnonymousID: "anon-1",
			CounselorID: "c1",
			Status:      models.StatusActive,
		},
	}

	sdb := &mocks.ChatSessionDatabase{}
	var filter bson.M
	sdb.On("FindOneAndDelete", mock.Anything, mock.Anything).Return(session, nil).Run(func(args mock.Arguments) {
		filter = args.Get(1).(bson.M)
	})

	c := newChat(sdb)
	req := requestWith(t, "DELETE", "/api/v1/sessions/"+sessionID.Hex(), "", anonPrincipal("anon-1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.DeleteChatSessionHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	// the delete filter re-asserts ownership at the storage layer
	assert.Equal(t, "anon-1", filter["session.anonymousId"])
}

func TestDeleteChatSessionHandlerRejectsCounselors(t *testing.T) {
	session := &models.ChatSession{
		ID:      primitive.NewObjectID(),
		Details: models.ChatSessionDetails{AnonymousID: "anon-1", CounselorID: "c1"},
	}

	sdb := &mocks.ChatSessionDatabase{}
	c := newChat(sdb)
	req := requestWith(t, "DELETE", "/sessions", "", counselorPrincipal("c1"), session)

	rr := httptest.NewRecorder()
	http.HandlerFunc(c.DeleteChatSessionHandler).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	sdb.AssertNotCalled(t, "FindOneAndDelete", mock.Anything, mock.Anything)
}
