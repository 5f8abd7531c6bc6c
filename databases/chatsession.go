package databases

// go generate: mockery --name ChatSessionDatabase

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mindhaven/counseling-api/models"
)

const chatSessionName = "chatSessions"

// ChatSessionDatabase contains the methods to use with the chat session database
type ChatSessionDatabase interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.ChatSession, error)
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatSession, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.ChatSession, error)
	FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) (*models.ChatSession, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

type chatSessionDatabase struct {
	db DatabaseHelper
}

// NewChatSessionDatabase initializes a new instance of chat session database with the provided db connection
func NewChatSessionDatabase(db DatabaseHelper) ChatSessionDatabase {
	return &chatSessionDatabase{
		db: db,
	}
}

func (c *chatSessionDatabase) FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) (*models.ChatSession, error) {
	session := &models.ChatSession{}
	err := c.db.Collection(chatSessionName).FindOne(ctx, filter, opts...).Decode(&session)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *chatSessionDatabase) Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	cr, err := c.db.Collection(chatSessionName).Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	err = cr.Decode(&sessions)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (c *chatSessionDatabase) InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (InsertOneResultHelper, error) {
	return c.db.Collection(chatSessionName).InsertOne(ctx, document, opts...)
}

func (c *chatSessionDatabase) UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	return c.db.Collection(chatSessionName).UpdateOne(ctx, filter, update, opts...)
}

func (c *chatSessionDatabase) FindOneAndUpdate(ctx context.Context, filter interface{}, update interface{}, opts ...*options.FindOneAndUpdateOptions) (*models.ChatSession, error) {
	session := &models.ChatSession{}
	err := c.db.Collection(chatSessionName).FindOneAndUpdate(ctx, filter, update, opts...).Decode(&session)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *chatSessionDatabase) FindOneAndDelete(ctx context.Context, filter interface{}, opts ...*options.FindOneAndDeleteOptions) (*models.ChatSession, error) {
	session := &models.ChatSession{}
	err := c.db.Collection(chatSessionName).FindOneAndDelete(ctx, filter, opts...).Decode(&session)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (c *chatSessionDatabase) CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error) {
	return c.db.Collection(chatSessionName).CountDocuments(ctx, filter, opts...)
}
