// Package mgo keeps chat messages in MongoDB as an alternative to Postgres.
package mgo

import (
	"context"
	"time"

	"fieldgate/data/database"
	"fieldgate/module/model"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CollectionChatMessages = "chat_messages"

var ErrNotReady = errors.New("mongo not ready")

// DBProvider hands out the current database handle; the connection may be
// replaced after a reconnect.
type DBProvider interface {
	TryGetDB() (*mongo.Database, bool)
}

// MessageStore implements the chat message repository on one collection.
type MessageStore struct {
	db DBProvider
}

var _ database.Table = (*MessageStore)(nil)

func NewMessageStore(db DBProvider) *MessageStore {
	return &MessageStore{db: db}
}

func (s *MessageStore) GetTableName() string { return CollectionChatMessages }

func (s *MessageStore) Collection() (*mongo.Collection, error) {
	db, ok := s.db.TryGetDB()
	if !ok {
		return nil, ErrNotReady
	}
	return db.Collection(CollectionChatMessages), nil
}

// EnsureIndexes creates the history index. Safe to call on every start.
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "worker_id", Value: 1}, {Key: "created_at", Value: -1}},
		Options: options.Index().SetName("worker_created"),
	})
	return errors.Wrap(err, "create chat index")
}

func (s *MessageStore) InsertMessage(ctx context.Context, m *model.ChatMessage) error {
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	doc := *m
	if doc.Attachments == nil {
		doc.Attachments = []string{}
	}
	_, err = coll.InsertOne(ctx, &doc)
	return errors.Wrapf(err, "insert message %s", m.ID)
}

// MarkRead only fills read_at where it is still missing.
func (s *MessageStore) MarkRead(ctx context.Context, workerID string, messageIDs []string, at time.Time) error {
	coll, err := s.Collection()
	if err != nil {
		return err
	}
	_, err = coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}, "worker_id": workerID, "read_at": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"read_at": at}},
	)
	return errors.Wrapf(err, "mark read for %s", workerID)
}

func (s *MessageStore) History(ctx context.Context, workerID string, limit int) ([]model.ChatMessage, error) {
	coll, err := s.Collection()
	if err != nil {
		return nil, err
	}
	cur, err := coll.Find(ctx, bson.M{"worker_id": workerID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, errors.Wrapf(err, "find history for %s", workerID)
	}
	out := []model.ChatMessage{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, errors.Wrap(err, "decode history")
	}
	return out, nil
}
