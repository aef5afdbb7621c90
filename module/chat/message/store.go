package message

import (
	"context"
	"time"

	"SocialChat/data/database"
	chatmodel "SocialChat/module/chat/model"
	"SocialChat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 会话与消息的持久化
type Store interface {
	FindDirectChat(ctx context.Context, a, b primitive.ObjectID) (*chatmodel.Chat, error)
	FindOrCreateDirectChat(ctx context.Context, a, b primitive.ObjectID, last chatmodel.LastMessage) (*chatmodel.Chat, error)
	FindChat(ctx context.Context, id primitive.ObjectID) (*chatmodel.Chat, error)
	InsertMessage(ctx context.Context, m *chatmodel.Message) error
	SetLastMessage(ctx context.Context, chatID primitive.ObjectID, last chatmodel.LastMessage) error
	ListByChat(ctx context.Context, chatID primitive.ObjectID) ([]chatmodel.Message, error)
	ListImagesBySender(ctx context.Context, sender primitive.ObjectID) ([]chatmodel.ImageRef, error)
}

type MongoStore struct {
	db  database.Provider
	now func() time.Time
}

func NewMongoStore(db database.Provider) *MongoStore {
	return &MongoStore{db: db, now: time.Now}
}

func (s *MongoStore) chats() (*mongo.Collection, error) {
	return database.Coll(s.db, &chatmodel.Chat{})
}

func (s *MongoStore) messages() (*mongo.Collection, error) {
	return database.Coll(s.db, &chatmodel.Message{})
}

func directFilter(a, b primitive.ObjectID) bson.M {
	return bson.M{
		"isGroup":      false,
		"participants": bson.M{"$all": bson.A{a, b}},
	}
}

// FindDirectChat 没有会话时返回 nil, nil
func (s *MongoStore) FindDirectChat(ctx context.Context, a, b primitive.ObjectID) (*chatmodel.Chat, error) {
	c, err := s.chats()
	if err != nil {
		return nil, err
	}
	var out chatmodel.Chat
	err = c.FindOne(ctx, directFilter(a, b)).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find direct chat")
	}
	return &out, nil
}

// FindOrCreateDirectChat 用 upsert 代替先查后插，缩小并发首条消息重复建会话的窗口
func (s *MongoStore) FindOrCreateDirectChat(ctx context.Context, a, b primitive.ObjectID, last chatmodel.LastMessage) (*chatmodel.Chat, error) {
	c, err := s.chats()
	if err != nil {
		return nil, err
	}
	now := s.now()
	update := bson.M{"$setOnInsert": bson.M{
		"participants": bson.A{a, b},
		"isGroup":      false,
		"lastMessage":  last,
		"groupName":    nil,
		"groupPicture": nil,
		"groupAdmin":   nil,
		"createdAt":    now,
		"updatedAt":    now,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out chatmodel.Chat
	if err := c.FindOneAndUpdate(ctx, directFilter(a, b), update, opts).Decode(&out); err != nil {
		return nil, errs.WrapMsg(err, "upsert direct chat")
	}
	return &out, nil
}

// FindChat 没有会话时返回 nil, nil
func (s *MongoStore) FindChat(ctx context.Context, id primitive.ObjectID) (*chatmodel.Chat, error) {
	c, err := s.chats()
	if err != nil {
		return nil, err
	}
	var out chatmodel.Chat
	err = c.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find chat", "chatId", id.Hex())
	}
	return &out, nil
}

func (s *MongoStore) InsertMessage(ctx context.Context, m *chatmodel.Message) error {
	c, err := s.messages()
	if err != nil {
		return err
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	now := s.now()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err = c.InsertOne(ctx, m)
	return errs.WrapMsg(err, "insert message", "chatId", m.ChatID.Hex())
}

func (s *MongoStore) SetLastMessage(ctx context.Context, chatID primitive.ObjectID, last chatmodel.LastMessage) error {
	c, err := s.chats()
	if err != nil {
		return err
	}
	_, err = c.UpdateByID(ctx, chatID, bson.M{"$set": bson.M{
		"lastMessage": last,
		"updatedAt":   s.now(),
	}})
	return errs.WrapMsg(err, "update lastMessage", "chatId", chatID.Hex())
}

func (s *MongoStore) ListByChat(ctx context.Context, chatID primitive.ObjectID) ([]chatmodel.Message, error) {
	c, err := s.messages()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"chatId": chatID}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "chatId", chatID.Hex())
	}
	out := make([]chatmodel.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode messages")
	}
	return out, nil
}

func (s *MongoStore) ListImagesBySender(ctx context.Context, sender primitive.ObjectID) ([]chatmodel.ImageRef, error) {
	c, err := s.messages()
	if err != nil {
		return nil, err
	}
	filter := bson.M{"sender": sender, "image": bson.M{"$nin": bson.A{"", nil}}}
	cur, err := c.Find(ctx, filter, options.Find().SetProjection(bson.M{"image": 1}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list images")
	}
	out := make([]chatmodel.ImageRef, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode images")
	}
	return out, nil
}
