package service

import (
	"context"
	"time"

	"SocialChat/data/database"
	usermodel "SocialChat/module/user/model"
	"SocialChat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// UserStore 用户集合的读写，只覆盖实时链路和消息接口用到的部分
type UserStore struct {
	db database.Provider
}

func NewUserStore(db database.Provider) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) coll() (*mongo.Collection, error) {
	return database.Coll(s.db, &usermodel.User{})
}

// ParseID 十六进制 ObjectID，非法时返回 404 语义的错误
func ParseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, errs.ErrUserNotFound.WrapMsg("invalid user id", "id", id)
	}
	return oid, nil
}

// TouchLastActive 写入 lastActive；用户不存在时不报错
func (s *UserStore) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	oid, err := ParseID(userID)
	if err != nil {
		return err
	}
	c, err := s.coll()
	if err != nil {
		return err
	}
	// $max：乱序到达的旧时间不会覆盖新时间
	_, err = c.UpdateByID(ctx, oid, bson.M{"$max": bson.M{"lastActive": at}})
	return errs.WrapMsg(err, "update lastActive", "userId", userID)
}

func (s *UserStore) LastActive(ctx context.Context, userID string) (*usermodel.LastActiveView, error) {
	oid, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	var out usermodel.LastActiveView
	err = c.FindOne(ctx, bson.M{"_id": oid},
		options.FindOne().SetProjection(bson.M{"lastActive": 1})).Decode(&out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.ErrUserNotFound.Wrap()
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find lastActive", "userId", userID)
	}
	return &out, nil
}

func (s *UserStore) FindProfile(ctx context.Context, userID string) (*usermodel.Profile, error) {
	oid, err := ParseID(userID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.FindProfiles(ctx, []primitive.ObjectID{oid})
	if err != nil {
		return nil, err
	}
	p, ok := profiles[oid]
	if !ok {
		return nil, errs.ErrUserNotFound.Wrap()
	}
	return &p, nil
}

// FindProfiles 批量取资料，用于群消息历史的发送者填充
func (s *UserStore) FindProfiles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]usermodel.Profile, error) {
	out := make(map[primitive.ObjectID]usermodel.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	c, err := s.coll()
	if err != nil {
		return nil, err
	}
	cur, err := c.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"fullName": 1, "profilePicture": 1}))
	if err != nil {
		return nil, errs.WrapMsg(err, "find profiles")
	}
	var list []usermodel.Profile
	if err := cur.All(ctx, &list); err != nil {
		return nil, errs.WrapMsg(err, "decode profiles")
	}
	for _, p := range list {
		out[p.ID] = p
	}
	return out, nil
}

// Exists 鉴权中间件用：token 里的用户必须仍然存在
func (s *UserStore) Exists(ctx context.Context, userID string) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}
	c, err := s.coll()
	if err != nil {
		return false, err
	}
	n, err := c.CountDocuments(ctx, bson.M{"_id": oid}, options.Count().SetLimit(1))
	if err != nil {
		return false, errs.WrapMsg(err, "count user", "userId", userID)
	}
	return n > 0, nil
}
