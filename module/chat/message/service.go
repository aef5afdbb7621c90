package message

import (
	"context"

	"SocialChat/logger"
	chatmodel "SocialChat/module/chat/model"
	usermodel "SocialChat/module/user/model"
	usersvc "SocialChat/module/user/service"
	chatsvc "SocialChat/service/chat"
	"SocialChat/tools/errs"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Profiles 发送者资料来源
type Profiles interface {
	FindProfile(ctx context.Context, userID string) (*usermodel.Profile, error)
	FindProfiles(ctx context.Context, ids []primitive.ObjectID) (map[primitive.ObjectID]usermodel.Profile, error)
}

// Deliverer 实时投递，落库成功后每条消息恰好调用一次
type Deliverer interface {
	Deliver(payload any, target chatsvc.Target) int
}

// Publisher 消息落库后的对外事件（可选）
type Publisher interface {
	PublishMessage(ctx context.Context, target chatsvc.Target, payload any) error
}

type SendInput struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

func (in SendInput) empty() bool { return in.Message == "" && in.Image == "" }

func (in SendInput) last(sender primitive.ObjectID) chatmodel.LastMessage {
	return chatmodel.LastMessage{Message: in.Message, Sender: sender}
}

type Service struct {
	store Store
	users Profiles
	out   Deliverer
	pub   Publisher
	log   *zap.Logger
}

func NewService(store Store, users Profiles, out Deliverer, pub Publisher) *Service {
	return &Service{store: store, users: users, out: out, pub: pub, log: logger.L()}
}

// SendDirect 找到或创建单聊会话，落库后推给接收者当前的连接
func (s *Service) SendDirect(ctx context.Context, senderID, receiverID string, in SendInput) (*chatmodel.Message, error) {
	sender, err := usersvc.ParseID(senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := primitive.ObjectIDFromHex(receiverID)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg("invalid receiverId", "receiverId", receiverID)
	}
	// 先校验再建会话，空消息不会留下空会话
	if in.empty() {
		return nil, errs.ErrEmptyMessage.Wrap()
	}

	chat, err := s.store.FindOrCreateDirectChat(ctx, sender, receiver, in.last(sender))
	if err != nil {
		return nil, err
	}
	m := &chatmodel.Message{ChatID: chat.ID, Sender: sender, Message: in.Message, Image: in.Image}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	s.touchLast(ctx, chat.ID, in.last(sender))

	s.dispatch(ctx, m, chatsvc.DirectUser{UserID: receiver.Hex()})
	return m, nil
}

// SendGroup 只有群成员可以发言，推送前填充发送者资料
func (s *Service) SendGroup(ctx context.Context, senderID, chatID string, in SendInput) (*chatmodel.PopulatedMessage, error) {
	profile, err := s.users.FindProfile(ctx, senderID)
	if errors.Is(err, errs.ErrUserNotFound) {
		return nil, errs.ErrNoSender.Wrap()
	}
	if err != nil {
		return nil, err
	}
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(profile.ID) {
		return nil, errs.ErrNotMember.Wrap()
	}
	if in.empty() {
		return nil, errs.ErrEmptyMessage.Wrap()
	}

	m := &chatmodel.Message{ChatID: chat.ID, Sender: profile.ID, Message: in.Message, Image: in.Image}
	if err := s.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}
	s.touchLast(ctx, chat.ID, in.last(profile.ID))

	pm := m.WithSender(*profile)
	s.dispatch(ctx, pm, chatsvc.Room{RoomID: chat.ID.Hex()})
	return pm, nil
}

// DirectHistory 与 otherID 的单聊记录，按时间正序
func (s *Service) DirectHistory(ctx context.Context, userID, otherID string) ([]chatmodel.Message, error) {
	me, err := usersvc.ParseID(userID)
	if err != nil {
		return nil, err
	}
	other, err := primitive.ObjectIDFromHex(otherID)
	if err != nil {
		return nil, errs.ErrChatNotFound.WrapMsg("invalid user id", "id", otherID)
	}
	chat, err := s.store.FindDirectChat(ctx, me, other)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errs.ErrChatNotFound.Wrap()
	}
	return s.store.ListByChat(ctx, chat.ID)
}

// GroupHistory 群聊记录，发送者资料批量填充
func (s *Service) GroupHistory(ctx context.Context, userID, chatID string) ([]*chatmodel.PopulatedMessage, error) {
	me, err := usersvc.ParseID(userID)
	if err != nil {
		return nil, err
	}
	chat, err := s.group(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !chat.HasParticipant(me) {
		return nil, errs.ErrNotMember.Wrap()
	}
	list, err := s.store.ListByChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	seen := make(map[primitive.ObjectID]struct{})
	ids := make([]primitive.ObjectID, 0)
	for _, m := range list {
		if _, ok := seen[m.Sender]; !ok {
			seen[m.Sender] = struct{}{}
			ids = append(ids, m.Sender)
		}
	}
	profiles, err := s.users.FindProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*chatmodel.PopulatedMessage, 0, len(list))
	for i := range list {
		p, ok := profiles[list[i].Sender]
		if !ok {
			// 发送者已注销
			p = usermodel.Profile{ID: list[i].Sender}
		}
		out = append(out, list[i].WithSender(p))
	}
	return out, nil
}

func (s *Service) ImagesSent(ctx context.Context, userID string) ([]chatmodel.ImageRef, error) {
	me, err := usersvc.ParseID(userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListImagesBySender(ctx, me)
}

func (s *Service) group(ctx context.Context, chatID string) (*chatmodel.Chat, error) {
	oid, err := primitive.ObjectIDFromHex(chatID)
	if err != nil {
		return nil, errs.ErrNoGroupChat.WrapMsg("invalid chat id", "chatId", chatID)
	}
	chat, err := s.store.FindChat(ctx, oid)
	if err != nil {
		return nil, err
	}
	if chat == nil || !chat.IsGroup {
		return nil, errs.ErrNoGroupChat.Wrap()
	}
	return chat, nil
}

// touchLast 消息已经落库，lastMessage 写失败只影响会话列表预览
func (s *Service) touchLast(ctx context.Context, chatID primitive.ObjectID, last chatmodel.LastMessage) {
	if err := s.store.SetLastMessage(ctx, chatID, last); err != nil {
		s.log.Warn("[message] update lastMessage failed", zap.String("chatId", chatID.Hex()), zap.Error(err))
	}
}

func (s *Service) dispatch(ctx context.Context, payload any, target chatsvc.Target) {
	n := s.out.Deliver(payload, target)
	s.log.Debug("[message] dispatched", zap.Stringer("target", target), zap.Int("pushes", n))
	if s.pub == nil {
		return
	}
	if err := s.pub.PublishMessage(ctx, target, payload); err != nil {
		s.log.Warn("[message] publish failed", zap.Stringer("target", target), zap.Error(err))
	}
}
