package model

import (
	"time"

	usermodel "SocialChat/module/user/model"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const MessageTableName = "messages"

type Message struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	ChatID    primitive.ObjectID `bson:"chatId" json:"chatId"`
	Sender    primitive.ObjectID `bson:"sender" json:"sender"`
	Message   string             `bson:"message" json:"message"`
	Image     string             `bson:"image" json:"image"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

func (m *Message) GetTableName() string {
	return MessageTableName
}

// WithSender 群消息下发/查询时把发送者资料填充进去
func (m *Message) WithSender(p usermodel.Profile) *PopulatedMessage {
	return &PopulatedMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Sender:    p,
		Message:   m.Message,
		Image:     m.Image,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

type PopulatedMessage struct {
	ID        primitive.ObjectID `bson:"_id" json:"_id"`
	ChatID    primitive.ObjectID `bson:"chatId" json:"chatId"`
	Sender    usermodel.Profile  `bson:"sender" json:"sender"`
	Message   string             `bson:"message" json:"message"`
	Image     string             `bson:"image" json:"image"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// ImageRef /images/sent 只返回图片地址
type ImageRef struct {
	ID    primitive.ObjectID `bson:"_id" json:"_id"`
	Image string             `bson:"image" json:"image"`
}
