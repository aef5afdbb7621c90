package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const ChatTableName = "chats"

type LastMessage struct {
	Message string             `bson:"message" json:"message"`
	Sender  primitive.ObjectID `bson:"sender" json:"sender"`
}

// Chat 单聊/群聊会话；单聊 participants 恰好两人
type Chat struct {
	ID           primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	Participants []primitive.ObjectID `bson:"participants" json:"participants"`
	LastMessage  LastMessage          `bson:"lastMessage" json:"lastMessage"`
	IsGroup      bool                 `bson:"isGroup" json:"isGroup"`
	GroupName    *string              `bson:"groupName" json:"groupName"`
	GroupPicture *string              `bson:"groupPicture" json:"groupPicture"`
	GroupAdmin   *string              `bson:"groupAdmin" json:"groupAdmin"`
	CreatedAt    time.Time            `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time            `bson:"updatedAt" json:"updatedAt"`
}

func (c *Chat) GetTableName() string {
	return ChatTableName
}

// HasParticipant 判断用户是否在会话内
func (c *Chat) HasParticipant(id primitive.ObjectID) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}
