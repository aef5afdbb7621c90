package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const UserTableName = "users"

// User 与既有 users 集合的文档结构一致（camelCase 字段名）
type User struct {
	ID             primitive.ObjectID   `bson:"_id,omitempty" json:"_id"`
	FullName       string               `bson:"fullName" json:"fullName"`
	Username       string               `bson:"username" json:"username"`
	Email          string               `bson:"email" json:"email"`
	Password       string               `bson:"password" json:"-"`
	ProfilePicture string               `bson:"profilePicture" json:"profilePicture"`
	Bio            string               `bson:"bio" json:"bio"`
	LastActive     time.Time            `bson:"lastActive" json:"lastActive"`
	Friends        []primitive.ObjectID `bson:"friends" json:"friends"`
	FriendRequests []primitive.ObjectID `bson:"friendRequests" json:"friendRequests"`
}

func (u *User) GetTableName() string {
	return UserTableName
}

// Profile 消息里冗余的发送者资料
type Profile struct {
	ID             primitive.ObjectID `bson:"_id" json:"_id"`
	FullName       string             `bson:"fullName" json:"fullName"`
	ProfilePicture string             `bson:"profilePicture" json:"profilePicture"`
}

// LastActiveView GET /last-active/:id 的返回
type LastActiveView struct {
	ID         primitive.ObjectID `bson:"_id" json:"_id"`
	LastActive time.Time          `bson:"lastActive" json:"lastActive"`
}
