package database

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrNotReady = errors.New("mongo not ready")

type Table interface {
	GetTableName() string
}

// Provider 每次访问时取当前连接，重连后自动生效
type Provider interface {
	TryGetDB() (*mongo.Database, bool)
}

// Static 固定库句柄的 Provider
type Static struct{ DB *mongo.Database }

func (s Static) TryGetDB() (*mongo.Database, bool) { return s.DB, s.DB != nil }

// Coll 返回文档对应的集合
func Coll(p Provider, t Table) (*mongo.Collection, error) {
	db, ok := p.TryGetDB()
	if !ok {
		return nil, errors.WithStack(ErrNotReady)
	}
	return db.Collection(t.GetTableName()), nil
}
