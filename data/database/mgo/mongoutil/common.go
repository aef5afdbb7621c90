package mongoutil

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// 与 global/config 中 MONGO_* 的默认值保持一致
const (
	defaultMaxPoolSize = 50
	defaultMaxRetry    = 3
	defaultAuthSource  = "admin"

	// 单次 NewMongoDB 内的短重试；长时间不可用由 service/mgo 的重连循环负责
	retryStep = 250 * time.Millisecond
	retryCap  = time.Second
)

// 认证类错误重试没有意义：13 Unauthorized，18 AuthenticationFailed
var nonRetryableCodes = map[int32]struct{}{13: {}, 18: {}}

// buildMongoURI 账号密码需要转义，否则密码里的 @ : / 会破坏 URI
func buildMongoURI(cfg *Config) string {
	u := url.URL{
		Scheme: "mongodb",
		Host:   strings.Join(cfg.Address, ","),
		Path:   "/" + cfg.Database,
	}
	q := url.Values{}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
		q.Set("authSource", cfg.AuthSource)
	}
	q.Set("maxPoolSize", strconv.Itoa(cfg.MaxPoolSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// shouldRetry ctx 已结束、客户端已断开、认证失败都不再重试
func shouldRetry(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		_, stop := nonRetryableCodes[cmdErr.Code]
		return !stop
	}
	return true
}

// retryDelay 线性增长，封顶 retryCap
func retryDelay(attempt int) time.Duration {
	d := retryStep * time.Duration(attempt+1)
	if d > retryCap {
		return retryCap
	}
	return d
}

// sleepCtx ctx 结束时提前返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
