package chat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type wireFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestClient(connID, userID string) *Client {
	return NewClient(connID, userID, nil, 16)
}

// drain 非阻塞读出已入队的帧
func drain(t *testing.T, c *Client) []wireFrame {
	t.Helper()
	var out []wireFrame
	for {
		select {
		case raw := <-c.Send:
			var f wireFrame
			require.NoError(t, json.Unmarshal(raw, &f))
			out = append(out, f)
		default:
			return out
		}
	}
}

func onlineUsers(t *testing.T, f wireFrame) []string {
	t.Helper()
	require.Equal(t, EventGetOnlineUsers, f.Event)
	var users []string
	require.NoError(t, json.Unmarshal(f.Data, &users))
	return users
}

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}
