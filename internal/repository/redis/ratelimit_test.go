package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectWindow(mock redismock.ClientMock, l *SlidingWindowLimiter, key string) *redismock.ExpectedCmd {
	return mock.CustomMatch(func(_, actual []interface{}) error {
		if actual[3] != key {
			return fmt.Errorf("unexpected key %v", actual[3])
		}
		if actual[5] != l.window.Milliseconds() || actual[6] != l.limit {
			return fmt.Errorf("unexpected window args %v", actual[4:])
		}
		if m, _ := actual[7].(string); len(m) != 24 {
			return fmt.Errorf("unexpected member %v", actual[7])
		}
		return nil
	}).ExpectEvalSha(l.script.Hash(), []string{key}, nil, nil, nil, nil)
}

func TestSlidingWindowLimiter_Allow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewSlidingWindowLimiter(db, "register", 10, time.Minute)
	key := KeyRateLimit("register", "ip:10.0.0.1")

	expectWindow(mock, l, key).SetVal([]interface{}{int64(1), int64(3), int64(0)})

	d, err := l.Allow(context.Background(), "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(3), d.Current)
	assert.Zero(t, d.RetryAfter)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlidingWindowLimiter_OverLimit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewSlidingWindowLimiter(db, "register", 10, time.Minute)
	key := KeyRateLimit("register", "ip:10.0.0.1")

	expectWindow(mock, l, key).SetVal([]interface{}{int64(0), int64(11), int64(1500)})

	d, err := l.Allow(context.Background(), "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, int64(11), d.Current)
	assert.Equal(t, 1500*time.Millisecond, d.RetryAfter)
}

func TestSlidingWindowLimiter_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	l := NewSlidingWindowLimiter(db, "register", 10, time.Minute)
	key := KeyRateLimit("register", "x")

	expectWindow(mock, l, key).SetErr(errors.New("down"))
	_, err := l.Allow(context.Background(), "x")
	assert.Error(t, err)

	expectWindow(mock, l, key).SetVal([]interface{}{int64(1)})
	_, err = l.Allow(context.Background(), "x")
	assert.ErrorContains(t, err, "bad script result")
}

func TestToInt(t *testing.T) {
	assert.Equal(t, int64(4), toInt(int64(4)))
	assert.Equal(t, int64(4), toInt(4))
	assert.Equal(t, int64(4), toInt(4.0))
	assert.Equal(t, int64(4), toInt("4"))
	assert.Equal(t, int64(0), toInt(nil))
}
