package mq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolWithoutBroker(t *testing.T) {
	dials := 0
	r := &rabbitMQImpl{
		logger:  zaptest.NewLogger(t),
		context: context.Background(),
		dial: func(string) (*amqp.Connection, error) {
			dials++
			return nil, errors.New("connection refused")
		},
	}

	_, err := r.getActiveConnection()
	assert.ErrorIs(t, err, ErrNoConnection)
	assert.Equal(t, ConnectionPoolSize, dials)
	assert.Nil(t, r.GetChannel())

	r.mu.Lock()
	require.Error(t, r.fill(3, true))
	r.mu.Unlock()
}

func TestActiveConnectionsSkipsClosed(t *testing.T) {
	r := &rabbitMQImpl{connections: []*MQConnection{{closed: true}, {}, {closed: true}}}
	assert.Len(t, r.activeConnections(), 1)
}
