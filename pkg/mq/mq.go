package mq

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"b3wasmfuzz/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const ConnectionPoolSize = 10

var ErrNoConnection = errors.New("no active RabbitMQ connections")

// RabbitMQ hands out channels from a pool of connections. Callers close the
// channels they get.
type RabbitMQ interface {
	GetChannel() *amqp.Channel
}

type dialFunc func(url string) (*amqp.Connection, error)

type rabbitMQImpl struct {
	logger      *zap.Logger
	rabbitmqUrl string
	context     context.Context
	dial        dialFunc
	connections []*MQConnection
	mu          sync.Mutex
}

type MQConnection struct {
	conn      *amqp.Connection
	closeChan chan *amqp.Error
	logger    *zap.Logger

	closed bool
	mu     sync.Mutex
}

type RabbitMQParams struct {
	fx.In

	Config    *config.AppConfig
	Logger    *zap.Logger
	Lifecycle fx.Lifecycle
}

func NewRabbitMQ(p RabbitMQParams) RabbitMQ {
	mqCtx, cancel := context.WithCancel(context.Background())

	svc := &rabbitMQImpl{
		logger:      p.Logger.Named("mq"),
		rabbitmqUrl: p.Config.RabbitMQURL,
		context:     mqCtx,
		dial:        amqp.Dial,
		connections: make([]*MQConnection, 0, ConnectionPoolSize),
	}

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			svc.logger.Debug("Initializing RabbitMQ connection pool", zap.Int("pool_size", ConnectionPoolSize))
			svc.mu.Lock()
			defer svc.mu.Unlock()
			return svc.fill(ConnectionPoolSize, true)
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			return nil
		},
	})
	return svc
}

// fill dials n new connections. With strict set the first failure aborts;
// otherwise failures are logged and skipped. r.mu must be held.
func (r *rabbitMQImpl) fill(n int, strict bool) error {
	for range n {
		mConn, err := r.newMQConnection()
		if err != nil {
			r.logger.Error("Failed to create RabbitMQ connection", zap.Error(err))
			if strict {
				return err
			}
			continue
		}
		r.connections = append(r.connections, mConn)
	}
	return nil
}

func (r *rabbitMQImpl) activeConnections() []*MQConnection {
	active := make([]*MQConnection, 0, len(r.connections))
	for _, c := range r.connections {
		c.mu.Lock()
		if !c.closed {
			active = append(active, c)
		}
		c.mu.Unlock()
	}
	return active
}

func (r *rabbitMQImpl) getActiveConnection() (*MQConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections = r.activeConnections()
	if needed := ConnectionPoolSize - len(r.connections); needed > 0 {
		r.logger.Debug("Refilling RabbitMQ connection pool", zap.Int("needed", needed))
		r.fill(needed, false)
	}

	if len(r.connections) == 0 {
		r.logger.Error("No active RabbitMQ connections available")
		return nil, ErrNoConnection
	}
	return r.connections[rand.Intn(len(r.connections))], nil
}

func (r *rabbitMQImpl) newMQConnection() (*MQConnection, error) {
	conn, err := r.dial(r.rabbitmqUrl)
	if err != nil {
		return nil, err
	}

	mConn := &MQConnection{
		conn:      conn,
		closeChan: make(chan *amqp.Error, 1),
		logger:    r.logger,
	}
	go mConn.monitor(r.context)
	return mConn, nil
}

// monitor marks the connection closed when the broker drops it and closes
// it when ctx is done. It blocks.
func (c *MQConnection) monitor(ctx context.Context) {
	c.conn.NotifyClose(c.closeChan)

	select {
	case err := <-c.closeChan:
		c.logger.Error("RabbitMQ connection closed", zap.Error(err))
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	case <-ctx.Done():
	}

	c.conn.Close()
}

func (r *rabbitMQImpl) GetChannel() *amqp.Channel {
	conn, err := r.getActiveConnection()
	if err != nil {
		r.logger.Error("Failed to get RabbitMQ channel", zap.Error(err))
		return nil
	}

	ch, err := conn.conn.Channel()
	if err != nil {
		r.logger.Error("Failed to create RabbitMQ channel", zap.Error(err))
		return nil
	}
	return ch
}
