package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionManager holds the broker connection and transparently reconnects
// when it drops. Channel pools and consumers obtain connections through it.
type ConnectionManager struct {
	url            string
	conn           *amqp.Connection
	mu             sync.RWMutex
	reconnectDelay time.Duration
	maxRetries     int // -1 means retry forever
	logger         *slog.Logger
	notifyClose    chan *amqp.Error
	connected      bool
	done           chan struct{}
	closeOnce      sync.Once
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithConnectionLogger sets the logger
func WithConnectionLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithReconnectDelay sets the delay between reconnection attempts
func WithReconnectDelay(delay time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.reconnectDelay = delay
	}
}

// WithMaxReconnectAttempts caps reconnection attempts; negative retries forever
func WithMaxReconnectAttempts(attempts int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.maxRetries = attempts
	}
}

// NewConnectionManager creates a connection manager for the given AMQP URL
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:            url,
		reconnectDelay: 5 * time.Second,
		maxRetries:     -1,
		logger:         slog.Default(),
		done:           make(chan struct{}),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the initial connection and starts the reconnect watcher.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.connected {
		return nil
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	connChan := make(chan *amqp.Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := amqp.Dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		cm.adopt(conn)
		cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url))
		go cm.watchConnection()
		return nil

	case err := <-errChan:
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}

	case <-connCtx.Done():
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       ErrConnectionTimeout,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
}

// adopt installs a live connection. Caller must hold cm.mu.
func (cm *ConnectionManager) adopt(conn *amqp.Connection) {
	cm.conn = conn
	cm.connected = true
	cm.notifyClose = make(chan *amqp.Error, 1)
	cm.conn.NotifyClose(cm.notifyClose)
}

// watchConnection reconnects when the broker closes the connection.
func (cm *ConnectionManager) watchConnection() {
	for {
		cm.mu.RLock()
		notify := cm.notifyClose
		cm.mu.RUnlock()

		select {
		case <-cm.done:
			return
		case amqpErr, ok := <-notify:
			if !ok {
				return
			}
			cm.mu.Lock()
			cm.connected = false
			cm.mu.Unlock()

			cm.logger.Warn("broker connection lost", "error", amqpErr)

			if err := cm.reconnect(); err != nil {
				cm.logger.Error("giving up on reconnection", "error", err)
				return
			}
		}
	}
}

// reconnect retries dialing until it succeeds or the attempt cap is hit.
func (cm *ConnectionManager) reconnect() error {
	for attempt := 1; cm.maxRetries < 0 || attempt <= cm.maxRetries; attempt++ {
		select {
		case <-cm.done:
			return ErrConnectionClosed
		case <-time.After(cm.reconnectDelay):
		}

		cm.logger.Info("reconnecting to broker", "attempt", attempt)

		conn, err := amqp.Dial(cm.url)
		if err != nil {
			cm.logger.Warn("reconnection attempt failed", "attempt", attempt, "error", err)
			continue
		}

		cm.mu.Lock()
		cm.adopt(conn)
		cm.mu.Unlock()

		cm.logger.Info("reconnected to broker", "attempt", attempt)
		return nil
	}

	return &ConnectionError{
		Op:        "reconnect",
		URL:       SanitizeURL(cm.url),
		Err:       ErrConnectionClosed,
		Timestamp: time.Now(),
		Attempts:  cm.maxRetries,
	}
}

// GetConnection returns the live connection or ErrNotConnected.
func (cm *ConnectionManager) GetConnection() (*amqp.Connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.connected || cm.conn == nil || cm.conn.IsClosed() {
		return nil, ErrNotConnected
	}
	return cm.conn, nil
}

// IsConnected reports whether the connection is currently up.
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.connected && cm.conn != nil && !cm.conn.IsClosed()
}

// Close shuts the connection down and stops the reconnect watcher.
func (cm *ConnectionManager) Close() error {
	var err error
	cm.closeOnce.Do(func() {
		close(cm.done)

		cm.mu.Lock()
		defer cm.mu.Unlock()
		cm.connected = false
		if cm.conn != nil && !cm.conn.IsClosed() {
			err = cm.conn.Close()
		}
	})
	return err
}
