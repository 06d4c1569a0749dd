// Package amqp implements buffer.Buffer on a durable RabbitMQ queue bound to
// the default exchange.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aevon-lab/event-aggregator/internal/buffer"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultPollInterval is how often Pop retries basic.get on an empty queue.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultDialTimeout bounds the TCP connect plus the AMQP handshake.
	DefaultDialTimeout = 5 * time.Second
)

var (
	errClosed = errors.New("amqp buffer closed")
	errNacked = errors.New("publish not confirmed by broker")
)

// session is one connection with a confirm-mode publishing channel and a
// separate channel for basic.get and queue inspection.
type session struct {
	conn    *amqp.Connection
	publish *amqp.Channel
	consume *amqp.Channel
}

func (s *session) alive() bool {
	return !s.conn.IsClosed() && !s.publish.IsClosed() && !s.consume.IsClosed()
}

func (s *session) close() error {
	var firstErr error
	for _, ch := range []*amqp.Channel{s.publish, s.consume} {
		if ch != nil && !ch.IsClosed() {
			if err := ch.Close(); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("failed to close channel: %w", err)
			}
		}
	}
	if !s.conn.IsClosed() {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return firstErr
}

// Queue is a RabbitMQ-backed transfer buffer. Pop polls with basic.get and
// auto-ack, which matches the single-consumer, no-claim design.
//
// mu only guards the current session; dialing happens outside it and
// concurrent callers share one reconnect attempt.
type Queue struct {
	url          string
	name         string
	dialTimeout  time.Duration
	pollInterval time.Duration

	mu     sync.Mutex
	sess   *session
	closed bool

	connectGroup singleflight.Group
}

// Dial connects to RabbitMQ and declares the durable queue.
func Dial(url, name string, dialTimeout time.Duration) (*Queue, error) {
	q := New(url, name, dialTimeout)
	if _, err := q.session(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// New returns a queue that connects on first use.
func New(url, name string, dialTimeout time.Duration) *Queue {
	if name == "" {
		name = buffer.DefaultQueue
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Queue{
		url:          url,
		name:         name,
		dialTimeout:  dialTimeout,
		pollInterval: DefaultPollInterval,
	}
}

// session returns a live session, reconnecting if the previous one dropped.
// Waiting for the reconnect stops when ctx is done.
func (q *Queue) session(ctx context.Context) (*session, error) {
	q.mu.Lock()
	closed, sess := q.closed, q.sess
	q.mu.Unlock()

	if closed {
		return nil, errClosed
	}
	if sess != nil && sess.alive() {
		return sess, nil
	}

	ch := q.connectGroup.DoChan("connect", func() (interface{}, error) {
		return q.reconnect()
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*session), nil
	}
}

func (q *Queue) reconnect() (*session, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, errClosed
	}
	if q.sess != nil && q.sess.alive() {
		sess := q.sess
		q.mu.Unlock()
		return sess, nil
	}
	stale := q.sess
	q.sess = nil
	q.mu.Unlock()

	if stale != nil {
		slog.Warn("[AMQP] Channel closed, reconnecting", "queue", q.name)
		stale.close() //nolint:errcheck
	}

	sess, err := q.dial()
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		sess.close() //nolint:errcheck
		return nil, errClosed
	}
	q.sess = sess
	return sess, nil
}

func (q *Queue) dial() (*session, error) {
	conn, err := amqp.DialConfig(q.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(q.dialTimeout),
		Properties: amqp.Table{
			"connection_name": "event-aggregator",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	sess := &session{conn: conn}
	if sess.publish, err = conn.Channel(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if err := sess.publish.Confirm(false); err != nil {
		sess.close() //nolint:errcheck
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if _, err := sess.publish.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // auto-delete
		false,  // exclusive
		false,  // no-wait
		nil,    // args
	); err != nil {
		sess.close() //nolint:errcheck
		return nil, fmt.Errorf("failed to declare queue %s: %w", q.name, err)
	}

	if sess.consume, err = conn.Channel(); err != nil {
		sess.close() //nolint:errcheck
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}

	slog.Info("[AMQP] Transfer buffer connected", "queue", q.name, "dial_timeout", q.dialTimeout)
	return sess, nil
}

func (q *Queue) Push(ctx context.Context, item []byte) error {
	return q.publishAll(ctx, [][]byte{item})
}

// PushBatch publishes items in order and waits for every broker confirm.
// It is not atomic: a failure part-way leaves earlier items queued.
func (q *Queue) PushBatch(ctx context.Context, items [][]byte) error {
	return q.publishAll(ctx, items)
}

func (q *Queue) publishAll(ctx context.Context, items [][]byte) error {
	sess, err := q.session(ctx)
	if err != nil {
		return err
	}

	confirms := make([]*amqp.DeferredConfirmation, 0, len(items))
	for i, item := range items {
		dc, err := sess.publish.PublishWithDeferredConfirmWithContext(ctx,
			"",     // default exchange
			q.name, // routing key
			false,  // mandatory
			false,  // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Body:         item,
			},
		)
		if err != nil {
			return fmt.Errorf("failed to publish item %d: %w", i, err)
		}
		confirms = append(confirms, dc)
	}

	for i, dc := range confirms {
		acked, err := dc.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("failed waiting for confirm of item %d: %w", i, err)
		}
		if !acked {
			return fmt.Errorf("item %d: %w", i, errNacked)
		}
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	for {
		body, ok, err := q.get(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			return body, nil
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, buffer.ErrEmpty
		}
		if wait > q.pollInterval {
			wait = q.pollInterval
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) get(ctx context.Context) ([]byte, bool, error) {
	sess, err := q.session(ctx)
	if err != nil {
		return nil, false, err
	}
	msg, ok, err := sess.consume.Get(q.name, true)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get message: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return msg.Body, true, nil
}

// Len returns the ready-message count reported by a passive declare.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	sess, err := q.session(ctx)
	if err != nil {
		return 0, err
	}
	state, err := sess.consume.QueueDeclarePassive(q.name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue %s: %w", q.name, err)
	}
	return int64(state.Messages), nil
}

func (q *Queue) Ping(ctx context.Context) error {
	_, err := q.session(ctx)
	return err
}

// Close closes the session. Later calls fail.
func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	sess := q.sess
	q.sess = nil
	q.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.close()
	}
	slog.Info("[AMQP] Transfer buffer closed", "queue", q.name)
	return err
}
