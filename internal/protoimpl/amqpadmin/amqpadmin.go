// Package amqpadmin turns the teacher's RabbitMQ-RPC transport into an
// administrative task source for C7 (SPEC_FULL.md §3 DOMAIN STACK): it
// consumes a topic of operator commands and translates each into a
// broadcast on the coordinator, the "CLI, on-disk files... out of
// scope" boundary of spec §6 pushed one level out rather than
// reimplemented inside the core.
package amqpadmin

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lordbasex/routingcore/internal/coordinator"
	"github.com/lordbasex/routingcore/internal/logx"
	"github.com/lordbasex/routingcore/internal/worker"
)

// Command is the wire shape of one administrative request, decoded from
// a queue message body as JSON (teacher grounding: server/server.go's
// RPCRequest/json.Unmarshal pattern).
type Command struct {
	// Op is one of "invalidate_cache", "shutdown". Unknown ops are
	// logged and dropped rather than erroring the consumer loop.
	Op string `json:"op"`
}

// Listener consumes administrative Commands from a RabbitMQ queue and
// applies them to a Coordinator.
type Listener struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	coord *coordinator.Coordinator
}

// Dial connects to amqpURL, declares queueName (non-durable, not
// auto-delete, not exclusive), and returns
// a Listener ready to Run.
func Dial(amqpURL, queueName string, coord *coordinator.Coordinator) (*Listener, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("amqpadmin: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqpadmin: channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, false, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqpadmin: queue declare %q: %w", queueName, err)
	}
	return &Listener{conn: conn, ch: ch, queue: queueName, coord: coord}, nil
}

// Run consumes Commands until ctx is cancelled. Each decoded command is
// translated to the matching Coordinator action and run as a broadcast
// task (spec §4.7) — never executed inline on the consumer goroutine,
// since only a worker's own thread may touch that worker's state.
func (l *Listener) Run(ctx context.Context) error {
	msgs, err := l.ch.Consume(l.queue, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqpadmin: consume %q: %w", l.queue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			l.dispatch(msg.Body)
		}
	}
}

func (l *Listener) dispatch(body []byte) {
	var cmd Command
	if err := json.Unmarshal(body, &cmd); err != nil {
		logx.Logger.Warn().Err(err).Msg("amqpadmin: malformed command")
		return
	}
	switch cmd.Op {
	case "invalidate_cache":
		l.coord.Broadcast(func(w *worker.Worker) { w.Cache.Reset() })
	case "shutdown":
		l.coord.Shutdown(0)
	default:
		logx.Logger.Warn().Str("op", cmd.Op).Msg("amqpadmin: unknown command")
	}
}

// Close tears down the channel and connection.
func (l *Listener) Close() error {
	l.ch.Close()
	return l.conn.Close()
}
