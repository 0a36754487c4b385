package trigger

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/flowmesh/flowmesh/internal/flow"
)

// RabbitMQHandler consumes a queue and runs the flow once per message.
// Messages are acked only after a successful run; failures are nacked with
// requeue so the broker redelivers.
//
// trigger config:
//
//	url_amqp: broker URL (required)
//	queue:    queue name (required)
type RabbitMQHandler struct {
	proc   *flow.Process
	runner Runner
	url    string
	queue  string
	log    *logrus.Entry

	conn    *amqp.Connection
	channel *amqp.Channel
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRabbitMQHandler validates the broker config at deploy time; the
// connection is only dialed in Start.
func NewRabbitMQHandler(proc *flow.Process, runner Runner) (*RabbitMQHandler, error) {
	url, _ := proc.Trigger.Config["url_amqp"].(string)
	if url == "" {
		return nil, fmt.Errorf("trigger: rabbitmq trigger of %q needs config field 'url_amqp'", proc.Definition.ID)
	}
	queue, _ := proc.Trigger.Config["queue"].(string)
	if queue == "" {
		return nil, fmt.Errorf("trigger: rabbitmq trigger of %q needs config field 'queue'", proc.Definition.ID)
	}
	return &RabbitMQHandler{
		proc:   proc,
		runner: runner,
		url:    url,
		queue:  queue,
		log: logrus.WithFields(logrus.Fields{
			"component": "triggers",
			"trigger":   "rabbitmq",
			"process":   proc.Definition.ID,
			"queue":     queue,
		}),
	}, nil
}

func (h *RabbitMQHandler) Type() string { return "rabbitmq" }

func (h *RabbitMQHandler) Start() error {
	conn, err := amqp.Dial(h.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(h.queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare queue %q: %w", h.queue, err)
	}

	deliveries, err := channel.Consume(h.queue, "", false, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("consume %q: %w", h.queue, err)
	}

	h.conn = conn
	h.channel = channel
	h.done = make(chan struct{})
	h.wg.Add(1)
	go h.consume(deliveries)

	h.log.Info("rabbitmq trigger started")
	return nil
}

func (h *RabbitMQHandler) Stop() error {
	if h.conn == nil {
		return nil
	}
	close(h.done)
	// closing the channel ends the deliveries range in consume
	h.channel.Close()
	h.conn.Close()
	h.wg.Wait()
	h.conn = nil
	return nil
}

func (h *RabbitMQHandler) consume(deliveries <-chan amqp.Delivery) {
	defer h.wg.Done()
	for delivery := range deliveries {
		select {
		case <-h.done:
			_ = delivery.Nack(false, true)
			return
		default:
		}
		h.handle(delivery)
	}
}

func (h *RabbitMQHandler) handle(delivery amqp.Delivery) {
	headers := map[string]interface{}{}
	for name, value := range delivery.Headers {
		headers[name] = value
	}

	data := map[string]interface{}{
		"payload": string(delivery.Body),
		"properties": map[string]interface{}{
			"delivery_mode": int(delivery.DeliveryMode),
			"headers":       headers,
		},
	}

	if _, err := h.runner.Execute(context.Background(), h.proc, data); err != nil {
		h.log.WithError(err).Warn("message run failed, requeueing")
		if err := delivery.Nack(false, true); err != nil {
			h.log.WithError(err).Warn("nack failed")
		}
		return
	}
	if err := delivery.Ack(false); err != nil {
		h.log.WithError(err).Warn("ack failed")
	}
}
