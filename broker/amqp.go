package broker

import (
	"context"

	extErrors "github.com/pkg/errors"
	"github.com/streadway/amqp"
)

var _ Broker = &AMQPBroker{}

const invalidationExchange string = "subscription_invalidation"

// AMQPBroker describes a message broker via RabbitMQ
type AMQPBroker struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPBroker returns a Message Broker over RabbitMQ
func NewAMQPBroker(amqpURI string) (*AMQPBroker, error) {
	amqpConn, err := amqp.Dial(amqpURI)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	amqpChan, err := amqpConn.Channel()
	if err != nil {
		amqpConn.Close()
		return nil, extErrors.Wrap(err, "Cannot create broker channel")
	}
	broker := &AMQPBroker{
		connection: amqpConn,
		channel:    amqpChan,
	}
	if err := broker.setupInvalidationExchange(); err != nil {
		broker.Close()
		return nil, extErrors.Wrap(err, "Cannot declare exchange for invalidations")
	}

	return broker, nil
}

func (a *AMQPBroker) setupInvalidationExchange() error {
	return a.channel.ExchangeDeclare(
		invalidationExchange, // name
		"fanout",             // type
		true,                 // durable
		false,                // auto-deleted
		false,                // internal
		false,                // no-wait
		nil,                  // arguments
	)
}

// Close will close the channel and connection to release resources
func (a *AMQPBroker) Close() {
	a.channel.Close()
	a.connection.Close()
}

// SendInvalidation publishes userID to every replica
func (a *AMQPBroker) SendInvalidation(ctx context.Context, userID string) error {
	protoBytes, err := encodeInvalidation(userID)
	if err != nil {
		return err
	}
	if err := a.channel.Publish(
		invalidationExchange,
		"",
		false,
		false,
		amqp.Publishing{
			ContentType: "application/x-protobuf",
			Body:        protoBytes,
		},
	); err != nil {
		return extErrors.Wrap(err, "Cannot publish invalidation")
	}
	return nil
}

// every replica gets its own exclusive queue, deleted when the replica disconnects
func (a *AMQPBroker) setupQueue() (string, error) {
	q, err := a.channel.QueueDeclare(
		"",    // name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return "", err
	}
	if err := a.channel.QueueBind(
		q.Name,
		"",
		invalidationExchange,
		false,
		nil,
	); err != nil {
		return "", err
	}
	return q.Name, nil
}

// ReceiveInvalidation consumes invalidations until ctx is done
func (a *AMQPBroker) ReceiveInvalidation(ctx context.Context) (<-chan string, error) {
	name, err := a.setupQueue()
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup queue")
	}
	msgChan, err := a.channel.Consume(
		name,
		"",
		false,
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup consumer")
	}
	rChan := make(chan string)
	go func() {
		defer close(rChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgChan:
				if !ok {
					return
				}
				userID, err := decodeInvalidation(d.Body)
				if err != nil {
					d.Nack(false, false)
					continue
				}
				select {
				case rChan <- userID:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()
	return rChan, nil
}
