// Package broker fans subscription cache invalidations out to every replica.
package broker

import (
	"context"
	"fmt"
	"net/url"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Producer defines a producer sending invalidations via message broker
type Producer interface {
	Close()
	SendInvalidation(ctx context.Context, userID string) error
}

// Consumer defines a consumer receiving invalidations via message broker.
// The channel is closed when ctx is done or the connection goes away.
type Consumer interface {
	Close()
	ReceiveInvalidation(ctx context.Context) (<-chan string, error)
}

// Broker is both ends
type Broker interface {
	Producer
	Consumer
}

// New returns the Broker for uri: amqp:// or amqps:// for RabbitMQ, nats:// for NATS, empty for in-process delivery
func New(uri string) (Broker, error) {
	if len(uri) == 0 {
		return NewLocalBroker(), nil
	}
	u, err := url.Parse(uri)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot parse broker URI")
	}
	switch u.Scheme {
	case "amqp", "amqps":
		return NewAMQPBroker(uri)
	case "nats", "tls":
		return NewNATSBroker(uri)
	default:
		return nil, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}
}

func encodeInvalidation(userID string) ([]byte, error) {
	protoBytes, err := proto.Marshal(wrapperspb.String(userID))
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot encode message into bytes")
	}
	return protoBytes, nil
}

func decodeInvalidation(body []byte) (string, error) {
	var msg wrapperspb.StringValue
	if err := proto.Unmarshal(body, &msg); err != nil {
		return "", extErrors.Wrap(err, "Cannot decode message")
	}
	if len(msg.GetValue()) == 0 {
		return "", fmt.Errorf("empty user id in invalidation")
	}
	return msg.GetValue(), nil
}

// Listen calls handler for every invalidation received until ctx is done
func Listen(ctx context.Context, c Consumer, logger *zap.Logger, handler func(userID string)) error {
	ch, err := c.ReceiveInvalidation(ctx)
	if err != nil {
		return extErrors.Wrap(err, "Cannot receive invalidations")
	}
	go func() {
		for userID := range ch {
			logger.Debug("Received subscription invalidation",
				zap.String("UserID", userID),
			)
			handler(userID)
		}
		logger.Info("Invalidation listener stopped")
	}()
	return nil
}
