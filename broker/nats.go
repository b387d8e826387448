package broker

import (
	"context"

	"github.com/nats-io/nats.go"
	extErrors "github.com/pkg/errors"
)

var _ Broker = &NATSBroker{}

const invalidationSubject string = "testero.subscription.invalidate"

// NATSBroker describes a message broker via NATS core pub/sub
type NATSBroker struct {
	conn *nats.Conn
}

// NewNATSBroker returns a Message Broker over NATS
func NewNATSBroker(natsURI string) (*NATSBroker, error) {
	conn, err := nats.Connect(natsURI,
		nats.Name("entitlement"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot connect to Message Broker")
	}
	return &NATSBroker{
		conn: conn,
	}, nil
}

// Close drains pending messages and closes the connection
func (n *NATSBroker) Close() {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}

// SendInvalidation publishes userID to every replica
func (n *NATSBroker) SendInvalidation(ctx context.Context, userID string) error {
	protoBytes, err := encodeInvalidation(userID)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(invalidationSubject, protoBytes); err != nil {
		return extErrors.Wrap(err, "Cannot publish invalidation")
	}
	return nil
}

// ReceiveInvalidation subscribes until ctx is done
func (n *NATSBroker) ReceiveInvalidation(ctx context.Context) (<-chan string, error) {
	msgChan := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanSubscribe(invalidationSubject, msgChan)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot setup subscription")
	}
	rChan := make(chan string)
	go func() {
		defer close(rChan)
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-msgChan:
				userID, err := decodeInvalidation(m.Data)
				if err != nil {
					continue
				}
				select {
				case rChan <- userID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return rChan, nil
}
