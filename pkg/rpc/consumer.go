package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subscriber is the subscription part of *nats.Conn.
type Subscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// AgentSubjects returns the fanout subjects an agent listens on.
func AgentSubjects(subjectPrefix string) []string {
	return []string{
		Subject(subjectPrefix, TopicName(TopicAgent, TopicPort, OpUpdate)),
		Subject(subjectPrefix, TopicName(TopicAgent, TopicNetwork, OpDelete)),
		Subject(subjectPrefix, TopicName(TopicAgent, TopicPort, OpDelete)),
		Subject(subjectPrefix, TopicName(TopicAgent, TopicTunnel, OpUpdate)),
	}
}

// Consumer feeds notifications from the agent subjects into a Dispatcher.
type Consumer struct {
	subs []*nats.Subscription
	log  zerolog.Logger
}

// Consume subscribes to every agent subject. Handler errors are logged and
// never stop consumption.
func Consume(ctx context.Context, conn Subscriber, subjectPrefix string, d *Dispatcher, log zerolog.Logger) (*Consumer, error) {
	c := &Consumer{log: log}
	for _, subject := range AgentSubjects(subjectPrefix) {
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			if err := d.Dispatch(ctx, msg.Data); err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("failed to handle notification")
			}
		})
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
		log.Debug().Str("subject", subject).Msg("subscribed")
	}
	return c, nil
}

func (c *Consumer) Close() error {
	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	c.subs = nil
	return errors.Join(errs...)
}
