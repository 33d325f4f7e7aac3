// Package mqtt publishes button notifications to an MQTT broker.
package mqtt

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/buttond/internal/button"
	"github.com/srg/buttond/internal/dispatch"
)

// DefaultPrefix is the topic root when none is configured.
const DefaultPrefix = "buttond"

// Publisher publishes raw messages.
type Publisher interface {
	// Publish returns an error if publishing fails; it must not crash the process.
	Publish(topic string, retained bool, payload []byte) error
	Close() error
}

// Observer maps notifications to topics:
//
//	<prefix>/<button>/event   interaction events
//	<prefix>/<button>/state   lifecycle and RSSI, retained
//	<prefix>/system           radio and registry notifications
type Observer struct {
	pub    Publisher
	prefix string
	logger *logrus.Logger
}

var _ dispatch.Observer = (*Observer)(nil)

// NewObserver creates an observer publishing through pub.
func NewObserver(pub Publisher, prefix string, logger *logrus.Logger) *Observer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Observer{pub: pub, prefix: prefix, logger: logger}
}

// Topic returns the topic n is published on and whether it is retained.
func (o *Observer) Topic(n button.Notification) (string, bool) {
	switch n.Kind {
	case button.Interaction:
		return fmt.Sprintf("%s/%s/event", o.prefix, n.ButtonID), false
	case button.DidConnect, button.IsReady, button.DidDisconnect, button.DidFailToConnect, button.DidUpdateRSSI:
		return fmt.Sprintf("%s/%s/state", o.prefix, n.ButtonID), true
	default:
		return o.prefix + "/system", false
	}
}

// Notify implements dispatch.Observer.
func (o *Observer) Notify(n button.Notification) {
	payload, err := dispatch.MarshalNotification(n)
	if err != nil {
		o.logger.WithFields(logrus.Fields{"kind": n.Kind, "error": err}).Warn("Failed to format MQTT payload")
		return
	}
	topic, retained := o.Topic(n)
	if err := o.pub.Publish(topic, retained, payload); err != nil {
		o.logger.WithFields(logrus.Fields{"topic": topic, "error": err}).Warn("Failed to publish notification")
	}
}
