package broker

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
)

const DefaultSubjectPrefix = "gochat.events"

type natsConn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSRelay carries publishes between instances of the service. Publish sends
// the payload to NATS subject <prefix>.<topic>; every started relay receives
// it and hands it to its local Broker, including the publishing instance.
type NATSRelay struct {
	nc     natsConn
	prefix string
	local  *Broker
	log    *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATSRelay(nc *nats.Conn, prefix string, local *Broker, logger *slog.Logger) *NATSRelay {
	return newNATSRelay(nc, prefix, local, logger)
}

func newNATSRelay(nc natsConn, prefix string, local *Broker, logger *slog.Logger) *NATSRelay {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSRelay{
		nc:     nc,
		prefix: prefix,
		local:  local,
		log:    logger,
	}
}

func (r *NATSRelay) subject(topic string) string {
	return r.prefix + "." + topic
}

// Start subscribes to every topic under the relay's prefix.
func (r *NATSRelay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub != nil {
		return nil
	}

	sub, err := r.nc.Subscribe(r.prefix+".>", r.handle)
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	r.sub = sub
	r.log.Info("relaying events from nats", "subject", r.prefix+".>")
	return nil
}

func (r *NATSRelay) handle(msg *nats.Msg) {
	topic, ok := strings.CutPrefix(msg.Subject, r.prefix+".")
	if !ok || topic == "" {
		r.log.Warn("dropping nats message outside relay prefix", "subject", msg.Subject)
		return
	}

	r.local.Publish(topic, msg.Data)
}

func (r *NATSRelay) Publish(topic string, payload []byte) error {
	if err := r.nc.Publish(r.subject(topic), payload); err != nil {
		return fmt.Errorf("nats publish %q: %w", topic, err)
	}
	return nil
}

func (r *NATSRelay) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sub == nil {
		return nil
	}

	err := r.sub.Unsubscribe()
	r.sub = nil
	return err
}
