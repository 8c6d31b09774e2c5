package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS publishes messages on <prefix>.<project>.<scene>.<kind>, so observers
// can subscribe to one scene with <prefix>.<project>.<scene>.> .
type NATS struct {
	conn   *nats.Conn
	prefix string
}

func NewNATS(url, prefix string, opts ...nats.Option) (*NATS, error) {
	defaults := []nats.Option{
		nats.Name("scenecraft"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	if prefix == "" {
		prefix = "scenecraft"
	}
	return &NATS{conn: nc, prefix: prefix}, nil
}

func Subject(prefix string, msg Message) string {
	return strings.Join([]string{prefix, token(msg.ProjectID), token(msg.SceneID), string(msg.Kind)}, ".")
}

func (n *NATS) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return n.conn.Publish(Subject(n.prefix, msg), data)
}

// Flush waits until the server has seen every published message.
func (n *NATS) Flush() error {
	return n.conn.Flush()
}

func (n *NATS) Close() error {
	return n.conn.Drain()
}

// token keeps an identifier to a single subject token.
func token(v string) string {
	if v == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, v)
}
