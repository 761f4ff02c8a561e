package bus

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	SubjectJobCreated       = "ktqueue.events.job.created"
	SubjectJobStopped       = "ktqueue.events.job.stopped"
	SubjectJobStatusChanged = "ktqueue.events.job.status_changed"
	SubjectUserLoggedIn     = "ktqueue.events.user.logged_in"
)

// Connect creates a NATS connection that keeps reconnecting in the background.
func Connect(url string, logger zerolog.Logger) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("ktqueue"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
}

// Publisher is the subset of *nats.Conn the services publish through.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NopPublisher drops every message. It stands in when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishMsg(*nats.Msg) error { return nil }

// Check reports broker connectivity to the readiness endpoint.
type Check struct {
	Conn *nats.Conn
}

func (c Check) Name() string { return "nats" }

func (c Check) Check(context.Context) error {
	if c.Conn == nil || !c.Conn.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}
