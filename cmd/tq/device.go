package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/tablequeue/internal/client"
	"github.com/alfredjeanlab/tablequeue/internal/events"
	"github.com/alfredjeanlab/tablequeue/internal/feed"
	"github.com/alfredjeanlab/tablequeue/internal/geo"
	"github.com/alfredjeanlab/tablequeue/internal/guest"
	"github.com/alfredjeanlab/tablequeue/internal/kv"
	"github.com/alfredjeanlab/tablequeue/internal/ui"
)

// device is a guest engine wired to the server named in the profile.
type device struct {
	engine *guest.Engine
	client *client.HTTPClient
	sub    events.Subscriber
	closeK func() error

	// returned receives an entry id once its seated screen has timed out.
	returned chan string
}

// deviceID identifies this install on position reads.
func deviceID() string {
	if id := os.Getenv("TQ_DEVICE_ID"); id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func requireUser() (string, error) {
	if profile.UserID == "" {
		return "", fmt.Errorf("no user id: run `tq profile set --user <id>` or pass --user")
	}
	return profile.UserID, nil
}

// openDevice builds the engine. A live device follows the change feed over
// NATS when the profile names a NATS URL and the server's SSE stream
// otherwise; one-shot commands get no feed.
func openDevice(ctx context.Context, live bool, onView feed.ViewSink) (*device, error) {
	c := client.NewHTTPClient(profile.ServerURL,
		client.WithToken(profile.Token),
		client.WithDeviceID(deviceID()),
	)

	var store kv.Store
	closeK := func() error { return nil }
	if profile.RedisURL != "" {
		rc, err := kv.DialRedis(ctx, profile.RedisURL)
		if err != nil {
			return nil, err
		}
		store = kv.NewRedisStore(rc, "tq:device:")
		closeK = rc.Close
	} else {
		fs, err := kv.NewFileStore(profile.StateDir)
		if err != nil {
			return nil, err
		}
		store = fs
	}

	d := &device{client: c, closeK: closeK, returned: make(chan string, 8)}
	// The transport may reconnect before the engine exists.
	var current atomic.Pointer[guest.Engine]
	reconnected := func() {
		if eng := current.Load(); eng != nil {
			eng.Reconnected()
		}
	}

	switch {
	case !live:
		d.sub = &events.NoopSubscriber{}
	case profile.NATSURL != "":
		sub, err := events.NewNATSSubscriber(profile.NATSURL,
			nats.ReconnectHandler(func(*nats.Conn) { reconnected() }),
		)
		if err != nil {
			closeK()
			return nil, err
		}
		d.sub = sub
	default:
		d.sub = client.NewStreamSubscriber(c, client.StreamOptions{
			OnReconnect: reconnected,
			Logger:      logger,
		})
	}

	pol := profile.Policy
	d.engine = guest.New(guest.Config{
		Store:             c,
		Subscriber:        d.sub,
		KV:                store,
		Alerter:           ui.NewTerminalAlerter(os.Stdout, ui.IsTerminal(os.Stdout)),
		ResyncInterval:    pol.ResyncInterval.Duration,
		SeatedReturnDelay: pol.SeatedReturnDelay.Duration,
		Nearby: geo.Options{
			MaxRadiusMiles:     pol.NearbyMaxRadiusMiles,
			ClusterRadiusMiles: pol.NearbyClusterRadiusMiles,
			MaxClusters:        pol.NearbyMaxClusters,
		},
		OnView:   onView,
		OnReturn: func(entryID string) {
			select {
			case d.returned <- entryID:
			default:
			}
		},
		Logger: logger,
	})
	current.Store(d.engine)
	return d, nil
}

func (d *device) Close() {
	d.engine.Close()
	d.sub.Close()
	d.client.Close()
	d.closeK()
}
