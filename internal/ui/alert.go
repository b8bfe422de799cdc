package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alfredjeanlab/tablequeue/internal/model"
	"github.com/alfredjeanlab/tablequeue/internal/waitlist"
)

// TerminalAlerter rings the terminal bell once per pulse of a pattern and
// prints a one-line banner for the event.
type TerminalAlerter struct {
	mu    sync.Mutex
	w     io.Writer
	bell  bool
	sleep func(context.Context, time.Duration) bool
}

var _ waitlist.Alerter = (*TerminalAlerter)(nil)

// NewTerminalAlerter writes to w. The bell is only rung when bell is set,
// normally when w is a terminal.
func NewTerminalAlerter(w io.Writer, bell bool) *TerminalAlerter {
	return &TerminalAlerter{w: w, bell: bell, sleep: sleepCtx}
}

func (a *TerminalAlerter) Alert(ctx context.Context, p waitlist.Pattern, ev model.NotificationEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	fmt.Fprintln(a.w, Banner(ev))
	if !a.bell {
		return
	}
	for _, gap := range p.Gaps {
		if !a.sleep(ctx, gap) {
			return
		}
		_, _ = io.WriteString(a.w, "\a")
	}
}

// Banner is the one-line description shown for an event.
func Banner(ev model.NotificationEvent) string {
	switch p := ev.Payload.(type) {
	case model.TableReadyPayload:
		return RenderStatus("table_ready") + fmt.Sprintf(" %s: your table for %d is ready", ev.RestaurantName, p.PartySize)
	case model.SeatedPayload:
		return RenderStatus("seated") + " " + ev.RestaurantName + ": enjoy your meal"
	case model.RemovedPayload:
		return RenderStatus("removed") + " " + ev.RestaurantName + ": removed from the waitlist"
	case model.LeftPayload:
		return RenderStatus("left") + " " + ev.RestaurantName + ": you left the waitlist"
	case model.JoinedPayload:
		return RenderAccent("joined") + fmt.Sprintf(" %s: party of %d", ev.RestaurantName, p.PartySize)
	case model.GroupCreatedPayload:
		return RenderAccent("group") + " " + ev.RestaurantName + ": group order started"
	}
	return RenderMuted(string(ev.Type)) + " " + ev.RestaurantName
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
