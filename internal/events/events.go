package events

import (
	"context"
	"errors"
	"time"

	"lv-riskengine/internal/marketdata"

	"github.com/google/uuid"
)

const (
	TypePositionClosed = "position_closed"
	TypeOrderFilled    = "order_filled"
	TypeStopOut        = "stop_out"
)

type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	AccountID string    `json:"account_id"`
	Payload   any       `json:"payload"`
	At        time.Time `json:"at"`
}

func New(typ, accountID string, payload any, at time.Time) Event {
	if at.IsZero() {
		at = time.Now()
	}
	return Event{ID: uuid.NewString(), Type: typ, AccountID: accountID, Payload: payload, At: at.UTC()}
}

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// BusPublisher forwards events to the in-process bus for websocket subscribers.
type BusPublisher struct {
	bus *marketdata.Bus
}

func NewBusPublisher(bus *marketdata.Bus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (p *BusPublisher) Publish(_ context.Context, evt Event) error {
	p.bus.Publish(marketdata.Event{Type: evt.Type, AccountID: evt.AccountID, Data: evt, At: evt.At})
	return nil
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evt Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
