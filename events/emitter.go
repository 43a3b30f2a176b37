package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventTxExecuted      EventType = "tx_executed"
	EventTokenTransfer   EventType = "token_transfer"
	EventItemMinted      EventType = "item_minted"
	EventItemTransferred EventType = "item_transferred"
	EventItemApproved    EventType = "item_approved"
	EventApprovalForAll  EventType = "approval_for_all"
	EventOffered         EventType = "offered"
	EventOfferWithdrawn  EventType = "offer_withdrawn"
	EventBought          EventType = "bought"
	EventBidEntered      EventType = "bid_entered"
	EventBidWithdrawn    EventType = "bid_withdrawn"
	EventBidRefunded     EventType = "bid_refunded"
	EventBidAccepted     EventType = "bid_accepted"
	EventWithdrawal      EventType = "withdrawal"
)

// Event carries a typed payload emitted after a state change has committed.
type Event struct {
	ID   string         `json:"id"`
	Type EventType      `json:"type"`
	TxID string         `json:"tx_id,omitempty"`
	Time int64          `json:"time"`
	Data map[string]any `json:"data"`
}

// New stamps an event with a fresh ID, the current time and the transaction
// carried by ctx, if any.
func New(ctx context.Context, typ EventType, data map[string]any) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: typ,
		TxID: TxFromContext(ctx),
		Time: time.Now().UnixNano(),
		Data: data,
	}
}

type txKey struct{}

// WithTx returns a context that tags emitted events with txID.
func WithTx(ctx context.Context, txID string) context.Context {
	return context.WithValue(ctx, txKey{}, txID)
}

// TxFromContext returns the transaction ID set by WithTx.
func TxFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(txKey{}).(string)
	return id
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
	log      *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger discards
// handler failures.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), log: log.Named("events")}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously. Each
// handler is guarded by panic recovery so a misbehaving subscriber cannot
// fail the operation that already committed.
func (e *Emitter) Emit(ev Event) {
	if e == nil {
		return
	}
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("handler panicked",
						zap.String("type", string(ev.Type)),
						zap.String("event_id", ev.ID),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}
