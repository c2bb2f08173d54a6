package httpserver

import (
	"net/http"
	"strings"
	"time"

	"lv-riskengine/internal/auth"
	"lv-riskengine/internal/marketdata"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPingPeriod = 30 * time.Second
)

// EventsWS streams risk events (fills, closes, stop-outs) for the authenticated account.
// Browsers cannot set headers on upgrade, so the token travels as a query param.
type EventsWS struct {
	bus      *marketdata.Bus
	authSvc  *auth.Service
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewEventsWS(bus *marketdata.Bus, authSvc *auth.Service, origin string, log *zap.Logger) *EventsWS {
	return &EventsWS{
		bus:     bus,
		authSvc: authSvc,
		log:     log.Named("events_ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return marketdata.AllowOrigin(r, origin) },
		},
	}
}

func (h *EventsWS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	subject, err := h.authSvc.ParseToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sub := h.bus.Subscribe()
	defer h.bus.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			if !auth.CanRead(subject, evt.AccountID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug("write event", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
