package httpapi

import (
	"context"
	"net/http"
	"sync"

	"nhooyr.io/websocket"
)

// watchHub fans a coarse "changed" signal out to websocket subscribers of a
// user's collection. Notifications carry no payload; subscribers are
// expected to reload.
type watchHub struct {
	mu   sync.Mutex
	subs map[string]map[*watchSub]struct{}
}

type watchSub struct {
	ch chan struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: map[string]map[*watchSub]struct{}{}}
}

func watchKey(userID, collection string) string {
	return userID + "/" + collection
}

func (h *watchHub) subscribe(key string) *watchSub {
	sub := &watchSub{ch: make(chan struct{}, 1)}
	h.mu.Lock()
	subs, ok := h.subs[key]
	if !ok {
		subs = map[*watchSub]struct{}{}
		h.subs[key] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *watchHub) unsubscribe(key string, sub *watchSub) {
	h.mu.Lock()
	if subs, ok := h.subs[key]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
}

// broadcast signals every subscriber of a key. A subscriber that has not
// drained its pending signal is not signaled again; the signal is a level,
// not a count.
func (h *watchHub) broadcast(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[key] {
		select {
		case sub.ch <- struct{}{}:
		default:
		}
	}
}

func (h *watchHub) serveWatch(w http.ResponseWriter, r *http.Request, key string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "watch closed")

	sub := h.subscribe(key)
	defer h.unsubscribe(key, sub)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-sub.ch:
			writeCtx, cancel := context.WithTimeout(ctx, writeNotifyTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, []byte(`{"type":"changed"}`))
			cancel()
			if err != nil {
				return
			}
		}
	}
}
