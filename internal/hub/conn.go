package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
)

const readLimit = 1 << 20

// ServeDashboard upgrades r to a websocket carrying a dashboard
// subscription.
func (h *Hub) ServeDashboard(w http.ResponseWriter, r *http.Request) {
	c, err := h.accept(w, r)
	if err != nil {
		return
	}
	h.serve(r.Context(), c, h.NewDashboard())
}

// ServeDocument upgrades r to a websocket carrying the detail feed of
// document id.
func (h *Hub) ServeDocument(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.Get(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	c, err := h.accept(w, r)
	if err != nil {
		return
	}
	sub, err := h.NewDocumentFeed(id)
	if err != nil {
		c.Close(websocket.StatusPolicyViolation, "document not found")
		return
	}
	h.serve(r.Context(), c, sub)
}

func (h *Hub) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		h.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return nil, err
	}
	c.SetReadLimit(readLimit)
	return c, nil
}

// serve runs one read loop and one write loop until either ends.
func (h *Hub) serve(ctx context.Context, c *websocket.Conn, sub *Subscription) {
	logger := h.logger.With("subscription", sub.ID, "kind", sub.Kind)
	defer h.Remove(sub)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(gctx, c, sub) })
	g.Go(func() error { return h.writeLoop(gctx, c, sub) })

	err := g.Wait()
	switch {
	case err == nil, errors.Is(err, ErrClosed):
		c.Close(websocket.StatusGoingAway, "server shutting down")
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure,
		websocket.CloseStatus(err) == websocket.StatusGoingAway,
		errors.Is(err, context.Canceled):
		c.Close(websocket.StatusNormalClosure, "")
	default:
		logger.Debug("connection ended", "error", err)
		c.Close(websocket.StatusInternalError, "connection error")
	}
}

func (h *Hub) readLoop(ctx context.Context, c *websocket.Conn, sub *Subscription) error {
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			return err
		}
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			h.replyError(sub, "", badRequest("malformed message: %v", err))
			continue
		}
		h.Handle(ctx, sub, req)
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *websocket.Conn, sub *Subscription) error {
	for {
		m, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if err := c.Write(ctx, websocket.MessageText, m.Body); err != nil {
			return err
		}
	}
}
