package node

import (
	"context"
	"time"

	"segchain/internal/record"
)

// linkState is what watchLinks remembers about one link half.
type linkState struct {
	role string
	up   bool
	conn func() bool
	down func() uint64
}

// watchLinks turns link half state changes into recorded events.
func (n *Node) watchLinks(ctx context.Context) error {
	var halves []*linkState
	if n.server != nil {
		halves = append(halves, &linkState{role: "server", conn: n.server.Connected, down: n.server.Teardowns})
	}
	if n.client != nil {
		halves = append(halves, &linkState{role: "client", conn: n.client.Connected, down: n.client.Teardowns})
	}
	if len(halves) == 0 {
		return nil
	}
	ticker := time.NewTicker(n.cfg.Router.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			for _, h := range halves {
				up := h.conn()
				if up == h.up {
					continue
				}
				h.up = up
				n.linkEvent(h, now)
			}
		}
	}
}

func (n *Node) linkEvent(h *linkState, now time.Time) {
	ev := record.LinkDown
	if h.up {
		ev = record.LinkUp
	}
	n.log.Info("link state changed", "link", h.role, "event", ev)
	if n.rec == nil {
		return
	}
	row := record.LinkEventRow{
		Node:      n.cfg.Node.ID,
		Session:   n.session,
		Role:      h.role,
		Event:     ev,
		Teardowns: h.down(),
		Timestamp: now.UTC(),
	}
	if err := n.rec.WriteLinkEvent(row); err != nil {
		n.log.Warn("record link event", "err", err)
	}
}
