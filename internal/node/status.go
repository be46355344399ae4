package node

import (
	"segchain/internal/relay"
)

// LinkStatus describes one link half.
type LinkStatus struct {
	Connected bool   `json:"connected"`
	Teardowns uint64 `json:"teardowns"`
	Messages  uint64 `json:"messages"`
}

// Status is the diagnostics view served on /status.
type Status struct {
	Node       string       `json:"node"`
	Role       string       `json:"role"`
	Session    string       `json:"session"`
	Controller relay.Status `json:"controller"`
	Watchdog   []int        `json:"watchdog"`
	Server     *LinkStatus  `json:"server,omitempty"`
	Client     *LinkStatus  `json:"client,omitempty"`
	Router     struct {
		Fresh  uint64 `json:"fresh"`
		Reused uint64 `json:"reused"`
	} `json:"router"`
	Heartbeats struct {
		Accepted uint64 `json:"accepted"`
		Rejected uint64 `json:"rejected"`
	} `json:"heartbeats"`
	Integrity struct {
		Score      int    `json:"score"`
		Arrivals   uint64 `json:"arrivals"`
		Violations uint64 `json:"violations"`
	} `json:"integrity"`
	Bus *BusStatus `json:"bus,omitempty"`
}

// BusStatus describes the MQTT session.
type BusStatus struct {
	Connected bool   `json:"connected"`
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Rejected  uint64 `json:"rejected"`
}

// Status snapshots every component.
func (n *Node) Status() Status {
	st := Status{
		Node:       n.cfg.Node.ID,
		Role:       n.role.String(),
		Session:    n.session,
		Controller: n.ctrl.Snapshot(),
		Watchdog:   n.agg.Snapshot().Ints(),
	}
	if n.server != nil {
		st.Server = &LinkStatus{Connected: n.server.Connected(), Teardowns: n.server.Teardowns(), Messages: n.server.Received()}
	}
	if n.client != nil {
		st.Client = &LinkStatus{Connected: n.client.Connected(), Teardowns: n.client.Teardowns(), Messages: n.client.Sent()}
	}
	st.Router.Fresh, st.Router.Reused = n.router.Stats()
	st.Heartbeats.Accepted, st.Heartbeats.Rejected = n.receiver.Beats()
	st.Integrity.Score = n.monitor.Score()
	st.Integrity.Arrivals, st.Integrity.Violations = n.monitor.Stats()
	if n.bus != nil {
		b := &BusStatus{Connected: n.bus.Connected()}
		b.Published, b.Received, b.Rejected = n.bus.Stats()
		st.Bus = b
	}
	return st
}
