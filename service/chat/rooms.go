package chat

import (
	"context"
	"encoding/json"
	"sync"

	"fieldgate/logger"
	"fieldgate/module/model"

	"go.uber.org/zap"
)

// Rooms is the process-local group membership table. A connection may be in
// many groups but holds at most one site scope at a time.
type Rooms struct {
	mu       sync.RWMutex
	groups   map[string]map[string]*Client  // group -> connID -> client
	memberOf map[string]map[string]struct{} // connID -> groups
	siteOf   map[string]string              // connID -> current site group
}

func NewRooms() *Rooms {
	return &Rooms{
		groups:   make(map[string]map[string]*Client),
		memberOf: make(map[string]map[string]struct{}),
		siteOf:   make(map[string]string),
	}
}

func (r *Rooms) joinLocked(c *Client, group string) {
	m := r.groups[group]
	if m == nil {
		m = make(map[string]*Client)
		r.groups[group] = m
	}
	m[c.ConnID] = c

	g := r.memberOf[c.ConnID]
	if g == nil {
		g = make(map[string]struct{})
		r.memberOf[c.ConnID] = g
	}
	g[group] = struct{}{}
}

func (r *Rooms) leaveLocked(connID, group string) {
	if m := r.groups[group]; m != nil {
		delete(m, connID)
		if len(m) == 0 {
			delete(r.groups, group)
		}
	}
	if g := r.memberOf[connID]; g != nil {
		delete(g, group)
	}
}

func (r *Rooms) JoinAllOperators(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(c, model.GroupAllOperators)
}

// JoinSiteScope moves c into siteID's group, leaving any previous site first.
// It returns the site group left, "" when there was none.
func (r *Rooms) JoinSiteScope(c *Client, siteID string) (left string) {
	group := model.SiteGroup(siteID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev := r.siteOf[c.ConnID]; prev != "" && prev != group {
		r.leaveLocked(c.ConnID, prev)
		left = prev
	}
	r.joinLocked(c, group)
	r.siteOf[c.ConnID] = group
	return left
}

func (r *Rooms) JoinWorkerChannel(c *Client, workerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joinLocked(c, model.WorkerGroup(workerID))
}

func (r *Rooms) LeaveAll(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for group := range r.memberOf[c.ConnID] {
		r.leaveLocked(c.ConnID, group)
	}
	delete(r.memberOf, c.ConnID)
	delete(r.siteOf, c.ConnID)
}

// SiteScope returns c's current site group, "" when unscoped.
func (r *Rooms) SiteScope(c *Client) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.siteOf[c.ConnID]
}

// members resolves a target to the union of its groups, each connection once.
func (r *Rooms) members(t model.Target) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []*Client
	for _, group := range t.Groups {
		scoped := t.ExceptSiteScoped && group == model.GroupAllOperators
		for id, c := range r.groups[group] {
			if id == t.ExceptConn {
				continue
			}
			if scoped && r.siteOf[id] != "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Emit delivers ev to this process's members of t. The frame is encoded once.
func (r *Rooms) Emit(_ context.Context, t model.Target, ev model.Event) {
	targets := r.members(t)
	if len(targets) == 0 {
		return
	}
	b, err := json.Marshal(ev)
	if err != nil {
		logger.Error("[rooms] encode event failed", zap.String("event", ev.Name), zap.Error(err))
		return
	}
	for _, c := range targets {
		_ = c.enqueue(b)
	}
}
