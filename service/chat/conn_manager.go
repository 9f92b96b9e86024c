package chat

import (
	"errors"
	"sort"
	"sync"
	"time"

	"fieldgate/module/model"
)

// ===== 配置 =====

type ManagerConf struct {
	MaxPerUser  int              // 每用户最大连接数（<=0 不限制）
	EvictOldest bool             // 超限时是否淘汰最老连接（否则 Add 直接报错）
	Clock       func() time.Time // 可注入时钟（单测用）；nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

var ErrTooManyConns = errors.New("too many connections for user")

// ConnManager indexes the live connections of this process. Rooms decide who
// receives what; the manager only answers "which connections exist".
type ConnManager struct {
	mu     sync.RWMutex
	byID   map[string]*Client            // connID -> client
	byUser map[string]map[string]*Client // userKey -> (connID -> client)

	conf   ManagerConf
	nodeID string
}

func NewConnManager(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	return &ConnManager{
		byID:   make(map[string]*Client),
		byUser: make(map[string]map[string]*Client),
		conf:   conf,
		nodeID: nodeID,
	}
}

func (m *ConnManager) NodeID() string { return m.nodeID }

// operator and worker ids live in different tables and may collide
func userKey(kind model.Kind, id string) string {
	return string(kind) + ":" + id
}

// Add registers c. When the user is at MaxPerUser the oldest connection is
// closed (EvictOldest) or c is refused.
func (m *ConnManager) Add(c *Client) error {
	if c == nil || c.ConnID == "" {
		return errors.New("conn empty")
	}
	c.createdAt = m.conf.Clock()

	var evict *Client
	m.mu.Lock()
	key := userKey(c.who.Kind, c.who.ID)
	mm := m.byUser[key]
	if m.conf.MaxPerUser > 0 && len(mm) >= m.conf.MaxPerUser {
		if !m.conf.EvictOldest {
			m.mu.Unlock()
			return ErrTooManyConns
		}
		for _, x := range mm {
			if evict == nil || x.createdAt.Before(evict.createdAt) {
				evict = x
			}
		}
		delete(mm, evict.ConnID)
		delete(m.byID, evict.ConnID)
	}
	if mm == nil {
		mm = make(map[string]*Client)
		m.byUser[key] = mm
	}
	mm[c.ConnID] = c
	m.byID[c.ConnID] = c
	m.mu.Unlock()

	if evict != nil {
		evict.log.Info("[WS] evicted by newer connection")
		evict.Close("evicted")
	}
	return nil
}

func (m *ConnManager) Remove(c *Client) {
	if c == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.byID[c.ConnID]; !ok || cur != c {
		return
	}
	delete(m.byID, c.ConnID)
	key := userKey(c.who.Kind, c.who.ID)
	if mm := m.byUser[key]; mm != nil {
		delete(mm, c.ConnID)
		if len(mm) == 0 {
			delete(m.byUser, key)
		}
	}
}

func (m *ConnManager) Get(connID string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[connID]
	return c, ok
}

// ListUserConns returns the user's connections, oldest first.
func (m *ConnManager) ListUserConns(kind model.Kind, userID string) []*Client {
	m.mu.RLock()
	mm := m.byUser[userKey(kind, userID)]
	out := make([]*Client, 0, len(mm))
	for _, x := range mm {
		out = append(out, x)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CloseAll is used on shutdown.
func (m *ConnManager) CloseAll(reason string) {
	m.mu.RLock()
	all := make([]*Client, 0, len(m.byID))
	for _, c := range m.byID {
		all = append(all, c)
	}
	m.mu.RUnlock()
	for _, c := range all {
		c.Close(reason)
	}
}
