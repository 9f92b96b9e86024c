package chat

import (
	"context"
	"net/http"

	"fieldgate/middleware/security"
	"fieldgate/module/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// HandlerSet is a group of inbound handlers plus what happens when a
// connection of the matching kind is established.
type HandlerSet interface {
	Register(d *Dispatcher)
	OnConnect(ctx context.Context, c *Client) error
}

type Config struct {
	NodeID  string
	Conn    ConnConf
	Manager ManagerConf
}

// Server owns the WebSocket endpoint. Each connection gets exactly one role
// handler set, chosen by identity kind, plus every common set.
type Server struct {
	conf  Config
	auth  security.Authenticator
	conns *ConnManager
	rooms *Rooms
	disp  *Dispatcher

	roleSets map[model.Kind]HandlerSet
	common   []HandlerSet

	upgrader websocket.Upgrader
	baseCtx  context.Context
}

func NewServer(ctx context.Context, conf Config, auth security.Authenticator) *Server {
	conf.Conn.norm()
	return &Server{
		conf:     conf,
		auth:     auth,
		conns:    NewConnManager(conf.Manager, conf.NodeID),
		rooms:    NewRooms(),
		disp:     NewDispatcher(),
		roleSets: make(map[model.Kind]HandlerSet),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// origin is enforced by middleware.Origin before the upgrade
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		baseCtx: ctx,
	}
}

func (s *Server) Rooms() *Rooms         { return s.rooms }
func (s *Server) ConnMgr() *ConnManager { return s.conns }
func (s *Server) NodeID() string        { return s.conf.NodeID }

// UseRole installs the handler set for one identity kind.
func (s *Server) UseRole(kind model.Kind, set HandlerSet) {
	s.roleSets[kind] = set
	set.Register(s.disp)
}

// UseCommon installs a handler set every connection gets.
func (s *Server) UseCommon(set HandlerSet) {
	s.common = append(s.common, set)
	set.Register(s.disp)
}

func (s *Server) Register(r gin.IRoutes) {
	r.GET("/ws", s.HandleWS)
}

// Shutdown closes every live connection; their handlers finish cleanup.
func (s *Server) Shutdown() {
	s.conns.CloseAll("server_shutdown")
}
