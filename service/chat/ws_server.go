package chat

import (
	"net/http"

	"fieldgate/logger"
	"fieldgate/middleware/security"
	"fieldgate/module/model"
	"fieldgate/tools/errs"
	"fieldgate/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleWS authenticates before upgrading: a rejected token never gets a
// socket, and never joins a room.
func (s *Server) HandleWS(c *gin.Context) {
	token := security.TokenFromRequest(c.Request, nil)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	who, err := s.auth.Verify(c.Request.Context(), token, security.ClientHint(c.Request, nil))
	if err != nil {
		logger.Info("[HandleWS] handshake rejected", zap.String("remote", c.ClientIP()), zap.Error(err))
		// the cause stays in the log; clients only learn they were refused
		c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	role, ok := s.roleSets[who.Kind]
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, errs.ErrForbidden.WithDetail(string(who.Kind)))
		return
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败
		logger.Info("[HandleWS] upgrade websocket error", zap.Error(err))
		return
	}

	client := NewClient(s.baseCtx, uuid.NewString(), who, ws, s.conf.Conn)
	if err := s.conns.Add(client); err != nil {
		client.log.Info("[HandleWS] connection refused", zap.Error(err))
		client.Close(err.Error())
		go client.writePump()
		<-client.writerDone
		return
	}
	safe.Go("ws-writer:"+client.ConnID, client.writePump)
	client.log.Info("[HandleWS] connected", zap.String("client", who.ClientClass), zap.Int("conns", s.conns.Count()))

	defer func() {
		client.Close("disconnect")
		s.rooms.LeaveAll(client)
		s.conns.Remove(client)
		<-client.writerDone
		client.log.Info("[HandleWS] disconnected")
	}()

	// role set first so the conversation handlers see joined rooms
	for _, set := range append([]HandlerSet{role}, s.common...) {
		if err := set.OnConnect(client.ctx, client); err != nil {
			client.log.Warn("[HandleWS] connect hook failed", zap.Error(err))
			_ = client.Reply(model.NewEvent(model.EvError, model.ErrorPayload{
				Message: errs.ErrUpstreamUnavailable.Msg,
				Code:    errs.CodeUpstreamUnavailable,
			}))
			return
		}
	}

	client.readPump(func(f model.Frame) {
		defer safe.Recover("ws-frame:" + f.Event)
		s.disp.Dispatch(client.ctx, client, f)
	})
}
