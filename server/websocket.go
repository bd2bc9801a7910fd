package server

import (
	"encoding/json"
	"net/http"

	"github.com/vinayprograms/objecthub/transport"
)

// WSHandler returns the websocket endpoint. Every upgraded connection is
// attached to the hub for its lifetime; its text frames are routed to the
// open queries.
func (s *Server) WSHandler() http.Handler {
	upgrader := transport.NewUpgrader()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.log.Warn("websocket upgrade failed", map[string]interface{}{
				"remote": r.RemoteAddr,
				"error":  err.Error(),
			})
			return
		}

		s.conns.Add(1)
		defer s.conns.Done()

		conn := transport.NewConn(ws, s.config.WebSocket)
		addr := conn.Addr()
		s.m.Attach(conn)

		runErr := make(chan error, 1)
		go func() {
			runErr <- conn.Run(s.connCtx)
		}()

		for data := range conn.Recv() {
			if !json.Valid(data) {
				s.log.Warn("dropping malformed message", map[string]interface{}{
					"addr":  addr,
					"bytes": len(data),
				})
				continue
			}
			s.m.HandleIncoming(addr, data)
		}

		s.m.Detach(conn)
		<-runErr
	})
}
