package fakeremote

import (
	"log"
	"time"

	"github.com/lxzan/gws"

	"github.com/surrealdb/surrealtodo/pkg/connection"
)

func (h *Handler) OnOpen(socket *gws.Conn) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	h.server.sockets[socket] = struct{}{}
}

func (h *Handler) OnClose(socket *gws.Conn, err error) {
	h.server.mu.Lock()
	defer h.server.mu.Unlock()
	delete(h.server.sockets, socket)
}

func (h *Handler) OnPing(socket *gws.Conn, payload []byte) {
	if err := socket.WritePong(payload); err != nil {
		log.Printf("fakeremote: error writing pong: %v", err)
	}
}

func (h *Handler) OnPong(socket *gws.Conn, payload []byte) {}

func (h *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()

	var req connection.RPCRequest
	if err := connection.Codec.Unmarshal(message.Bytes(), &req); err != nil {
		h.send(socket, errorResponse(nil, connection.CodeParseError, "Parse error"))
		return
	}

	stub, offline := h.server.match(&req)
	if offline {
		_ = socket.NetConn().Close()
		return
	}
	if stub != nil {
		if stub.Status != 0 {
			_ = socket.NetConn().Close()
			return
		}
		go func() {
			time.Sleep(stub.Delay)
			h.send(socket, errorResponse(req.ID, stub.Error.Code, stub.Error.Message))
		}()
		return
	}

	h.send(socket, h.server.handle(&req, true))
}

func (h *Handler) send(socket *gws.Conn, res connection.RPCResponse[any]) {
	data, err := connection.Codec.Marshal(res)
	if err != nil {
		log.Printf("fakeremote: failed to marshal response: %v", err)
		return
	}
	if err := socket.WriteMessage(gws.OpcodeBinary, data); err != nil {
		log.Printf("fakeremote: error writing response: %v", err)
	}
}
