package socket

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// socketClient is one registered connection on the hub. The hub goroutine is
// the only writer (SendMessage) and the connection's own read loop (Read) is
// the only reader, so no lock is needed beyond the close guard.
type socketClient struct {
	id     uuid.UUID
	socket *websocket.Conn
	closed atomic.Bool
}

// SendMessage marshals message onto the client's socket. Sends to an
// already-closed client are dropped silently - every broadcast would
// otherwise surface a write error for clients racing a disconnect.
func (client *socketClient) SendMessage(message *SocketMessage) error {
	if client.closed.Load() {
		return nil
	}
	return client.socket.WriteJSON(message)
}

// Read starts a read-loop on the client's websocket connection, stamping each
// received message with this client's uuid as its origin and emitting it on
// the channel provided. If the connection experiences an error, or the JSON
// unmarshalling fails, this error is returned and consequently the read loop
// will close. It is the responsibility of the caller to de-register the
// client once the connection closes.
func (client *socketClient) Read(receiveCh chan *SocketMessage) error {
	for {
		var recv SocketMessage
		if err := client.socket.ReadJSON(&recv); err != nil {
			return err
		}

		recv.Origin = &client.id
		receiveCh <- &recv
	}
}

// Close closes this client's socket. Safe to call more than once - the hub
// closes stragglers on shutdown even when their read loops already tore the
// connection down.
func (client *socketClient) Close() {
	if client.closed.Swap(true) {
		return
	}
	if err := client.socket.Close(); err != nil {
		hubLogger.Debugf("Closing client {%v} socket: %v\n", client.id, err.Error())
	}
}
