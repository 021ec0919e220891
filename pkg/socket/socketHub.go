package socket

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hbomb79/pvplayer/pkg/logger"
)

var hubLogger = logger.Get("Websocket")

type SocketHandler func(*SocketHub, *SocketMessage) error

// SocketHub manages websocket upgrading, client registration, and the pushing
// and receiving of messages. All client bookkeeping happens on the hub's own
// goroutine (Start); external callers interact solely through channels.
type SocketHub struct {
	handlers     map[string]SocketHandler
	upgrader     *websocket.Upgrader
	clients      []*socketClient
	registerCh   chan *socketClient
	deregisterCh chan *socketClient
	sendCh       chan *SocketMessage
	receiveCh    chan *SocketMessage
	doneCh       chan int
	running      bool
}

func NewSocketHub() *SocketHub {
	return &SocketHub{
		handlers: make(map[string]SocketHandler),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		running: false,
	}
}

// BindCommand associates an inbound message title with a handler.
func (hub *SocketHub) BindCommand(command string, handler SocketHandler) *SocketHub {
	hub.handlers[command] = handler
	return hub
}

// Start runs the hub loop, listening on all related channels for incoming
// clients and messages. Blocks until Close is called.
func (hub *SocketHub) Start() {
	if hub.running {
		hubLogger.Warnf("Attempting to start socketHub when already running! Ignoring request.\n")
		return
	}
	hubLogger.Emit(logger.NEW, "Opening SocketHub!\n")

	hub.sendCh = make(chan *SocketMessage)
	hub.receiveCh = make(chan *SocketMessage)
	hub.registerCh = make(chan *socketClient)
	hub.deregisterCh = make(chan *socketClient)
	hub.doneCh = make(chan int)
	hub.clients = make([]*socketClient, 0)
	hub.running = true

loop:
	for {
		select {
		case message := <-hub.sendCh:
			if message.Target != nil {
				if _, client := hub.findClient(message.Target); client != nil {
					if err := client.SendMessage(message); err != nil {
						hubLogger.Errorf("Failed to send message to target {%v}: %v\n", message.Target, err.Error())
					}
				} else {
					hubLogger.Warnf("Attempted to send message to target {%v}, but no matching client was found.\n", message.Target)
				}

				break
			}

			hub.broadcastMessage(message)
		case message := <-hub.receiveCh:
			go hub.handleMessage(message)
		case client := <-hub.registerCh:
			if idx, _ := hub.findClient(&client.id); idx > -1 {
				hubLogger.Errorf("Attempted to register client that is already registered (duplicate uuid)!\n")
				client.Close()

				break
			}

			hub.clients = append(hub.clients, client)
			hubLogger.Emit(logger.NEW, "Registered new client {%v}\n", client.id)
		case client := <-hub.deregisterCh:
			if idx, _ := hub.findClient(&client.id); idx != -1 {
				hub.clients = append(hub.clients[:idx], hub.clients[idx+1:]...)
				hubLogger.Emit(logger.REMOVE, "Deregistered client {%v}\n", client.id)

				break
			}

			hubLogger.Warnf("Attempted to deregister unknown client {%v}\n", client.id)
		case <-hub.doneCh:
			hubLogger.Emit(logger.STOP, "Shutting down socket hub! Closing all clients.\n")
			break loop
		}
	}

	for _, client := range hub.clients {
		client.Close()
	}
	hub.clients = nil
	hub.running = false
}

// Send emits a message on the send channel - ignored if the hub is offline.
// A message with a Target is delivered to that client only; otherwise it is
// broadcast.
func (hub *SocketHub) Send(message *SocketMessage) {
	if !hub.running {
		hubLogger.Warnf("Attempted to send message via socket hub, however the hub is offline. Ignoring message.\n")
		return
	}

	hub.sendCh <- message
}

// UpgradeToSocket upgrades a given HTTP request to a websocket and registers
// the new client with the hub. Blocks for the lifetime of the connection's
// read loop.
func (hub *SocketHub) UpgradeToSocket(w http.ResponseWriter, r *http.Request) {
	if !hub.running {
		hubLogger.Errorf("Failed to upgrade incoming HTTP request to a websocket: SocketHub has not been started!\n")
		return
	}

	id, err := uuid.NewRandom()
	if err != nil {
		hubLogger.Errorf("Failed to generate UUID for new connection - aborting!\n")
		return
	}

	sock, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hubLogger.Errorf("Failed to upgrade incoming HTTP request to a websocket: %v\n", err.Error())
		return
	}

	client := &socketClient{
		id:     id,
		socket: sock,
	}

	hub.registerCh <- client

	hub.Send(&SocketMessage{
		Title:  "CONNECTION_ESTABLISHED",
		Body:   map[string]interface{}{"client": id},
		Target: &id,
		Type:   Welcome,
	})

	defer func() {
		hub.deregisterCh <- client
		client.Close()
	}()

	if err := client.Read(hub.receiveCh); err != nil {
		hubLogger.Warnf("Client {%v} closed, error: %v\n", client.id, err.Error())
	}
}

// Close shuts down the hub loop. Non-blocking; safe to call when the loop
// already exited.
func (hub *SocketHub) Close() {
	if !hub.running {
		return
	}

	select {
	case hub.doneCh <- 1:
	default:
	}
}

func (hub *SocketHub) handleMessage(message *SocketMessage) {
	handler, ok := hub.handlers[message.Title]
	if !ok {
		hub.Send(message.FormReply("COMMAND_FAILURE", map[string]interface{}{"error": "unknown command"}, ErrorResponse))
		return
	}

	if err := handler(hub, message); err != nil {
		hub.Send(message.FormReply("COMMAND_FAILURE", map[string]interface{}{"error": err.Error()}, ErrorResponse))
	}
}

func (hub *SocketHub) broadcastMessage(message *SocketMessage) {
	for _, client := range hub.clients {
		if err := client.SendMessage(message); err != nil {
			hubLogger.Errorf("Failed to broadcast message to client {%v}: %v\n", client.id, err.Error())
		}
	}
}

func (hub *SocketHub) findClient(id *uuid.UUID) (int, *socketClient) {
	for idx, client := range hub.clients {
		if client.id == *id {
			return idx, client
		}
	}
	return -1, nil
}
