package gateway

import (
	"github.com/hbomb79/pvplayer/internal/engine"
	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/pkg/socket"
)

// WsGateway fans the engine's client observers out to every connected
// websocket client, and serves a handful of read-only commands inbound.
type WsGateway struct {
	player *engine.Player
	hub    *socket.SocketHub
}

func NewWsGateway(player *engine.Player, events event.EventHandler) *WsGateway {
	gw := &WsGateway{player: player, hub: socket.NewSocketHub()}

	gw.hub.BindCommand("PLAYER_STATE", gw.wsPlayerState)

	// Events are dispatched from the engine scheduler goroutine; hub.Send
	// hands off to the hub's own goroutine, so each handler returns quickly.
	events.RegisterHandlerFunction(event.CommandCompleted, func(_ event.Event, payload event.Payload) {
		completed, ok := payload.(engine.CommandCompletedPayload)
		if !ok || !completed.API {
			// Internal commands are invisible to clients.
			return
		}
		gw.hub.Send(&socket.SocketMessage{
			Title: "COMMAND_COMPLETED",
			Body: map[string]interface{}{
				"commandId": completed.CmdID,
				"status":    completed.Status.String(),
				"result":    completed.Result,
			},
			Type: socket.Update,
		})
	})

	events.RegisterHandlerFunction(event.HandleErrorEvent, func(_ event.Event, payload event.Payload) {
		errEvt, ok := payload.(engine.ErrorEventPayload)
		if !ok {
			return
		}
		gw.hub.Send(&socket.SocketMessage{
			Title: "ERROR_EVENT",
			Body: map[string]interface{}{
				"status": errEvt.Status.String(),
				"cause":  errEvt.Cause,
			},
			Type: socket.Update,
		})
	})

	events.RegisterHandlerFunction(event.HandleInformationalEvent, func(_ event.Event, payload event.Payload) {
		info, ok := payload.(engine.InformationalEventPayload)
		if !ok {
			return
		}
		gw.hub.Send(&socket.SocketMessage{
			Title: "INFO_EVENT",
			Body: map[string]interface{}{
				"code":  int(info.Code),
				"param": info.Param,
			},
			Type: socket.Update,
		})
	})

	events.RegisterHandlerFunction(event.EngineStateChanged, func(_ event.Event, payload event.Payload) {
		state, ok := payload.(engine.EngineState)
		if !ok {
			return
		}
		gw.hub.Send(&socket.SocketMessage{
			Title: "STATE_CHANGED",
			Body:  map[string]interface{}{"state": state.String()},
			Type:  socket.Update,
		})
	})

	return gw
}

// Hub exposes the underlying hub so the owner can Start it on its own
// goroutine and mount UpgradeToSocket on the HTTP router.
func (gw *WsGateway) Hub() *socket.SocketHub {
	return gw.hub
}

func (gw *WsGateway) wsPlayerState(hub *socket.SocketHub, message *socket.SocketMessage) error {
	hub.Send(message.FormReply("COMMAND_SUCCESS", map[string]interface{}{
		"state": gw.player.GetPVPlayerStateSync().String(),
	}, socket.Response))
	return nil
}
