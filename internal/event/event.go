// Package event is a small synchronous/asynchronous dispatcher used to fan
// informational and error events out from the engine's scheduler thread to
// whatever upward transports (internal/gateway, internal/metrics) are
// listening, without the engine needing to know who's subscribed.
package event

import (
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("Event")

type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

// Event names for the upward client observers and the node
// callbacks of the downward contract. Gateway and metrics subscribers key off
// these to decide what to forward.
const (
	CommandCompleted         Event = "engine:command:completed"
	HandleErrorEvent         Event = "engine:error"
	HandleInformationalEvent Event = "engine:informational"
	EngineStateChanged       Event = "engine:state:changed"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send Event
// messages on the channel any time a Dispatch for the provided event occurs.
// This method can be used multiple times for different events on the same
// channel.
//
// If the channel is blocked when the dispatcher attempts to send, the
// dispatching goroutine (the engine scheduler) also blocks - handler channels
// must be sized generously or drained promptly.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction stores a handler that is called synchronously,
// in-line with Dispatch. The handle must return quickly: the scheduler thread
// calls Dispatch directly when it reports a command completion or event.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction stores a handler invoked in its own goroutine.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch delivers payload to every handler registered for event. Note that
// this method blocks until every synchronous handler and channel send
// completes.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if handles, ok := handler.fnHandlers[event]; ok {
		for _, handle := range handles {
			if handle.async {
				go handle.handle(event, payload)
			} else {
				handle.handle(event, payload)
			}
		}
	}

	if handles, ok := handler.chanHandlers[event]; ok {
		ev := HandlerEvent{event, payload}
		for _, handle := range handles {
			handle <- ev
		}
	}

	if len(handler.fnHandlers[event]) == 0 && len(handler.chanHandlers[event]) == 0 {
		log.Verbosef("dispatched %s with no registered listeners\n", event)
	}
}
