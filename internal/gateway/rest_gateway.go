// Package gateway is the upward client transport: the engine's asynchronous
// command API exposed over HTTP, with completions and events fanned out to
// websocket subscribers in real time.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"

	"github.com/hbomb79/pvplayer/internal/engine"
	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

var log = logger.Get("Gateway")

const (
	httpServerReadHeaderTimeout = time.Second * 5
	shutdownTimeout             = time.Second * 10

	// commandWaitTimeout bounds how long a synchronous HTTP caller waits for
	// its command to complete; the engine's own watchdog fires well before
	// this under normal operation.
	commandWaitTimeout = time.Second * 30
)

// RestGateway routes the player's upward API over HTTP. Each handler posts
// a command into the engine's inbox and waits for the matching
// CommandCompleted before replying, translating the engine's asynchronous
// surface into the request/response shape HTTP clients expect.
type RestGateway struct {
	player *engine.Player
	server *http.Server

	mu      sync.Mutex
	waiters map[uint64]chan engine.CommandCompletedPayload

	// unclaimed holds completions that landed before the issuing handler
	// registered its waiter - the engine runs on its own goroutine and can
	// finish a synchronous command inside the Enqueue round-trip.
	unclaimed map[uint64]engine.CommandCompletedPayload

	extraMounts []mount
}

func NewRestGateway(player *engine.Player, events event.EventHandler) *RestGateway {
	gw := &RestGateway{
		player:    player,
		waiters:   make(map[uint64]chan engine.CommandCompletedPayload),
		unclaimed: make(map[uint64]engine.CommandCompletedPayload),
	}

	events.RegisterHandlerFunction(event.CommandCompleted, func(_ event.Event, payload event.Payload) {
		completed, ok := payload.(engine.CommandCompletedPayload)
		if !ok || !completed.API {
			return
		}

		gw.mu.Lock()
		waiter, ok := gw.waiters[completed.CmdID]
		if ok {
			delete(gw.waiters, completed.CmdID)
		} else {
			gw.unclaimed[completed.CmdID] = completed
		}
		gw.mu.Unlock()

		if ok {
			waiter <- completed
		}
	})

	return gw
}

// Start builds the route table and serves until Stop. Blocking.
func (gw *RestGateway) Start(host string, port int) error {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/player").Subrouter()

	api.HandleFunc("/source", gw.withBody(func(body map[string]any) uint64 {
		var req struct {
			URI string `mapstructure:"uri"`
		}
		if err := mapstructure.Decode(body, &req); err != nil || req.URI == "" {
			return 0
		}
		return gw.player.AddDataSource(req.URI, nil)
	})).Methods("POST")

	api.HandleFunc("/init", gw.simple(gw.player.Init)).Methods("POST")
	api.HandleFunc("/prepare", gw.simple(gw.player.Prepare)).Methods("POST")
	api.HandleFunc("/start", gw.simple(gw.player.Start)).Methods("POST")
	api.HandleFunc("/pause", gw.simple(gw.player.Pause)).Methods("POST")
	api.HandleFunc("/resume", gw.simple(gw.player.Resume)).Methods("POST")
	api.HandleFunc("/stop", gw.simple(gw.player.Stop)).Methods("POST")
	api.HandleFunc("/reset", gw.simple(gw.player.Reset)).Methods("POST")
	api.HandleFunc("/cancel", gw.simple(gw.player.CancelAllCommands)).Methods("POST")

	api.HandleFunc("/range", gw.withBody(func(body map[string]any) uint64 {
		var req struct {
			BeginMS int64 `mapstructure:"begin"`
			EndMS   int64 `mapstructure:"end"`
		}
		if err := mapstructure.Decode(body, &req); err != nil {
			return 0
		}
		return gw.player.SetPlaybackRange(req.BeginMS, req.EndMS, nil)
	})).Methods("POST")
	api.HandleFunc("/range", gw.simple(gw.player.GetPlaybackRange)).Methods("GET")

	api.HandleFunc("/rate", gw.withBody(func(body map[string]any) uint64 {
		var req struct {
			RateMilliPct int64 `mapstructure:"rate"`
		}
		if err := mapstructure.Decode(body, &req); err != nil {
			return 0
		}
		return gw.player.SetPlaybackRate(req.RateMilliPct, nil)
	})).Methods("POST")
	api.HandleFunc("/rate", gw.simple(gw.player.GetPlaybackRate)).Methods("GET")

	api.HandleFunc("/position", gw.simple(gw.player.GetCurrentPosition)).Methods("GET")
	api.HandleFunc("/metadata/keys", gw.simple(gw.player.GetMetadataKeys)).Methods("GET")

	api.HandleFunc("/metadata/values", gw.withBody(func(body map[string]any) uint64 {
		var req struct {
			Keys []string `mapstructure:"keys"`
		}
		if err := mapstructure.Decode(body, &req); err != nil {
			return 0
		}
		return gw.player.GetMetadataValues(req.Keys, nil)
	})).Methods("POST")

	// GetPVPlayerStateSync: served without a queue round-trip.
	api.HandleFunc("/state", func(w http.ResponseWriter, r *http.Request) {
		gw.respond(w, http.StatusOK, map[string]any{"state": gw.player.GetPVPlayerStateSync().String()})
	}).Methods("GET")

	for _, m := range gw.extraMounts {
		router.PathPrefix(m.path).Handler(m.handler)
	}

	gw.server = &http.Server{
		Addr:              fmt.Sprintf("%v:%v", host, port),
		ReadHeaderTimeout: httpServerReadHeaderTimeout,
		Handler:           trimTrailingSlashesMiddleware(router),
	}

	log.Emit(logger.NEW, "Starting HTTP gateway on %s\n", gw.server.Addr)
	return gw.server.ListenAndServe()
}

func (gw *RestGateway) Stop() {
	if gw.server == nil {
		return
	}

	log.Emit(logger.STOP, "Closing HTTP gateway\n")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := gw.server.Shutdown(ctx); err != nil {
		log.Errorf("Failed to stop HTTP gateway due to error: %v\n", err)
	}
}

// Mount registers an ancillary handler (metrics scrape, websocket upgrade) on
// the same listener. Must be called before Start builds the route table.
func (gw *RestGateway) Mount(path string, handler http.Handler) {
	gw.extraMounts = append(gw.extraMounts, mount{path, handler})
}

type mount struct {
	path    string
	handler http.Handler
}

// simple wraps a no-argument command issuer.
func (gw *RestGateway) simple(issue func(ctx any) uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gw.await(w, issue(nil))
	}
}

// withBody decodes the request's JSON body into a loose map and hands it to
// the issuer, which decodes it into its typed request via mapstructure.
func (gw *RestGateway) withBody(issue func(body map[string]any) uint64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			gw.respond(w, http.StatusBadRequest, map[string]any{"error": "malformed request body"})
			return
		}

		cmdID := issue(body)
		if cmdID == 0 {
			gw.respond(w, http.StatusBadRequest, map[string]any{"error": "invalid request arguments"})
			return
		}
		gw.await(w, cmdID)
	}
}

// await blocks the HTTP handler until cmdID completes, then translates the
// terminal status onto the response.
func (gw *RestGateway) await(w http.ResponseWriter, cmdID uint64) {
	waiter := make(chan engine.CommandCompletedPayload, 1)
	gw.mu.Lock()
	if completed, ok := gw.unclaimed[cmdID]; ok {
		delete(gw.unclaimed, cmdID)
		gw.mu.Unlock()
		waiter <- completed
	} else {
		gw.waiters[cmdID] = waiter
		gw.mu.Unlock()
	}

	select {
	case completed := <-waiter:
		status := http.StatusOK
		if completed.Status.IsError() {
			status = http.StatusConflict
		}
		gw.respond(w, status, map[string]any{
			"commandId": completed.CmdID,
			"status":    completed.Status.String(),
			"result":    completed.Result,
		})

	case <-time.After(commandWaitTimeout):
		gw.mu.Lock()
		delete(gw.waiters, cmdID)
		delete(gw.unclaimed, cmdID)
		gw.mu.Unlock()
		gw.respond(w, http.StatusGatewayTimeout, map[string]any{"error": "command did not complete in time"})
	}
}

func (gw *RestGateway) respond(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Errorf("Failed to encode response body: %v\n", err)
	}
}

// trimTrailingSlashesMiddleware lets the route /api/player/start match both
// "/api/player/start" and "/api/player/start/".
func trimTrailingSlashesMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			r.URL.Path = strings.TrimSuffix(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}
