package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hbomb79/pvplayer/internal/androidsink"
	"github.com/hbomb79/pvplayer/internal/config"
	"github.com/hbomb79/pvplayer/internal/engine"
	"github.com/hbomb79/pvplayer/internal/event"
	"github.com/hbomb79/pvplayer/internal/gateway"
	"github.com/hbomb79/pvplayer/internal/metrics"
	"github.com/hbomb79/pvplayer/internal/mp3decoder"
	"github.com/hbomb79/pvplayer/internal/node"
	"github.com/hbomb79/pvplayer/pkg/logger"
)

const VERSION = 1.0

var (
	log = logger.Get("Bootstrap")

	conf         *config.PlayerConfig = &config.PlayerConfig{}
	logLevelFlag                      = flag.String("log-level", "info", "Define logging level from one of [verbose, debug, info, important, warning, error]")
	helpFlag                          = flag.Bool("help", false, "Whether to display help information")
	configFlag                        = flag.String("config", "", "The path to the config file that pvplayer will load (env-only config when omitted)")
)

func main() {
	flag.Parse()

	level, err := parseLogLevelFromString(*logLevelFlag)
	if err != nil {
		fmt.Println(err.Error())
		flag.Usage()

		return
	}
	logger.SetMinLoggingLevel(level)

	if *helpFlag {
		flag.Usage()
		return
	}

	if *configFlag != "" {
		log.Emit(logger.DEBUG, "Loading configuration from '%s'\n", *configFlag)
		err = conf.LoadFromFile(*configFlag)
	} else {
		err = conf.LoadFromEnv()
	}
	if err != nil {
		panic(err)
	}

	startPlayer(conf)
}

func startPlayer(conf *config.PlayerConfig) {
	log.Emit(logger.INFO, " --- Starting pvplayer (version %.1f) ---\n", VERSION)

	events := event.New()
	scheduler := engine.NewScheduler(nil)
	player := engine.NewPlayer(engine.Config{
		SeekToSyncPoint:     conf.SeekToSyncPoint,
		SkipToRequestedPos:  conf.SkipToRequestedPos,
		RenderSkipped:       conf.RenderSkipped,
		SyncPointSeekWindow: conf.SyncPointSeekWindow,
		NodeCmdTimeoutMS:    conf.NodeCmdTimeoutMS,
		PbPosEnable:         conf.PbPosEnable,
		PbPosIntervalMS:     conf.PbPosIntervalMS,
	}, scheduler, events)

	// MP3 source -> decoder -> Android-style sink is the one built-in graph;
	// additional formats register the same way.
	player.RegisterRecognizer(mp3decoder.Recognizer{})
	player.RegisterSourceNodeFactory(mp3decoder.MimeTypeMP3, func() node.Node {
		return mp3decoder.NewSourceNode(0)
	})
	player.RegisterDecoderNodeFactory(mp3decoder.MimeTypeMP3, func() node.Node {
		return mp3decoder.NewDecoderNode()
	})
	player.RegisterSinkNodeFactory("audio/raw", func() node.Node {
		return androidsink.NewSinkNode(conf.RenderSkipped)
	})

	prom := metrics.New()
	prom.Observe(events)

	wsGateway := gateway.NewWsGateway(player, events)
	restGateway := gateway.NewRestGateway(player, events)
	restGateway.Mount("/metrics", prom.Handler())
	restGateway.Mount("/api/ws", http.HandlerFunc(wsGateway.Hub().UpgradeToSocket))

	done := make(chan struct{})
	go listenForInterrupt(done)

	go scheduler.Loop(done)
	go wsGateway.Hub().Start()

	go func() {
		<-done
		restGateway.Stop()
		wsGateway.Hub().Close()
	}()

	if err := restGateway.Start(conf.Gateway.Host, conf.Gateway.Port); err != nil {
		log.Emit(logger.STOP, "HTTP gateway closed: %v\n", err.Error())
	}

	log.Emit(logger.STOP, "pvplayer shutdown complete\n")
}

func listenForInterrupt(done chan struct{}) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	close(done)
}

func parseLogLevelFromString(l string) (logger.LogLevel, error) {
	switch strings.ToLower(l) {
	case "verbose":
		return logger.VERBOSE.Level(), nil
	case "debug":
		return logger.DEBUG.Level(), nil
	case "info":
		return logger.INFO.Level(), nil
	case "important":
		return logger.SUCCESS.Level(), nil
	case "warning":
		return logger.WARNING.Level(), nil
	case "error":
		return logger.ERROR.Level(), nil
	default:
		return 0, fmt.Errorf("log level '%s' is not recognized", l)
	}
}
