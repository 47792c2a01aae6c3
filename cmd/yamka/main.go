package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/curbz/yamka/internal/announcer"
	"github.com/curbz/yamka/internal/geolocation"
	"github.com/curbz/yamka/internal/mockserver"
	"github.com/curbz/yamka/internal/nav"
	"github.com/curbz/yamka/internal/routing"
	"github.com/curbz/yamka/internal/server"
	"github.com/curbz/yamka/internal/store"
	"github.com/curbz/yamka/pkg/util"
	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"
)

type loggingConfig struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format" validate:"omitempty,oneof=text json"`
	} `yaml:"logging"`
}

// demoTrack runs from Lviv railway station to Rynok Square.
var demoTrack = orb.LineString{
	{23.9944, 49.8397},
	{24.0120, 49.8397},
	{24.0120, 49.8419},
	{24.0316, 49.8419},
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the configuration file")
	mock := flag.Bool("mock", false, "serve routing, geocoding and a GPS feed from the built in mock server")
	mockPort := flag.String("mock-port", "8086", "port for the mock server")
	simulate := flag.Bool("simulate", false, "replay a track instead of using browser positions")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Debugf("no .env file loaded: %v", err)
	}

	logCfg, err := util.LoadConfig[loggingConfig](*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	level := logCfg.Logging.Level
	if level == "" {
		level = "info"
	}
	if err := util.InitLogging(level, logCfg.Logging.Format); err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	navCfg, err := nav.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: navigation config: %v", err)
	}
	routingCfg, err := routing.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: routing config: %v", err)
	}
	speechCfg, err := announcer.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: announcer config: %v", err)
	}
	storeCfg, err := store.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: store config: %v", err)
	}
	serverCfg, err := server.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: server config: %v", err)
	}
	geoCfg, err := geolocation.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("FATAL: geolocation config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := store.Open(ctx, *storeCfg)
	if err != nil {
		log.Fatalf("FATAL: could not open store: %v", err)
	}
	defer closeStore()

	var router routing.Service
	var geocoder routing.Geocoder
	var mockSrv *mockserver.Server
	var mockHTTP interface{ Shutdown(context.Context) error }
	if *mock {
		mockSrv = mockserver.New()
		mockSrv.Track = demoTrack
		mockHTTP = mockSrv.Start(*mockPort)
		gh := routing.NewGraphHopper("http://127.0.0.1:"+*mockPort+"/api/1", "mock", nil)
		router, geocoder = gh, gh
		log.Printf("mock mode: routing via mock server on port %s", *mockPort)
	} else {
		router, err = routing.New(*routingCfg)
		if err != nil {
			log.Fatalf("FATAL: %v", err)
		}
		if g, ok := router.(routing.Geocoder); ok {
			geocoder = g
		} else {
			log.Warnf("routing provider %s has no geocoder, search is disabled", routingCfg.Provider)
		}
	}

	speech := announcer.NewFromConfig(*speechCfg)
	go speech.Run(ctx)

	coord, err := nav.NewCoordinator(*navCfg, router, speech, st)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	go coord.Run(ctx)

	if *simulate {
		geoCfg.Source = "replay"
	}
	var track orb.LineString
	if geoCfg.Source == "replay" && geoCfg.Track == "" {
		track = demoTrack
	}
	if *mock && geoCfg.Source == "websocket" && geoCfg.URL == "" {
		geoCfg.URL = "ws://127.0.0.1:" + *mockPort + "/api/v2/positions"
	}
	src, err := geolocation.New(*geoCfg, track)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	feed, _ := src.(*geolocation.Feed)
	go coord.Track(ctx, src)
	log.Printf("positions from %s source", geoCfg.Source)

	srv := server.New(coord, geocoder, feed, serverCfg.SendBuffer)
	httpSrv := srv.Start(serverCfg.Port)

	apiPort := serverCfg.APIPort
	if apiPort == "" {
		apiPort = "8091"
	}
	api := srv.StartAPI(apiPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	srv.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server shutdown: %v", err)
	}
	if err := api.ShutdownWithTimeout(5 * time.Second); err != nil {
		log.Warnf("api shutdown: %v", err)
	}
	if mockHTTP != nil {
		mockHTTP.Shutdown(shutdownCtx)
	}
	cancel()
	log.Println("Server exited")
}
