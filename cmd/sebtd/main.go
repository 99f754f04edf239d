package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/api"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/config"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/discovery"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/lockengine"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/sim"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/units"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/uplink"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/version"
)

var (
	simMode    = flag.Bool("sim", false, "Run against the simulated rig instead of real hardware")
	configPath = flag.String("config", "", "Path to a JSON settings file")
	listenFlag = flag.String("listen", "", "Listen address (overrides the config file)")
	dbFlag     = flag.String("db", "", "Path to the sqlite journal (overrides the config file)")
	unitsFlag  = flag.String("units", units.MM, "Display units for the API (mm, cm, m)")
)

// rigLink defers to the supervisor. The engine needs its rig at
// construction and the supervisor needs the engine as its sink, so the
// link is bound once both exist, before anything starts.
type rigLink struct {
	sup *transport.Supervisor
}

func (r *rigLink) SendCommand(command string) error      { return r.sup.SendCommand(command) }
func (r *rigLink) ConnectedKind() (transport.Kind, bool) { return r.sup.ConnectedKind() }

// Main
func main() {
	flag.Parse()

	settings := config.EmptySettings()
	if *configPath != "" {
		loaded, err := config.LoadSettings(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		settings = loaded
	}

	dbPath := settings.GetDBPath()
	if *dbFlag != "" {
		dbPath = *dbFlag
	}

	// subcommands run and exit before any of the daemon wiring
	if args := flag.Args(); len(args) > 0 {
		if args[0] != "migrate" {
			log.Fatalf("Unknown command %q", args[0])
		}
		store.RunMigrateCommand(args[1:], dbPath)
		return
	}

	listenAddr := settings.GetListenAddr()
	if *listenFlag != "" {
		listenAddr = *listenFlag
	}
	if listenAddr == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*unitsFlag) {
		log.Fatalf("Invalid units %q: valid values are %s", *unitsFlag, units.GetValidUnitsString())
	}

	st, err := store.OpenAndMigrate(dbPath)
	if err != nil {
		log.Fatalf("Failed to open journal database: %v", err)
	}
	defer st.Close()

	// every boot opens a fresh run so frames journalled from now on are
	// separable from earlier sessions
	if _, err := st.StartRun(time.Now(), "", "boot"); err != nil {
		log.Fatalf("Failed to open a run: %v", err)
	}

	bus := events.NewBus()

	// journal writers and the uplink subscribe before anything publishes,
	// so no early event is lost
	frameJournal := store.NewFrameJournal(st, nil)
	eventJournal := store.NewEventJournal(st, bus)
	var forwarder *uplink.Forwarder
	if url := settings.GetUplinkURL(); url != "" {
		forwarder = uplink.NewForwarder(nil, bus, st, url, nil)
		log.Printf("forwarding completion results to %s", url)
	}

	link := &rigLink{}
	engine := lockengine.NewEngine(lockengine.Config{
		Bus:                  bus,
		Rig:                  link,
		DisableLock:          !settings.GetLockEnabled(),
		LockRequiredCount:    settings.GetLockRequiredCount(),
		MaxValidDistanceMm:   settings.GetMaxValidDistanceMm(),
		SampleCount:          settings.GetManualSampleCount(),
		CollectTimeoutSerial: settings.GetCollectTimeoutSerial(),
		CollectTimeoutBridge: settings.GetCollectTimeoutBridge(),
	})

	var dialer transport.Dialer
	var candidates []transport.Endpoint
	if *simMode {
		dialer = sim.NewDialer(sim.Config{Interval: settings.GetHardwareSendInterval()})
		candidates = []transport.Endpoint{sim.Endpoint()}
		log.Print("running against the simulated rig")
	}

	connector := transport.NewConnector(transport.ConnectorConfig{
		Dialer:        dialer,
		PreferredPort: settings.GetPreferredPort(),
		BridgeAddr:    settings.GetBridgeAddr(),
		ProbeTimeout:  settings.GetProbeTimeout(),
		Candidates:    candidates,
	})
	supervisor := transport.NewSupervisor(transport.SupervisorConfig{
		Connector:  connector,
		Sink:       transport.FanoutSink{engine, frameJournal},
		Bus:        bus,
		RetryDelay: settings.GetRetryDelay(),
	})
	link.sup = supervisor

	// Create a wait group for the HTTP server, journal writer, discovery,
	// and uplink routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		frameJournal.Run(ctx)
		log.Print("frame journal routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		eventJournal.Run(ctx)
		log.Print("event journal routine terminated")
	}()

	if forwarder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forwarder.Run(ctx)
			log.Print("uplink routine terminated")
		}()
	}

	// answer discovery probes so dashboards can find the host
	responder := discovery.NewResponder(fmt.Sprintf(":%d", settings.GetDiscoveryPort()), listenAddr)
	if err := responder.Listen(); err != nil {
		log.Fatalf("Failed to bind discovery socket: %v", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := responder.Serve(ctx); err != nil {
			log.Printf("discovery responder error: %v", err)
		}
		log.Print("discovery routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance over the engine and its
		// collaborators and mount the API handlers
		apiServer := api.NewServer(engine, st, supervisor, bus, settings, *unitsFlag)
		mux := apiServer.ServeMux()

		// mount the admin debugging routes (accessible only over
		// localhost or Tailscale)
		apiServer.AttachAdminRoutes(mux)
		st.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    listenAddr,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("sebtd %s serving on %s (journal %s)", version.String(), listenAddr, dbPath)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// the supervisor starts last so its first status events already have
	// their subscribers
	supervisor.Start(ctx)

	// Wait for all goroutines to finish
	wg.Wait()
	supervisor.Stop()
	bus.Close()
	log.Printf("Graceful shutdown complete")
}
