package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/jota2rz/dualdeck/internal/browser"
	"github.com/jota2rz/dualdeck/internal/catalog"
	"github.com/jota2rz/dualdeck/internal/config"
	"github.com/jota2rz/dualdeck/internal/db"
	"github.com/jota2rz/dualdeck/internal/deck"
	"github.com/jota2rz/dualdeck/internal/engine"
	"github.com/jota2rz/dualdeck/internal/handlers"
	"github.com/jota2rz/dualdeck/internal/link"
	"github.com/jota2rz/dualdeck/internal/mirror"
	"github.com/jota2rz/dualdeck/internal/mixer"
	"github.com/jota2rz/dualdeck/internal/playlist"
	"github.com/jota2rz/dualdeck/internal/schedule"
	"github.com/jota2rz/dualdeck/internal/sse"
)

func main() {
	// ── Flags ───────────────────────────────────────────
	configPath := flag.String("config", "dualdeck.toml", "TOML configuration file")
	addr := flag.String("addr", ":8090", "HTTP listen address")
	dbPath := flag.String("db", "dualdeck.db", "SQLite database path")
	videosDir := flag.String("videos", "", "Directory containing video files (overrides the stored setting)")
	windowMode := flag.String("window", "local", `Presentation window: "local" (in-process) or "browser"`)
	presentURL := flag.String("presentation", "", "Run as a headless presentation connected to this console WebSocket URL (ws://host:port/ws)")
	analyse := flag.Bool("analyse", true, "Detect BPM from audio for files without a BPM tag")
	debug := flag.Bool("debug", false, "Enable debug logging")
	noBrowser := flag.Bool("no-browser", false, "Do not open the dashboard in a browser on startup")
	flag.Parse()

	// ── Logger ──────────────────────────────────────────
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	// ── Environment (.env is optional) ──────────────────
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env", "error", err)
		}
	}

	if *presentURL != "" {
		if err := runPresentation(*presentURL, *videosDir); err != nil {
			slog.Error("presentation failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// ── Config file ─────────────────────────────────────
	file, err := config.LoadFile(*configPath)
	if err != nil {
		slog.Error("failed to load config file", "error", err)
		os.Exit(1)
	}
	explicit := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	pick := func(name, flagValue, env, fileValue string) string {
		if explicit[name] {
			return flagValue
		}
		if v := os.Getenv(env); v != "" {
			return v
		}
		if fileValue != "" {
			return fileValue
		}
		return flagValue
	}
	*addr = pick("addr", *addr, "DUALDECK_ADDR", file.Server.Addr)
	*dbPath = pick("db", *dbPath, "DUALDECK_DB", file.Server.DB)
	if !explicit["no-browser"] && !file.Server.OpenBrowser {
		*noBrowser = true
	}

	// ── Database ────────────────────────────────────────
	database, err := db.Open(*dbPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	// ── Settings ────────────────────────────────────────
	cfg := config.New(database)
	if err := cfg.Apply(file.Settings); err != nil {
		slog.Error("failed to apply config file settings", "error", err)
		os.Exit(1)
	}
	if dir := pick("videos", *videosDir, "DUALDECK_VIDEOS", ""); dir != "" {
		if err := cfg.Set(config.KeyVideosDir, dir); err != nil {
			slog.Error("failed to store videos dir", "error", err)
			os.Exit(1)
		}
	}

	// ── Catalog + playlist ──────────────────────────────
	meta := catalog.NewMeta(database)
	cat := catalog.New(cfg.Get(config.KeyVideosDir, "./videos"), meta, *analyse)
	pl, err := playlist.Open(database, cat)
	if err != nil {
		slog.Error("failed to load playlist", "error", err)
		os.Exit(1)
	}

	// ── Event loop + mixer ──────────────────────────────
	loop := schedule.NewLoop()
	go loop.Run()

	var ctrl *mixer.Controller
	sims := [2]*engine.Sim{}
	for _, d := range deck.Both {
		sims[d.Index()] = engine.NewSim("console-"+d.String(), loop, cat.Duration,
			func(st deck.EngineState) { ctrl.HandleEngineState(d, st) },
			func() { ctrl.HandleEngineReady(d) })
	}

	hub := sse.NewHub()
	go hub.Run()
	browserLink := sse.NewTransport(hub)
	wsLink := link.NewWSServer()
	bus := link.NewBus()
	ep := link.NewEndpoint(link.Fanout{browserLink, wsLink, bus.Port()})

	baseURL := localURL(*addr)
	var window mixer.Window
	switch *windowMode {
	case "browser":
		window = browser.Window{URL: baseURL + "/presentation"}
	case "local":
		window = mirror.NewLocal(loop, bus, cat.Duration)
	default:
		slog.Error("unknown window mode", "window", *windowMode)
		os.Exit(1)
	}

	ctrl = mixer.New(loop,
		deck.NewPlayer(deck.A, sims[0]),
		deck.NewPlayer(deck.B, sims[1]),
		ep, pl, window, cfg.MixerSettings())
	ep.Subscribe(func(m link.Message) {
		loop.Post(func() { ctrl.HandleMessage(m) })
	})

	// Graceful shutdown channel (created early so /api/shutdown can use it)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	h := handlers.New(handlers.Deps{
		Config:   cfg,
		Hub:      hub,
		Link:     browserLink,
		WS:       wsLink,
		Mixer:    ctrl,
		Catalog:  cat,
		Playlist: pl,
		Run:      loop.Do,
		Shutdown: func() {
			time.Sleep(500 * time.Millisecond)
			done <- os.Interrupt
		},
	})
	ctrl.OnChange(h.PublishState)
	pl.OnIndexChange(func(int) { h.PublishPlaylist() })

	var drive schedule.Task
	loop.Do(func() {
		drive = engine.Drive(loop, engine.Tick, sims[0], sims[1])
		ctrl.Start()
		for _, s := range sims {
			s.Init()
		}
	})
	h.PublishPlaylist()

	// ── Routes ──────────────────────────────────────────
	mux := http.NewServeMux()
	h.Register(mux)
	// Video files and thumbnails, served from the catalog's current directory
	mux.HandleFunc("GET "+catalog.MediaPrefix, func(w http.ResponseWriter, r *http.Request) {
		http.StripPrefix(catalog.MediaPrefix, http.FileServer(http.Dir(cat.Dir()))).ServeHTTP(w, r)
	})

	// ── HTTP Server ────────────────────────────────────────
	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE needs unlimited write time
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// ── Auto-open dashboard ───────────────────────────────
	if !*noBrowser && !*debug {
		slog.Info("opening dashboard in browser", "url", baseURL+"/dashboard")
		if err := browser.Open(baseURL + "/dashboard"); err != nil {
			slog.Debug("could not open browser", "error", err)
		}
	}

	// ── Background scan + directory watcher ───────────────
	// watchCtx is canceled on shutdown to stop the watcher.
	watchCtx, watchCancel := context.WithCancel(context.Background())
	go func() {
		if err := cat.Scan(); err != nil {
			slog.Warn("catalog scan failed", "error", err)
		}
		meta.Cleanup()
		h.PublishLibrary()
		if err := cat.Watch(watchCtx, h.PublishLibrary); err != nil {
			slog.Warn("catalog watcher stopped", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down...")

	watchCancel()
	loop.Do(func() {
		ctrl.ClosePresentation()
		ctrl.Stop()
		drive.Cancel()
	})
	loop.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Close(); err != nil {
		slog.Debug("sync channel close", "error", err)
	}
	hub.Close()
	_ = srv.Shutdown(ctx)
}

// localURL resolves a listen address to a browsable base URL.
func localURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(host, port))
}

// runPresentation runs a headless presentation peer against a console. It
// returns when the console closes the presentation, the connection drops,
// or the process is interrupted.
func runPresentation(url, videosDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Durations come from a local copy of the library when there is one.
	duration := func(string) float64 { return 0 }
	if videosDir != "" {
		cat := catalog.New(videosDir, nil, false)
		if err := cat.Scan(); err != nil {
			slog.Warn("presentation library scan failed", "error", err)
		} else {
			duration = cat.Duration
		}
	}

	client, err := link.DialWS(ctx, url)
	if err != nil {
		return err
	}
	slog.Info("presentation connected to console", "url", url)

	loop := schedule.NewLoop()
	go loop.Run()
	defer loop.Close()

	closed := make(chan struct{})
	var session *mirror.Session
	loop.Do(func() {
		session = mirror.Run(loop, client, duration, func() { close(closed) })
	})

	select {
	case <-closed:
	case <-ctx.Done():
		loop.Do(session.Mirror.Shutdown)
		<-closed
	}
	slog.Info("presentation stopped")
	return nil
}
