package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	glog "github.com/CodedInternet/gogarden/log"
	"github.com/CodedInternet/gogarden/onboard"
	"github.com/CodedInternet/gogarden/onboard/queue"
	"github.com/CodedInternet/gogarden/onboard/serialbus"
)

const (
	DB_FILE          = "garden.db"
	INBOX_DIR        = "inbox"
	DISCOVER_TIMEOUT = 10 * time.Second
	SHUTDOWN_TIMEOUT = 5 * time.Second
)

type EnvConfig struct {
	CONFIG     string `env:"GARDEN_CONFIG" envDefault:"./garden.yaml"`
	DATA_DIR   string `env:"GARDEN_DATA_DIR"`
	DEBUG      bool   `env:"GARDEN_DEBUG" envDefault:"false"`
	LISTEN     string `env:"GARDEN_LISTEN" envDefault:"0.0.0.0:8080"`
	JWT_SECRET string `env:"GARDEN_JWT_SECRET"`
	JWT_ISSUER string `env:"GARDEN_JWT_ISSUER" envDefault:"DEV"`
	HTMLDIR    string `env:"GARDEN_HTMLDIR" envDefault:"./frontend/dist/"`
}

func main() {
	ENV := new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	app := &cli.App{
		Name:  "gogarden",
		Usage: "Garden robot orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the YAML config file",
				Value: ENV.CONFIG,
			},
			&cli.BoolFlag{
				Name:  "sim",
				Usage: "Run against simulated nodes",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "ip:port to serve the API on",
				Value: ENV.LISTEN,
			},
			&cli.BoolFlag{
				Name:  "shell",
				Usage: "Start the development shell",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Debug logging, websocket authentication disabled",
				Value: ENV.DEBUG,
			},
		},
		Action: func(c *cli.Context) error {
			ENV.CONFIG = c.String("config")
			ENV.LISTEN = c.String("listen")
			ENV.DEBUG = c.Bool("debug")
			return run(ENV, c.Bool("sim"), c.Bool("shell"))
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string, simulated bool) (onboard.GardenConfig, error) {
	config, err := onboard.LoadConfig(path)
	if errors.Is(err, os.ErrNotExist) && simulated {
		return onboard.DefaultConfig(), nil
	}
	return config, err
}

func run(ENV *EnvConfig, simulated, withShell bool) error {
	log := glog.New(ENV.DEBUG, os.Stderr)
	defer log.Sync()

	config, err := loadConfig(ENV.CONFIG, simulated)
	if err != nil {
		return fmt.Errorf("config %s: %w", ENV.CONFIG, err)
	}
	if ENV.DATA_DIR != "" {
		config.DataDir = ENV.DATA_DIR
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One scheduler per data dir
	store, err := queue.OpenStore(config.DataDir)
	if err != nil {
		return err
	}
	lock, err := queue.LockDir(store.Dir())
	if err != nil {
		return err
	}
	defer lock.Unlock()

	db, err := storm.Open(filepath.Join(config.DataDir, DB_FILE))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	journal, err := queue.NewStormJournal(db)
	if err != nil {
		return err
	}

	links, closeLinks, err := openLinks(ctx, config, simulated, log)
	if err != nil {
		return err
	}
	defer closeLinks()

	dctx, dcancel := context.WithTimeout(ctx, DISCOVER_TIMEOUT)
	bot, err := onboard.Discover(dctx, config, links, log.Named("discovery"))
	dcancel()
	if err != nil {
		return fmt.Errorf("node discovery: %w", err)
	}

	q, err := queue.New(store, bot, journal, log.Named("queue"))
	if err != nil {
		return err
	}
	q.Start(ctx)

	inbox, err := queue.NewInbox(filepath.Join(config.DataDir, INBOX_DIR), q, log.Named("inbox"))
	if err != nil {
		return err
	}
	go func() {
		if err := inbox.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("inbox stopped", zap.Error(err))
		}
	}()

	server, err := NewServer(ENV, db, q, journal, bot, log.Named("api"))
	if err != nil {
		return err
	}
	httpServer := &http.Server{Addr: ENV.LISTEN, Handler: server.Routes()}
	go func() {
		log.Info("listening", zap.String("addr", ENV.LISTEN))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			q.Stop()
		}
	}()

	if withShell {
		go server.Shell().Start()
	}

	// First interrupt lets the running step finish, the second abandons it.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("stopping after the current step, interrupt again to force")
		q.Stop()
		<-sigCh
		log.Warn("force killing the running action")
		q.ForceKill()
	}()

	<-q.Done()
	log.Info("queue stopped", zap.Int("pending", len(q.State().Pending)))

	sctx, scancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer scancel()
	return httpServer.Shutdown(sctx)
}

// openLinks opens one serial port per configured node, or starts the
// simulator.
func openLinks(ctx context.Context, config onboard.GardenConfig, simulated bool, log *zap.Logger) (links []onboard.Link, closeAll func(), err error) {
	if simulated {
		sim := onboard.StartSimulator(ctx, config.Simulator, log.Named("sim"))
		return sim.Links(), func() {}, nil
	}

	var ports []*serialbus.Port
	closeAll = func() {
		for _, p := range ports {
			p.Close()
		}
	}

	for _, device := range config.Nodes {
		p, err := serialbus.OpenPort(serialbus.PortConfig{Device: device}, log.Named("serial"))
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		ports = append(ports, p)
		links = append(links, onboard.Link{Name: p.Name(), Transport: p})
	}
	if len(links) == 0 {
		return nil, nil, errors.New("no nodes configured, use --sim to run without hardware")
	}
	return links, closeAll, nil
}
