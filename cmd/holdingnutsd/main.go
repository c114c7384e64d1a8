// holdingnutsd is the poker server daemon. Clients speak a line-based text
// protocol over TCP or WebSocket; games run on a single tick loop.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/decred/slog"

	"github.com/lxq2537664558/holdingnuts/pkg/config"
	"github.com/lxq2537664558/holdingnuts/pkg/server"
	"github.com/lxq2537664558/holdingnuts/pkg/server/db"
)

func realMain() error {
	cfgPath := flag.String("config", "holdingnuts.yml", "path to the config file")
	listen := flag.String("listen", "", "override the TCP listen address")
	httpListen := flag.String("httplisten", "", "override the HTTP listen address")
	dbPath := flag.String("db", "", "override the database path")
	debugLevel := flag.String("debuglevel", "", "log level (trace, debug, info, warn, error)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *httpListen != "" {
		cfg.HTTPListen = *httpListen
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debugLevel != "" {
		cfg.DebugLevel = *debugLevel
	}

	backend := slog.NewBackend(os.Stdout)
	log := backend.Logger("SERVER")
	if lvl, ok := slog.LevelFromString(cfg.DebugLevel); ok {
		log.SetLevel(lvl)
	}

	database, err := db.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	srv, err := server.NewServer(cfg, database, log)
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return err
	}
	defer l.Close()

	go func() {
		if err := srv.ServeTCP(l); err != nil {
			log.Errorf("tcp listener: %v", err)
		}
	}()

	var httpSrv *http.Server
	if cfg.HTTPListen != "" {
		httpSrv = &http.Server{Addr: cfg.HTTPListen, Handler: srv.HTTPHandler()}
		log.Infof("http endpoint on %s", cfg.HTTPListen)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("http listener: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigC
		log.Infof("received %s, shutting down", sig)
		cancel()
	}()

	err = srv.Run(ctx)

	l.Close()
	if httpSrv != nil {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = httpSrv.Shutdown(shutCtx)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	if err := realMain(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
