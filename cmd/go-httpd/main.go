//go:build linux

package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpd "github.com/ehrlich-b/go-httpd"
	"github.com/ehrlich-b/go-httpd/internal/logging"
	"github.com/ehrlich-b/go-httpd/store"
)

func main() {
	var (
		port     = flag.Int("port", httpd.DefaultPort, "Port to listen on")
		trigMode = flag.Int("trig", 3, "Trigger mode: 0 LT/LT, 1 LT/ET, 2 ET/LT, 3 ET/ET")
		timeout  = flag.Duration("timeout", httpd.DefaultTimeout, "Idle connection timeout (0 disables)")
		srcDir   = flag.String("src", "", "Static asset root (default {cwd}/resources)")
		workers  = flag.Int("workers", httpd.DefaultWorkers, "Worker pool size")

		logDir   = flag.String("log-dir", "./log", "Log directory (empty logs to stderr)")
		logLevel = flag.Int("log-level", 1, "Log level: 0 debug, 1 info, 2 warn, 3 error")
		logQueue = flag.Int("log-queue", 1024, "Async log queue size (0 = synchronous)")
		noLog    = flag.Bool("no-log", false, "Disable logging entirely")

		sqlAddr = flag.String("sql-addr", "", "MySQL address host:port (empty = in-memory user store)")
		sqlUser = flag.String("sql-user", "root", "MySQL user")
		sqlPwd  = flag.String("sql-pwd", "", "MySQL password")
		sqlDB   = flag.String("sql-db", "webserver", "MySQL database")
		sqlPool = flag.Int("sql-pool", httpd.DefaultSQLPoolSize, "MySQL connection pool size")
	)
	flag.Parse()

	// Set up logging
	var logger *logging.Logger
	if !*noLog {
		logger = logging.NewLogger(&logging.Config{
			Level:     logging.LogLevel(*logLevel),
			Dir:       *logDir,
			Suffix:    ".log",
			QueueSize: *logQueue,
		})
		logging.SetDefault(logger)
		defer logger.Close()
	}

	// The user store is an external collaborator; without a database the
	// login/register form runs against process memory.
	var userStore httpd.UserStore
	if *sqlAddr != "" {
		mysqlStore, err := store.NewMySQL(store.Config{
			Addr:     *sqlAddr,
			User:     *sqlUser,
			Password: *sqlPwd,
			Database: *sqlDB,
			PoolSize: *sqlPool,
		})
		if err != nil {
			log.Fatalf("user store: %v", err)
		}
		defer mysqlStore.Close()
		userStore = mysqlStore
	} else {
		userStore = store.NewMemory()
	}

	metrics := httpd.NewMetrics()
	params := httpd.Params{
		Port:     *port,
		TrigMode: *trigMode,
		Timeout:  *timeout,
		SrcDir:   *srcDir,
		Workers:  *workers,
	}
	options := &httpd.Options{Observer: metrics, Store: userStore}
	if logger != nil {
		options.Logger = logger
	}
	srv, err := httpd.New(params, options)
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	// Stop the loop on SIGINT/SIGTERM
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		srv.Shutdown()
	}()

	start := time.Now()
	if err := srv.Serve(); err != nil {
		log.Fatalf("serve: %v", err)
	}

	snap := metrics.Snapshot()
	if logger != nil {
		logger.Infof("served %d requests over %v (%d accepted, %d rejected, avg %v)",
			snap.RequestCount, time.Since(start).Round(time.Second),
			snap.AcceptedConns, snap.RejectedConns, snap.AvgLatency)
	}
}
