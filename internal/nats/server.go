package nats

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	ierr "github.com/mark3labs/taskr/internal/errors"
	"github.com/mark3labs/taskr/internal/logger"
)

const (
	readyTimeout    = 4 * time.Second
	drainTimeout    = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// StartEmbeddedNATS starts an in-process NATS server with JetStream file
// storage under dataDir. The server opens no network ports and installs no
// signal handlers; SIGINT belongs to the CLI.
func StartEmbeddedNATS(dataDir string) (*server.Server, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create NATS data directory: %w", err)
	}
	logger.Debug("Starting embedded NATS server with data dir: %s", dataDir)

	ns, err := server.NewServer(&server.Options{
		ServerName: "taskr",
		JetStream:  true,
		StoreDir:   dataDir,
		DontListen: true,
		NoSigs:     true,
		NoLog:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create NATS server: %w", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS server not ready within %s (is another taskr process using %s?)", readyTimeout, dataDir)
	}

	logger.Debug("NATS server ready for connections")
	return ns, nil
}

// ConnectInProcess connects to ns without going through the network.
func ConnectInProcess(ns *server.Server) (*nats.Conn, error) {
	conn, err := nats.Connect("", nats.InProcessServer(ns), nats.Name("taskr"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS in-process: %w", err)
	}
	return conn, nil
}

// CreateJetStream creates a JetStream context from a NATS connection.
func CreateJetStream(nc *nats.Conn) (jetstream.JetStream, error) {
	return jetstream.New(nc)
}

// Conn is an open event store backend: the embedded server, the in-process
// connection and the task event stream.
type Conn struct {
	JS     jetstream.JetStream
	Stream jetstream.Stream

	ns *server.Server
	nc *nats.Conn
}

// Open starts the embedded server under dataDir, connects to it and ensures
// the task event stream exists. Close releases everything Open acquired.
func Open(ctx context.Context, dataDir string) (*Conn, error) {
	ns, err := StartEmbeddedNATS(dataDir)
	if err != nil {
		return nil, err
	}
	nc, err := ConnectInProcess(ns)
	if err != nil {
		ns.Shutdown()
		return nil, err
	}
	c := &Conn{ns: ns, nc: nc}

	if c.JS, err = CreateJetStream(nc); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	if c.Stream, err = SetupStream(ctx, c.JS); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup stream: %w", err)
	}
	return c, nil
}

// Close drains the connection and shuts the server down.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	err := Shutdown(c.nc, c.ns)
	c.nc, c.ns = nil, nil
	return err
}

// Shutdown drains nc (falling back to a hard close) and then stops ns, each
// bounded by a timeout. Either argument may be nil.
func Shutdown(nc *nats.Conn, ns *server.Server) error {
	errs := &ierr.MultiError{}

	if nc != nil {
		done := make(chan error, 1)
		go func() { done <- nc.Drain() }()
		select {
		case err := <-done:
			if err != nil {
				logger.Warn("NATS drain failed, forcing close: %v", err)
				nc.Close()
			}
		case <-time.After(drainTimeout):
			logger.Warn("NATS drain timed out after %s, forcing close", drainTimeout)
			nc.Close()
		}
	}

	if ns != nil {
		ns.Shutdown()
		done := make(chan struct{})
		go func() {
			ns.WaitForShutdown()
			close(done)
		}()
		select {
		case <-done:
			logger.Debug("NATS server shut down cleanly")
		case <-time.After(shutdownTimeout):
			errs.Append(ierr.NewTransientError("nats shutdown", fmt.Errorf("timed out after %s", shutdownTimeout)))
		}
	}

	return errs.ErrorOrNil()
}
