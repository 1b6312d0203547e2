package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gliderlabs/ssh"
	"github.com/iwanhae/ssh-gate/chat"
	"github.com/iwanhae/ssh-gate/config"
	"github.com/iwanhae/ssh-gate/denylist"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfg = config.Load()

func main() {
	rootCmd := &cobra.Command{
		Use:          "ssh-gate",
		Short:        "An SSH chat server with a persistent identity blacklist",
		Long:         "An SSH chat server that blocks blacklisted public-key identities at connection time.",
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding the blacklist and the name cache")
	rootCmd.PersistentFlags().StringVar(&cfg.Backend, "backend", cfg.Backend, "persistence backend: file or sqlite")
	rootCmd.PersistentFlags().BoolVar(&cfg.Debug, "debug", cfg.Debug, "enable debug logging")

	rootCmd.Flags().StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (e.g. :2222 or 0.0.0.0:2222)")
	rootCmd.Flags().StringVar(&cfg.HostKeyPath, "host-key", cfg.HostKeyPath, "path to SSH host private key")
	rootCmd.Flags().IntVar(&cfg.MaxPerIP, "max-per-ip", cfg.MaxPerIP, "max simultaneous connections allowed per IP")
	rootCmd.Flags().IntVar(&cfg.ConnectionsPerMinute, "throttle", cfg.ConnectionsPerMinute, "connection attempts allowed per IP per minute (0 disables)")
	rootCmd.Flags().StringSliceVar(&cfg.Operators, "operator", cfg.Operators, "identity allowed to use /blacklist (repeatable)")

	rootCmd.AddCommand(newBlacklistCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// storage is an opened backend together with the lock on its root.
type storage struct {
	denylist.Store
	lock *denylist.DirLock
}

func (s *storage) Close() error {
	err := s.Store.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// openStore locks the storage root and builds the configured persistence
// backend. It fails with denylist.ErrStorageLocked while another process,
// such as a running server, owns the root.
func openStore(c *config.Config, logger logrus.FieldLogger) (*storage, error) {
	lock, err := denylist.LockDir(c.DataDir)
	if err != nil {
		return nil, err
	}

	var store denylist.Store
	switch c.Backend {
	case config.BackendSQLite:
		s, err := denylist.NewSQLiteStore(c.SQLitePath())
		if err != nil {
			lock.Unlock()
			return nil, err
		}
		store = s
	default:
		store = denylist.NewFileStore(c.DataDir)
	}
	if err := store.Init(); err != nil {
		store.Close()
		lock.Unlock()
		return nil, fmt.Errorf("init %s store: %w", c.Backend, err)
	}
	logger.WithFields(logrus.Fields{"backend": c.Backend, "path": c.DataDir}).Info("storage ready")
	return &storage{Store: store, lock: lock}, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	operators, err := cfg.Validate()
	if err != nil {
		return err
	}
	logger := newLogger()
	if len(operators) == 0 {
		logger.Warn("no operators configured, /blacklist is disabled in chat")
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	gate := denylist.NewController(store, logger)
	gate.Load()
	// runs before store.Close releases the lock
	defer gate.Flush()

	room := chat.NewServer(cfg.MaxPerIP, logger)
	gate.SetRegistry(room)
	gw := &gateway{
		gate:     gate,
		room:     room,
		commands: chat.NewCommands(gate, room, operators, logger),
		throttle: chat.NewConnectionThrottle(cfg.ConnectionsPerMinute, time.Minute),
		log:      logger,
	}

	srv := &ssh.Server{
		Addr:    cfg.Addr,
		Handler: sessionHandler(gw),
		// any key is accepted; the key itself is the identity checked by the gate
		PublicKeyHandler: func(ctx ssh.Context, key ssh.PublicKey) bool { return true },
	}
	if err := srv.SetOption(ssh.HostKeyFile(cfg.HostKeyPath)); err != nil {
		return fmt.Errorf("failed to load host key: %w", err)
	}

	quitCh := make(chan os.Signal, 1)
	signal.Notify(quitCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("starting ssh gate")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-quitCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("ssh server error")
		_ = srv.Close()
		return err
	}

	room.AppendSystemMessage("Server is shutting down.")
	return srv.Close()
}

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Manage the blacklist offline",
	}

	withGate := func(run func(gate *denylist.Controller, name string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if _, err := cfg.Validate(); err != nil {
				return err
			}
			logger := newLogger()
			logger.SetLevel(logrus.WarnLevel)
			if cfg.Debug {
				logger.SetLevel(logrus.DebugLevel)
			}
			store, err := openStore(cfg, logger)
			if errors.Is(err, denylist.ErrStorageLocked) {
				return fmt.Errorf("%w; stop the server or use /blacklist in chat", err)
			}
			if err != nil {
				return err
			}
			defer store.Close()
			gate := denylist.NewController(store, logger)
			gate.Load()
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return run(gate, name)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>",
		Short: "Blacklist the identity last seen under a name",
		Args:  cobra.ExactArgs(1),
		RunE: withGate(func(gate *denylist.Controller, name string) error {
			res, id := gate.DenyByName(name)
			if res == denylist.UnknownName {
				return fmt.Errorf("name %q has never been seen", name)
			}
			fmt.Printf("%s (%s) added to the blacklist\n", denylist.NormalizeName(name), id)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "unlock <name>",
		Short: "Remove the identity last seen under a name from the blacklist",
		Args:  cobra.ExactArgs(1),
		RunE: withGate(func(gate *denylist.Controller, name string) error {
			res, id := gate.AllowByName(name)
			if res == denylist.UnknownName {
				return fmt.Errorf("name %q has never been seen", name)
			}
			fmt.Printf("%s (%s) unblocked\n", denylist.NormalizeName(name), id)
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print blacklisted identities and the names they were seen with",
		Args:  cobra.NoArgs,
		RunE: withGate(func(gate *denylist.Controller, _ string) error {
			for _, e := range gate.List() {
				names := "-"
				if len(e.Names) > 0 {
					names = strings.Join(e.Names, ",")
				}
				fmt.Printf("%s\t%s\n", e.Identity, names)
			}
			return nil
		}),
	})

	return cmd
}
