package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"goimapcore/internal/client"
	"goimapcore/internal/config"
	"goimapcore/internal/imap"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	profileName := flag.String("profile", "", "profile name to connect with")
	flag.Parse()

	level := slog.LevelInfo
	if isatty.IsTerminal(os.Stderr.Fd()) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	profile := cfg.Lookup(*profileName)
	if profile == nil {
		if len(cfg.Profiles) == 1 {
			profile = &cfg.Profiles[0]
		} else {
			logger.Error("no such profile, and more than one is configured", "profile", *profileName)
			os.Exit(1)
		}
	}

	if profile.Password == "" {
		pw, err := promptPassword(profile.Username)
		if err != nil {
			logger.Error("failed to read password", "err", err)
			os.Exit(1)
		}
		profile.Password = pw
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, profile, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("session error", "err", err)
		os.Exit(1)
	}
}

func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "password for %s: ", username)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pw), nil
}

func run(ctx context.Context, profile *config.Profile, logger *slog.Logger) error {
	dialer := net.Dialer{Timeout: 30 * time.Second}

	var conn net.Conn
	var err error
	if profile.Security == config.TLSModeImplicit {
		conn, err = tls.DialWithDialer(&dialer, "tcp", profile.Addr(), &tls.Config{ServerName: profile.Host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", profile.Addr())
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", profile.Addr(), err)
	}
	defer conn.Close()

	plog := client.NewProtocolLogger(logger)
	plog.LogConnect(profile.Addr())

	eng := client.NewEngine(conn, plog)
	if err := eng.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	if profile.Security == config.TLSModeStartTLS {
		upgrade := func(t imap.Transport) (imap.Transport, error) {
			tc := tls.Client(conn, &tls.Config{ServerName: profile.Host})
			if err := tc.HandshakeContext(ctx); err != nil {
				return nil, err
			}
			return tc, nil
		}
		if err := eng.StartTLS(ctx, upgrade); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	creds := client.Credentials{Username: profile.Username, Password: profile.Password}
	rank := client.SASLRank(profile.SASLMechanisms)
	if len(rank) == 0 {
		rank = client.SASLRank{"PLAIN", "LOGIN"}
	}
	if err := eng.Authenticate(ctx, creds, rank); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("authenticated", "folders", len(eng.Folders()))

	mailbox := profile.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if !profile.FolderAllowed(mailbox) {
		return fmt.Errorf("mailbox %q is excluded by this profile's folder filter", mailbox)
	}
	if _, err := eng.Select(ctx, mailbox); err != nil {
		return fmt.Errorf("select %s: %w", mailbox, err)
	}
	logger.Info("selected mailbox", "mailbox", mailbox)

	keepalive := profile.IdleKeepalive()
	for {
		done := make(chan struct{})
		var once sync.Once
		closeDone := func() { once.Do(func() { close(done) }) }

		timer := time.AfterFunc(keepalive, closeDone)
		stopWatch := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				closeDone()
			case <-stopWatch:
			}
		}()

		err := eng.Idle(ctx, done, func(line *imap.Line) {
			logger.Info("untagged event", "verb", line.Verb, "num", line.Num)
		})
		timer.Stop()
		close(stopWatch)
		if err != nil {
			return fmt.Errorf("idle: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
