// Command terminal runs a QR check-in terminal in the console. Payloads come
// from a keyboard-wedge scanner (or typed lines) on standard input.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"qrgate/internal/errs"
	"qrgate/internal/terminal"
)

// retryDelay paces retries after a failed step so an unreachable backend is
// not polled in a tight loop.
var retryDelay = 2 * time.Second

func main() {
	home, _ := os.UserHomeDir()
	var (
		baseURL   = flag.String("url", envOr("QRGATE_URL", "http://localhost:8081"), "API base URL")
		statePath = flag.String("state", envOr("QRGATE_STATE_FILE", filepath.Join(home, ".qrgate", "session.json")), "session file")
		cooldown  = flag.Duration("cooldown", 3*time.Second, "pause between scans")
		verbose   = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := newLogger(*verbose)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	con := newConsole(os.Stdin, os.Stdout, int(os.Stdin.Fd()))
	if err := run(ctx, con, *baseURL, *statePath, *cooldown, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("terminal stopped", zap.Error(err))
		os.Exit(1)
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func run(ctx context.Context, con *console, baseURL, statePath string, cooldown time.Duration, log *zap.Logger) error {
	sess, err := terminal.NewSession(
		terminal.NewClient(baseURL),
		&terminal.FileStore{Path: statePath},
		log,
		terminal.Options{Cooldown: cooldown},
	)
	if err != nil {
		return err
	}
	con.printf("Terminal %s\n", sess.OperatorID())
	sess.Restore()

	for {
		if err := ctx.Err(); err != nil {
			suspend(sess, log)
			return err
		}
		switch sess.Stage() {
		case terminal.StageAuthenticating:
			err = authenticate(ctx, con, sess)
		case terminal.StageSelecting:
			err = selectReader(ctx, con, sess)
		case terminal.StageScanning:
			err = scan(ctx, con, sess)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			suspend(sess, log)
			return nil
		case errors.Is(err, context.Canceled):
			suspend(sess, log)
			return err
		case errors.Is(err, errs.ErrUnauthorized):
			con.printf("La sesión expiró. Ingrese de nuevo.\n")
			if lerr := sess.Logout(ctx); lerr != nil {
				log.Warn("logout", zap.Error(lerr))
			}
		default:
			con.printf("Error: %v\n", err)
			log.Warn("terminal step failed", zap.Stringer("stage", sess.Stage()), zap.Error(err))
			select {
			case <-time.After(retryDelay):
			case <-ctx.Done():
			}
		}
	}
}

// suspend releases the lease on the way out; the reader is remembered.
func suspend(sess *terminal.Session, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := sess.Suspend(ctx); err != nil {
		log.Warn("release reader on exit", zap.Error(err))
	}
}

func authenticate(ctx context.Context, con *console, sess *terminal.Session) error {
	pw, err := con.password(ctx)
	if err != nil {
		return err
	}
	res, err := sess.Authenticate(ctx, pw)
	if err != nil {
		return err
	}
	switch {
	case res.Valid:
		con.printf("Acceso concedido.\n")
	case res.Locked:
		con.printf("Lector bloqueado: %s\n", res.Message)
	default:
		con.printf("Contraseña incorrecta. Intentos restantes: %d\n", res.Remaining)
	}
	return nil
}

func printReaders(con *console, readers []terminal.ReaderStatus, self string) {
	con.printf("\nLectores:\n")
	for _, r := range readers {
		state := "libre"
		switch {
		case r.IsLocked && r.LockedBy == self:
			state = "en uso por esta terminal"
		case r.IsLocked:
			state = "en uso"
		}
		con.printf("  %-8s %-24s %-20s %s\n", r.ID, r.Name, r.Location, state)
	}
}

func selectReader(ctx context.Context, con *console, sess *terminal.Session) error {
	readers, err := sess.Readers(ctx)
	if err != nil {
		return err
	}
	printReaders(con, readers, sess.OperatorID())

	id, err := con.readLine(ctx, "Lector: ")
	if err != nil {
		return err
	}
	id = strings.ToUpper(strings.TrimSpace(id))
	if id == "" {
		return nil
	}
	if _, err := sess.SelectReader(ctx, id); err != nil {
		if errors.Is(err, errs.ErrLockConflict) {
			con.printf("El lector %s está en uso por otra terminal.\n", id)
			return nil
		}
		if errors.Is(err, errs.ErrNotFound) {
			con.printf("Lector desconocido: %s\n", id)
			return nil
		}
		return err
	}
	return nil
}

func scan(ctx context.Context, con *console, sess *terminal.Session) error {
	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var leaving atomic.Bool
	src := &scanSource{c: con, leave: func() {
		leaving.Store(true)
		cancel()
	}}
	con.printf("\nEscaneando en %s. Escriba %s para cambiar de lector.\n", sess.ReaderID(), leaveCommand)
	con.start()

	err := sess.Scan(scanCtx, src, con)
	switch {
	case leaving.Load():
		return sess.Leave(ctx)
	case errors.Is(err, errs.ErrLockNotHeld), errors.Is(err, errs.ErrLockConflict):
		con.printf("Se perdió el lector; seleccione otro.\n")
		return nil
	case errors.Is(err, terminal.ErrSourceUnavailable):
		_, rerr := con.readLine(ctx, "Presione Enter para reintentar.\n")
		return rerr
	case err == nil && ctx.Err() == nil:
		// input closed
		return io.EOF
	}
	return err
}
