package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"

	"qrgate/internal/terminal"
)

// leaveCommand typed (or scanned) during SCANNING returns to reader selection.
const leaveCommand = "/salir"

var readPasswordFunc = term.ReadPassword // mockable

// console reads operator input and scanner payloads from one stream. USB QR
// readers act as keyboards and end every payload with a newline.
type console struct {
	in  *bufio.Reader
	out io.Writer
	fd  int

	// reading is only touched from the main goroutine.
	reading bool
	lines   chan string
}

func newConsole(in io.Reader, out io.Writer, fd int) *console {
	return &console{in: bufio.NewReader(in), out: out, fd: fd, lines: make(chan string)}
}

func (c *console) start() {
	if c.reading {
		return
	}
	c.reading = true
	go func() {
		defer close(c.lines)
		for {
			line, err := c.in.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				c.lines <- line
			}
			if err != nil {
				return
			}
		}
	}()
}

func (c *console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...)
}

func (c *console) readLine(ctx context.Context, prompt string) (string, error) {
	if prompt != "" {
		c.printf("%s", prompt)
	}
	c.start()
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// password reads without echo when attached to a terminal and nothing else
// is reading the input yet.
func (c *console) password(ctx context.Context) (string, error) {
	if !c.reading && term.IsTerminal(c.fd) {
		c.printf("Contraseña del lector: ")
		pw, err := readPasswordFunc(c.fd)
		c.printf("\n")
		return strings.TrimSpace(string(pw)), err
	}
	return c.readLine(ctx, "Contraseña del lector: ")
}

// scanSource forwards console lines as payloads until leaveCommand.
type scanSource struct {
	c     *console
	leave func()
}

func (s *scanSource) Frames(ctx context.Context) (<-chan string, error) {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-s.c.lines:
				if !ok {
					return
				}
				if line == leaveCommand {
					s.leave()
					return
				}
				select {
				case out <- line:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Display

func (c *console) Granted(r terminal.ScanResult) {
	c.printf("\n  ACCESO CONCEDIDO  %s  %s  %s\n", strings.ToUpper(string(r.Movement)), r.Name, r.Time)
}

func (c *console) Denied(reason string) {
	c.printf("\n  ACCESO DENEGADO  %s\n", reason)
}

func (c *console) Ready() {
	c.printf("Listo para escanear.\n")
}

func (c *console) RemoteChanged(st terminal.RemoteStatus) {
	if !st.ScanningAllowed() {
		c.printf("\n  *** LECTOR INACTIVO (activo=%v, estado=%s) ***\n  Esperando reactivación remota...\n", st.Active, st.State)
		return
	}
	c.printf("Lector activo. Cámara: %s. Escaneos de hoy: %d\n", st.CameraFacingMode, st.ScansToday)
}

func (c *console) SourceFailed(err error) {
	c.printf("No se pudo abrir la fuente de escaneo: %v\n", err)
}
