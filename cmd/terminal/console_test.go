package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrgate/internal/terminal"
)

func TestConsolePasswordFromPipe(t *testing.T) {
	called := false
	old := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { called = true; return nil, nil }
	t.Cleanup(func() { readPasswordFunc = old })

	var out bytes.Buffer
	con := newConsole(strings.NewReader("  secreto \n"), &out, -1)

	pw, err := con.password(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secreto", pw)
	assert.False(t, called)
	assert.Contains(t, out.String(), "Contraseña")
}

func TestScanSourceForwardsUntilLeave(t *testing.T) {
	con := newConsole(strings.NewReader("ana@school.mx\n\n/salir\nlate@school.mx\n"), &bytes.Buffer{}, -1)
	con.start()

	left := make(chan struct{})
	src := &scanSource{c: con, leave: func() { close(left) }}
	frames, err := src.Frames(context.Background())
	require.NoError(t, err)

	var got []string
	for f := range frames {
		got = append(got, f)
	}
	assert.Equal(t, []string{"ana@school.mx"}, got)

	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave not called")
	}
}

func TestConsoleDisplay(t *testing.T) {
	var out bytes.Buffer
	con := newConsole(strings.NewReader(""), &out, -1)

	con.Granted(terminal.ScanResult{Movement: "entrada", Name: "Ana", Time: "08:00:00"})
	con.Denied("Usuario no encontrado")
	con.RemoteChanged(terminal.RemoteStatus{Active: false, State: "stopped"})

	s := out.String()
	assert.Contains(t, s, "ACCESO CONCEDIDO  ENTRADA  Ana  08:00:00")
	assert.Contains(t, s, "ACCESO DENEGADO  Usuario no encontrado")
	assert.Contains(t, s, "LECTOR INACTIVO")
}

func TestReadLineEOF(t *testing.T) {
	con := newConsole(strings.NewReader(""), &bytes.Buffer{}, -1)
	_, err := con.readLine(context.Background(), "")
	require.Error(t, err)
}
