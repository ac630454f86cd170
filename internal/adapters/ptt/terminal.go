package ptt

import (
	"errors"
	"os"

	"golang.org/x/term"
)

var ErrNotTerminal = errors.New("stdin is not a terminal")

// Terminal reads single key presses from stdin in raw mode.
type Terminal struct {
	in    *os.File
	state *term.State
	buf   [1]byte
}

func OpenTerminal(in *os.File) (*Terminal, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNotTerminal
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &Terminal{in: in, state: state}, nil
}

func (t *Terminal) ReadKey() (byte, error) {
	if _, err := t.in.Read(t.buf[:]); err != nil {
		return 0, err
	}
	return t.buf[0], nil
}

// Close restores the terminal mode.
func (t *Terminal) Close() error {
	return term.Restore(int(t.in.Fd()), t.state)
}
