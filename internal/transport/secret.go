package transport

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// ErrNoSecret is returned when a provider has nothing to offer.
var ErrNoSecret = errors.New("transport: no secret available")

// SecretProvider supplies the password used to unlock connection credentials.
// Secrets are handed to the connection and never stored or logged.
type SecretProvider interface {
	Secret() ([]byte, error)
}

// StaticSecret is a fixed secret, mostly for tests.
type StaticSecret []byte

func (s StaticSecret) Secret() ([]byte, error) {
	if len(s) == 0 {
		return nil, ErrNoSecret
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

// EnvSecret reads the secret from an environment variable.
type EnvSecret struct {
	Key    string
	lookup func(string) (string, bool)
}

func (e EnvSecret) Secret() ([]byte, error) {
	lookup := e.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(e.Key)
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: %s not set", ErrNoSecret, e.Key)
	}
	return []byte(v), nil
}

// ConsoleSecret prompts on the terminal without echoing input.
type ConsoleSecret struct {
	Prompt string
	In     *os.File
	Out    io.Writer
}

const defaultPrompt = "Please enter certificate private key password: "

func (c ConsoleSecret) Secret() ([]byte, error) {
	in, out, prompt := c.In, c.Out, c.Prompt
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if prompt == "" {
		prompt = defaultPrompt
	}
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("%w: stdin is not a terminal", ErrNoSecret)
	}
	_, _ = fmt.Fprint(out, prompt)
	secret, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(out)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return secret, nil
}

// FirstSecret tries providers in order and returns the first secret found.
type FirstSecret []SecretProvider

func (f FirstSecret) Secret() ([]byte, error) {
	var errs []error
	for _, p := range f {
		s, err := p.Secret()
		if err == nil {
			return s, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, ErrNoSecret
	}
	return nil, errors.Join(errs...)
}
