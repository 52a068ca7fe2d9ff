// SPDX-License-Identifier: MIT

// Package serial provides the serial port connecting the engine to the
// physical modem. It wraps tarm serial and adds the line rate switch used
// when a dialect raises the baudrate after reset.
package serial

import (
	"sync"

	"github.com/tarm/serial"
)

// Config describes the port to open.
type Config struct {
	port string
	baud int
}

// Option modifies the Config used to open the port.
type Option func(*Config)

// WithPort sets the device path of the port.
func WithPort(port string) Option {
	return func(c *Config) {
		c.port = port
	}
}

// WithBaud sets the line rate of the port.
func WithBaud(baud int) Option {
	return func(c *Config) {
		c.baud = baud
	}
}

// Port is a serial connection to the modem. It implements io.ReadWriteCloser
// and the engine's BaudSetter.
type Port struct {
	mu  sync.Mutex
	cfg Config
	p   *serial.Port
}

// New opens the serial port described by the options, starting from the
// platform default.
func New(options ...Option) (*Port, error) {
	cfg := defaultConfig
	for _, option := range options {
		option(&cfg)
	}
	p, err := serial.OpenPort(&serial.Config{Name: cfg.port, Baud: cfg.baud})
	if err != nil {
		return nil, err
	}
	return &Port{cfg: cfg, p: p}, nil
}

func (p *Port) Read(b []byte) (int, error) {
	return p.p.Read(b)
}

func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p.Write(b)
}

// Close closes the port.
func (p *Port) Close() error {
	return p.p.Close()
}

// SetBaudrate switches the line rate by reopening the port. The underlying
// driver cannot retune an open port, so a brief gap in reception is
// unavoidable; the engine only switches rates inside the reset sequence
// where the modem is silent.
func (p *Port) SetBaudrate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.p.Close(); err != nil {
		return err
	}
	np, err := serial.OpenPort(&serial.Config{Name: p.cfg.port, Baud: baud})
	if err != nil {
		return err
	}
	p.cfg.baud = baud
	p.p = np
	return nil
}
