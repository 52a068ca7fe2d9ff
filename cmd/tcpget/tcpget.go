// SPDX-License-Identifier: MIT

// tcpget attaches to the packet network, opens a TCP connection, sends an
// HTTP GET and dumps whatever comes back.
//
// This provides an example of the full socket lifecycle: attach, open,
// send, receive events, close.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/modemlink/gsmat/bg95"
	"github.com/modemlink/gsmat/engine"
	"github.com/modemlink/gsmat/gsm"
	"github.com/modemlink/gsmat/serial"
	"github.com/modemlink/gsmat/sim800"
	"github.com/modemlink/gsmat/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB0", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	module := flag.String("M", "sim800", "modem module (sim800 or bg95)")
	apn := flag.String("a", "internet", "APN")
	host := flag.String("host", "93.184.216.34", "host to connect to")
	port := flag.Uint("port", 80, "port to connect to")
	timeout := flag.Duration("t", 2*time.Minute, "operation timeout period")
	verbose := flag.Bool("v", false, "log modem interactions")
	flag.Parse()

	m, err := serial.New(serial.WithPort(*dev), serial.WithBaud(*baud))
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()
	var mio io.ReadWriter = m
	if *verbose {
		mio = trace.New(m, log.New(os.Stdout, "", log.LstdFlags), trace.Escaped())
	}
	var dialect engine.Dialect = sim800.New()
	if *module == "bg95" {
		dialect = bg95.New()
	}
	g := gsm.New(mio, dialect, nil)
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err = g.NetworkAttach(ctx, *apn, "", ""); err != nil {
		log.Fatal(err)
	}
	log.Printf("attached, local address %v\n", g.Engine().LocalIP())

	done := make(chan struct{})
	ref, err := g.ConnStart(ctx, engine.TCP, *host, uint16(*port), func(evt engine.Event) {
		switch evt.Type {
		case engine.EventConnRecv:
			os.Stdout.Write(evt.Data)
		case engine.EventConnClose:
			close(done)
		}
	}, nil)
	if err != nil {
		log.Fatal(err)
	}
	get := fmt.Sprintf("GET / HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", *host)
	if err = g.ConnSend(ctx, ref, []byte(get)); err != nil {
		log.Fatal(err)
	}
	select {
	case <-done:
	case <-ctx.Done():
		g.ConnClose(context.Background(), ref)
	}
}
