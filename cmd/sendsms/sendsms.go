// SPDX-License-Identifier: MIT

// sendsms sends an SMS using the modem.
//
// This provides an example of using the SendSMS operation, as well as a test
// that the library works with the modem.
package main

import (
	"context"
	"flag"
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
	num := flag.String("n", "+12345", "number to send to, in international format")
	msg := flag.String("m", "Zoot Zoot", "the message to send")
	timeout := flag.Duration("t", 30*time.Second, "command timeout period")
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
	mr, err := g.SendSMS(ctx, *num, *msg)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("sent, message reference %s\n", mr)
}
