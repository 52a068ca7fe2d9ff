// SPDX-License-Identifier: MIT

// ussd runs a USSD code using the modem and prints the network's response.
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
	msg := flag.String("m", "*101#", "the code to run")
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
	rsp, err := g.USSD(ctx, *msg)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(rsp)
}
