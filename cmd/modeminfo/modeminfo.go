// SPDX-License-Identifier: MIT

// modeminfo collects and displays information related to the modem and its
// current configuration.
//
// This serves as an example of issuing raw commands, as well as providing
// information which may be useful for debugging.
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
	timeout := flag.Duration("t", 5*time.Second, "command timeout period")
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
	cmds := []string{
		"I",
		"+GCAP",
		"+CGMI",
		"+CGMM",
		"+CGMR",
		"+CGSN",
		"+CIMI",
		"+CSQ",
		"+COPS?",
		"+CREG?",
		"+CGREG?",
	}
	for _, cmd := range cmds {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		info, err := g.Command(ctx, cmd)
		cancel()
		if err != nil {
			log.Printf("AT%s: %v\n", cmd, err)
			continue
		}
		fmt.Printf("AT%s:\n", cmd)
		for _, l := range info {
			fmt.Printf("  %s\n", l)
		}
	}
}
