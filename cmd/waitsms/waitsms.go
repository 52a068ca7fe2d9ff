// SPDX-License-Identifier: MIT

// waitsms waits for SMSs to be received by the modem, and dumps them to
// stdout.
//
// This provides an example of consuming engine events, as well as a test
// that the library works with the modem.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"time"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"

	"github.com/modemlink/gsmat/bg95"
	"github.com/modemlink/gsmat/engine"
	"github.com/modemlink/gsmat/gsm"
	"github.com/modemlink/gsmat/serial"
	"github.com/modemlink/gsmat/sim800"
	"github.com/modemlink/gsmat/trace"
)

func main() {
	dev := flag.String("d", "/dev/ttyUSB2", "path to modem device")
	baud := flag.Int("b", 115200, "baud rate")
	module := flag.String("M", "sim800", "modem module (sim800 or bg95)")
	period := flag.Duration("p", 10*time.Minute, "period to wait")
	timeout := flag.Duration("t", 5*time.Second, "command timeout period")
	pduMode := flag.Bool("pdu", false, "received bodies are hex encoded PDUs")
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

	// reassemble multi-part messages before display.
	collector := sms.NewCollector()
	defer collector.Close()
	smss := make(chan engine.Event, 8)
	g := gsm.New(mio, dialect, nil, engine.WithEventFunc(func(evt engine.Event) {
		if evt.Type == engine.EventSMSRecv {
			smss <- evt
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	// forward received SMSs to the host rather than storing them.
	if _, err = g.Command(ctx, "+CNMI=1,2,2,1,0"); err != nil {
		log.Fatal(err)
	}
	cancel()

	wait, cancel := context.WithTimeout(context.Background(), *period)
	defer cancel()
	for {
		select {
		case <-wait.Done():
			log.Println("exiting...")
			return
		case <-g.Closed():
			log.Fatal("modem closed, exiting...")
		case evt := <-smss:
			if evt.Index != 0 && len(evt.Data) == 0 {
				log.Printf("stored message at index %d\n", evt.Index)
				continue
			}
			if !*pduMode {
				log.Printf("%s: %s\n", evt.Info, evt.Data)
				continue
			}
			dump(collector, string(evt.Data))
		}
	}
}

// dump decodes one hex encoded PDU body, collecting multi-part messages
// until complete.
func dump(c *sms.Collector, body string) {
	pdu, err := pdumode.UnmarshalHexString(body)
	if err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	tp := tpdu.TPDU{}
	if err = tp.UnmarshalBinary(pdu.TPDU); err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	tpdus, err := c.Collect(tp)
	if err != nil {
		log.Printf("err: %v\n", err)
		return
	}
	msg, err := sms.Decode(tpdus)
	if err != nil {
		log.Printf("err: %v\n", err)
	}
	if msg != nil {
		log.Printf("%s: %s\n", tpdus[0].OA.Number(), msg)
	}
}
