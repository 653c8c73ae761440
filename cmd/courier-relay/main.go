// Command courier-relay runs the reference inbox relay, which also
// hosts a public blob endpoint under /blob.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/courier/relay"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	longPoll := flag.Duration("long-poll-timeout", 25*time.Second, "how long to hold an empty longPoll listing open")
	maxBody := flag.Int64("max-body", 16<<20, "maximum accepted notification/blob body in bytes")
	logLevel := flag.String("log-level", "info", "logrus level")
	flag.Parse()

	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logrus.SetLevel(level)
	}

	server := relay.NewServer()
	server.LongPollTimeout = *longPoll
	server.MaxBodySize = *maxBody

	logrus.WithFields(logrus.Fields{
		"addr":              *addr,
		"long_poll_timeout": *longPoll,
		"max_body":          *maxBody,
	}).Info("Starting courier relay")

	if err := http.ListenAndServe(*addr, server); err != nil {
		logrus.WithField("error", err.Error()).Fatal("Relay exited")
	}
}
