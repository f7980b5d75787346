package logger

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// New returns a JSON logger pre-tagged with the service name. The field
// vocabulary (service, action) is shared with the broker relay payloads so
// log lines and published events correlate.
func New(service string) *log.Entry {
	l := log.New()
	l.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	l.SetOutput(os.Stdout)
	if lvl, err := log.ParseLevel(os.Getenv("TABLESERVE_LOG_LEVEL")); err == nil {
		l.SetLevel(lvl)
	}
	host, _ := os.Hostname()
	return l.WithFields(log.Fields{"service": service, "hostname": host})
}
