//go:build !windows

package diagnostics

import (
	"log/syslog"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AttachSyslog forwards log's output to a remote syslog daemon at
// addr (network "udp" or "tcp"), in addition to whatever writer log
// is already configured with (stderr, as set up by NewLogger). It is
// an additional sink, not a replacement; no local log file is written.
func AttachSyslog(log *logrus.Logger, network, addr string) error {
	writer, err := syslog.Dial(network, addr, syslog.LOG_DAEMON|syslog.LOG_INFO, "hproxyd")
	if err != nil {
		return errors.Wrapf(err, "dialing syslog at %s://%s", network, addr)
	}
	log.AddHook(&syslogHook{writer: writer})
	return nil
}

type syslogHook struct {
	writer *syslog.Writer
}

func (h *syslogHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *syslogHook) Fire(entry *logrus.Entry) error {
	line, err := entry.String()
	if err != nil {
		return err
	}
	switch entry.Level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return h.writer.Err(line)
	case logrus.WarnLevel:
		return h.writer.Warning(line)
	default:
		return h.writer.Info(line)
	}
}
