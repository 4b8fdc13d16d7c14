package pipeline

import (
	"github.com/sirupsen/logrus"

	"github.com/minios-linux/potr/metrics"
	po "github.com/minios-linux/potr/pofile"
)

// writer persists the output catalog on the configured cadence. Every
// write goes through an atomic rename, so the file on disk is always a
// complete catalog.
type writer struct {
	path    string
	file    *po.File
	stream  bool
	every   int
	pending int

	failures int
	log      logrus.FieldLogger
	metrics  *metrics.Recorder
}

func newWriter(path string, file *po.File, opts Options, log logrus.FieldLogger, rec *metrics.Recorder) *writer {
	return &writer{
		path:    path,
		file:    file,
		stream:  opts.Stream,
		every:   opts.FlushEvery,
		log:     log,
		metrics: rec,
	}
}

// entryDone is called after each translated entry and flushes when the
// cadence is due. A failed flush is logged and the run continues; the
// in-memory catalog stays authoritative until the next write.
func (w *writer) entryDone() {
	w.pending++
	if w.stream || (w.every > 0 && w.pending >= w.every) {
		if err := w.write(); err != nil {
			w.failures++
			w.log.WithError(err).WithField("path", w.path).Warn("Incremental write failed, continuing")
		}
	}
}

// final performs the unconditional end-of-run write.
func (w *writer) final() error {
	return w.write()
}

func (w *writer) write() error {
	err := w.file.WriteFile(w.path)
	w.metrics.Write(err)
	if err != nil {
		return err
	}
	w.log.WithFields(logrus.Fields{
		"path":    w.path,
		"entries": w.pending,
	}).Debug("Catalog written")
	w.pending = 0
	return nil
}
