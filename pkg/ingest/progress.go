package ingest

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// Progress reports how many work items have been processed.
type Progress interface {
	Start(total int)
	Increment()
	Finish()
}

type noopProgress struct{}

func (noopProgress) Start(int)  {}
func (noopProgress) Increment() {}
func (noopProgress) Finish()    {}

// barProgress renders a terminal progress bar.
type barProgress struct {
	out io.Writer
	p   *mpb.Progress
	bar *mpb.Bar
}

// NewBarProgress returns a Progress that draws a bar on out.
func NewBarProgress(out io.Writer) Progress {
	return &barProgress{out: out}
}

func (b *barProgress) Start(total int) {
	b.p = mpb.New(mpb.WithOutput(b.out), mpb.WithWidth(60))
	b.bar = b.p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name("datasets "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.Name(" "),
			decor.AverageETA(decor.ET_STYLE_GO),
		),
	)
}

func (b *barProgress) Increment() {
	if b.bar != nil {
		b.bar.Increment()
	}
}

func (b *barProgress) Finish() {
	if b.p == nil {
		return
	}

	if !b.bar.Completed() {
		b.bar.Abort(false)
	}

	b.p.Wait()
}

// logProgress logs a line every n processed items, for non-interactive
// runs.
type logProgress struct {
	log   logrus.FieldLogger
	every int

	mu    sync.Mutex
	done  int
	total int
}

// NewLogProgress returns a Progress that logs every n items.
func NewLogProgress(log logrus.FieldLogger, every int) Progress {
	if every < 1 {
		every = 1
	}

	return &logProgress{
		log:   log.WithField("component", "progress"),
		every: every,
	}
}

func (l *logProgress) Start(total int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = total
	l.done = 0
}

func (l *logProgress) Increment() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.done++

	if l.done%l.every == 0 || l.done == l.total {
		l.log.WithFields(logrus.Fields{
			"processed": l.done,
			"total":     l.total,
		}).Info("Ingestion progress")
	}
}

func (l *logProgress) Finish() {}
