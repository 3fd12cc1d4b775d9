// Package logrusstackhook attaches the logging call's stack to log entries.
package logrusstackhook

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/stackutil"
)

var DefaultLevels = []logrus.Level{logrus.DebugLevel, logrus.TraceLevel}

// hidden are trimmed from the top of every captured stack.
var hidden = []string{
	"github.com/sirupsen/logrus",
	"fknsrs.biz/p/ytfeeds/internal/logrusstackhook",
}

type Options struct {
	// Levels defaults to DefaultLevels.
	Levels []logrus.Level
	// Depth caps the number of frames; zero means 25.
	Depth int
	// Field, when set, stores the whole stack as one list under that key.
	// Otherwise each frame gets its own stack.NN field.
	Field string
	// Skip lists further packages to trim from the top of the stack.
	Skip []string
}

type StackHook struct {
	levels []logrus.Level
	depth  int
	field  string
	skip   []string
}

func NewStackHook(opts Options) *StackHook {
	h := &StackHook{
		levels: opts.Levels,
		depth:  opts.Depth,
		field:  opts.Field,
		skip:   append(append([]string(nil), hidden...), opts.Skip...),
	}

	if h.levels == nil {
		h.levels = DefaultLevels
	}
	if h.depth <= 0 {
		h.depth = 25
	}

	return h
}

func (h *StackHook) Levels() []logrus.Level { return h.levels }

func (h *StackHook) Fire(e *logrus.Entry) error {
	lines := stackutil.FormatStack(stackutil.TrimLeading(stackutil.GetStack(h.depth+32, 0), h.skip))
	if len(lines) > h.depth {
		lines = lines[:h.depth]
	}

	if h.field != "" {
		e.Data[h.field] = lines
		return nil
	}

	for i, line := range lines {
		e.Data[fmt.Sprintf("stack.%02d", i)] = line
	}

	return nil
}
