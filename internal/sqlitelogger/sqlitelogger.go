// Package sqlitelogger wraps a database/sql driver so that every statement,
// and every transaction boundary, is written to the context logger along
// with where it was issued from.
package sqlitelogger

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	proxy "github.com/shogo82148/go-sql-proxy"
	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/ytfeeds/internal/ctxclock"
	"fknsrs.biz/p/ytfeeds/internal/ctxlogger"
	"fknsrs.biz/p/ytfeeds/internal/stackutil"
)

type Options struct {
	// SlowerThan drops statements that finish sooner. Zero logs all of them;
	// failed statements are always logged.
	SlowerThan time.Duration
	// HidePackages are left out of the logged stack.
	HidePackages []string
	// SkipCallers suppresses statements issued beneath any of these
	// functions, such as a poll loop.
	SkipCallers []string
}

func (o Options) skip(stack []runtime.Frame) bool {
	for _, frame := range stack {
		if slices.Contains(o.SkipCallers, frame.Function) {
			return true
		}
	}

	return false
}

func (o Options) quiet(d time.Duration, err error) bool {
	return err == nil && o.SlowerThan > 0 && d < o.SlowerThan
}

func (o Options) visible(stack []runtime.Frame) []string {
	var lines []string

	for _, frame := range stack {
		if !stackutil.InPackages(frame, o.HidePackages) {
			lines = append(lines, stackutil.FormatStackFrame(frame))
		}
	}

	return lines
}

type operation struct {
	field   string
	message string
}

var (
	opPrepare  = operation{"sql.prepare", "sql prepare"}
	opExec     = operation{"sql.exec", "sql exec"}
	opQuery    = operation{"sql.query", "sql query"}
	opBegin    = operation{"sql.tx_begin", "sql tx begin"}
	opCommit   = operation{"sql.tx_commit", "sql tx commit"}
	opRollback = operation{"sql.tx_rollback", "sql tx rollback"}
)

// statement is what the proxy carries from a Pre hook to its Post hook.
type statement struct {
	op    operation
	start time.Time
	stack []runtime.Frame
	text  string
	args  []driver.NamedValue
}

type hooks struct {
	opts Options
}

func (h *hooks) begin(ctx context.Context, op operation, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
	// skip this function and the proxy hook closure
	stack := stackutil.GetStack(100, 2)
	if h.opts.skip(stack) {
		return nil, nil
	}

	now, err := ctxclock.NowOr(ctx, nil)
	if err != nil {
		return nil, err
	}

	st := &statement{op: op, start: now, stack: stack, args: args}
	if stmt != nil {
		st.text = stmt.QueryString
	}

	return st, nil
}

// finish logs the statement and hands back the driver's own error.
func (h *hooks) finish(ctx context.Context, qctx interface{}, err error) error {
	st, ok := qctx.(*statement)
	if !ok || st == nil || errors.Is(err, driver.ErrSkip) {
		return err
	}

	now, clockErr := ctxclock.NowOr(ctx, nil)
	if clockErr != nil {
		return errors.Join(err, clockErr)
	}

	duration := now.Sub(st.start)
	if h.opts.quiet(duration, err) {
		return err
	}

	prefix := st.op.field

	fields := logrus.Fields{
		prefix + ".start":    st.start.Format(time.RFC3339),
		prefix + ".duration": duration,
	}

	if st.text != "" {
		fields[prefix+".content"] = printQuery(st.text, st.args)
	}

	for i, line := range h.opts.visible(st.stack) {
		fields[fmt.Sprintf("%s.stack.%02d", prefix, i)] = line
	}

	l := ctxlogger.GetLogger(ctx).WithFields(fields)
	if err != nil {
		l.WithError(err).Warn(st.op.message + " failed")
	} else {
		l.Info(st.op.message)
	}

	return err
}

// New wraps driver so that statements are logged as described by opts.
func New(wrapped driver.Driver, opts Options) driver.Driver {
	h := &hooks{opts: opts}

	return proxy.NewProxyContext(wrapped, &proxy.HooksContext{
		PrePrepare: func(ctx context.Context, stmt *proxy.Stmt) (interface{}, error) {
			return h.begin(ctx, opPrepare, stmt, nil)
		},
		PostPrepare: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, err error) error {
			return h.finish(ctx, qctx, err)
		},
		PreExec: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return h.begin(ctx, opExec, stmt, args)
		},
		PostExec: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Result, err error) error {
			return h.finish(ctx, qctx, err)
		},
		PreQuery: func(ctx context.Context, stmt *proxy.Stmt, args []driver.NamedValue) (interface{}, error) {
			return h.begin(ctx, opQuery, stmt, args)
		},
		PostQuery: func(ctx context.Context, qctx interface{}, stmt *proxy.Stmt, args []driver.NamedValue, _ driver.Rows, err error) error {
			return h.finish(ctx, qctx, err)
		},
		PreBegin: func(ctx context.Context, conn *proxy.Conn) (interface{}, error) {
			return h.begin(ctx, opBegin, nil, nil)
		},
		PostBegin: func(ctx context.Context, qctx interface{}, conn *proxy.Conn, err error) error {
			return h.finish(ctx, qctx, err)
		},
		PreCommit: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return h.begin(ctx, opCommit, nil, nil)
		},
		PostCommit: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return h.finish(ctx, qctx, err)
		},
		PreRollback: func(ctx context.Context, tx *proxy.Tx) (interface{}, error) {
			return h.begin(ctx, opRollback, nil, nil)
		},
		PostRollback: func(ctx context.Context, qctx interface{}, tx *proxy.Tx, err error) error {
			return h.finish(ctx, qctx, err)
		},
	})
}

var (
	placeholderPattern = regexp.MustCompile(`\?([0-9]*)`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// printQuery inlines arguments into sqlite's "?" and "?NNN" placeholders so
// a logged query can be pasted into a shell. Placeholders inside string
// literals are not detected.
func printQuery(sqlString string, args []driver.NamedValue) string {
	next := 0

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(placeholderPattern.ReplaceAllStringFunc(sqlString, func(s string) string {
		i := next + 1

		if s != "?" {
			n, err := strconv.Atoi(s[1:])
			if err != nil {
				return s
			}
			i = n
		}

		next = i

		if i < 1 || i > len(args) {
			return s
		}

		return formatValue(args[i-1].Value)
	}), " "))
}

// formatValue handles the value types a driver.Valuer can produce.
func formatValue(v driver.Value) string {
	switch e := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if e {
			return "1"
		}
		return "0"
	case int64:
		return strconv.FormatInt(e, 10)
	case float64:
		return strconv.FormatFloat(e, 'f', -1, 64)
	case time.Time:
		return quote(e.Format(time.RFC3339Nano))
	case []byte:
		if r, ok := printable(string(e)); !ok {
			return fmt.Sprintf("[%d bytes of binary data (%q)]", len(e), r)
		}
		return quote(string(e))
	case string:
		if r, ok := printable(e); !ok {
			return fmt.Sprintf("[%d bytes of binary data (%q)]", len(e), r)
		}
		return quote(e)
	default:
		return quote(fmt.Sprintf("%v", e))
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func printable(s string) (rune, bool) {
	for _, r := range s {
		if r == '\n' || r == '\t' {
			continue
		}

		if unicode.IsControl(r) {
			return r, false
		}

		if !unicode.IsPrint(r) {
			return r, false
		}
	}

	return 0, true
}
