// Package log is corenet's leveled structured logger. It follows the same
// idiom the teacher's own go-probeum/log package uses: a small Logger
// interface with Trace/Debug/Info/Warn/Error methods taking alternating
// key/value pairs, and a terminal handler that colorizes by level.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/go-stack/stack"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Lvl is a log level.
type Lvl int

const (
	LvlError Lvl = iota
	LvlWarn
	LvlInfo
	LvlDebug
	LvlTrace
)

func (l Lvl) String() string {
	switch l {
	case LvlError:
		return "ERROR"
	case LvlWarn:
		return "WARN"
	case LvlInfo:
		return "INFO"
	case LvlDebug:
		return "DEBUG"
	case LvlTrace:
		return "TRACE"
	default:
		return "????"
	}
}

var levelColor = map[Lvl]*color.Color{
	LvlError: color.New(color.FgRed, color.Bold),
	LvlWarn:  color.New(color.FgYellow),
	LvlInfo:  color.New(color.FgGreen),
	LvlDebug: color.New(color.FgCyan),
	LvlTrace: color.New(color.FgWhite),
}

// Logger is the interface every corenet/authority component logs through.
// Never fmt.Println or the bare standard library log package.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	New(ctx ...interface{}) Logger
}

type logger struct {
	out    io.Writer
	mu     *sync.Mutex
	level  Lvl
	ctx    []interface{}
	color  bool
	callLv Lvl // minimum level at which the call site is recorded
}

// Root is the default logger, writing colorized text to stderr when it is a
// terminal (mirroring the teacher's terminal format detection).
var root Logger = newLogger(os.Stderr, LvlInfo)

// Root returns the package-wide default logger.
func Root() Logger { return root }

// SetRootLevel adjusts the verbosity of the default logger.
func SetRootLevel(l Lvl) {
	if lg, ok := root.(*logger); ok {
		lg.level = l
	}
}

// New creates a child of the root logger with additional context.
func New(ctx ...interface{}) Logger { return root.New(ctx...) }

func newLogger(w io.Writer, lvl Lvl) *logger {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return &logger{out: w, mu: new(sync.Mutex), level: lvl, color: useColor, callLv: LvlDebug}
}

func (l *logger) New(ctx ...interface{}) Logger {
	child := &logger{out: l.out, mu: l.mu, level: l.level, color: l.color, callLv: l.callLv}
	child.ctx = append(append([]interface{}{}, l.ctx...), ctx...)
	return child
}

func (l *logger) Trace(msg string, ctx ...interface{}) { l.write(LvlTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...interface{}) { l.write(LvlDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...interface{})  { l.write(LvlInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...interface{})  { l.write(LvlWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...interface{}) { l.write(LvlError, msg, ctx) }

func (l *logger) write(lvl Lvl, msg string, ctx []interface{}) {
	if lvl > l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ts := time.Now().Format("2006-01-02T15:04:05.000")
	var line string
	if l.color {
		line = fmt.Sprintf("%s %s %s", ts, levelColor[lvl].Sprint(lvl.String()), msg)
	} else {
		line = fmt.Sprintf("%s %-5s %s", ts, lvl.String(), msg)
	}
	all := append(append([]interface{}{}, l.ctx...), ctx...)
	for i := 0; i+1 < len(all); i += 2 {
		line += fmt.Sprintf(" %v=%v", all[i], all[i+1])
	}
	if lvl <= l.callLv {
		cs := stack.Caller(2)
		line += fmt.Sprintf(" caller=%+v", cs)
	}
	fmt.Fprintln(l.out, line)
}
