package kctesting

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"go.uber.org/zap/zapcore"
	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// SetupLogging routes controller-runtime and klog output of a test binary
// through one zap logger. Output is discarded unless DEBUG is set; a numeric
// DEBUG value raises the verbosity, e.g. DEBUG=4 shows every applied watch
// event.
func SetupLogging() {
	logger := testLogger(os.Getenv("DEBUG"))
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)
}

func testLogger(debug string) logr.Logger {
	if debug == "" {
		return zap.New(zap.WriteTo(io.Discard))
	}
	opts := []zap.Opts{zap.UseDevMode(true), zap.WriteTo(os.Stderr)}
	if v, err := strconv.Atoi(debug); err == nil && v > 0 {
		opts = append(opts, zap.Level(zapcore.Level(-v)))
	}
	return zap.New(opts...)
}

// LogRecorder collects the lines written through its Logger. Only V(0)
// lines and errors are recorded.
type LogRecorder struct {
	mu    sync.Mutex
	lines []string
}

// Logger returns a logr.Logger writing into r.
func (r *LogRecorder) Logger() logr.Logger {
	return funcr.New(func(prefix, args string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.lines = append(r.lines, strings.TrimSpace(prefix+" "+args))
	}, funcr.Options{})
}

// Lines returns a copy of the recorded lines.
func (r *LogRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Count returns how many recorded lines contain substr.
func (r *LogRecorder) Count(substr string) int {
	n := 0
	for _, l := range r.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
