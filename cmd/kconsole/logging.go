package main

import (
	"fmt"
	"io"
	"strconv"

	"go.uber.org/zap/zapcore"
	klog "k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/sttts/kconsole/pkg/appconfig"
)

// parseLevel accepts a zap level name or a logr verbosity. Verbosity n
// enables V(n) and below.
func parseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	if v, err := strconv.Atoi(s); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("invalid log verbosity %d", v)
		}
		return zapcore.Level(-v), nil
	}
	lvl, err := zapcore.ParseLevel(s)
	if err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// setupLogging installs one zap logger for controller-runtime and klog.
func setupLogging(cfg appconfig.LogConfig, w io.Writer) error {
	lvl, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger := zap.New(
		zap.UseDevMode(cfg.Development),
		zap.Level(lvl),
		zap.WriteTo(w),
	)
	ctrl.SetLogger(logger)
	klog.SetLogger(logger)
	return nil
}
