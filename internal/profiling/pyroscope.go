// Package profiling starts optional continuous profiling. Both profilers are
// off unless enabled through the environment, so production deployments opt
// in per instance.
package profiling

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/echoscribe/echoscribe/internal/logger"
)

// Profiler wraps a running Pyroscope session.
type Profiler struct {
	profiler *pyroscope.Profiler
}

// StartPyroscope starts continuous profiling when
// ENABLE_CONTINUOUS_PROFILING=true. It returns (nil, nil) when disabled.
//
// Configuration comes from the environment:
//   - PYROSCOPE_SERVER_URL (default http://pyroscope:4040)
//   - PYROSCOPE_ENVIRONMENT (default development)
func StartPyroscope(serviceName string, log logger.Logger) (*Profiler, error) {
	if os.Getenv("ENABLE_CONTINUOUS_PROFILING") != "true" {
		return nil, nil
	}

	serverURL := os.Getenv("PYROSCOPE_SERVER_URL")
	if serverURL == "" {
		serverURL = "http://pyroscope:4040"
	}
	environment := os.Getenv("PYROSCOPE_ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: fmt.Sprintf("echoscribe.%s", serviceName),
		ServerAddress:   serverURL,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
		Tags: map[string]string{
			"environment": environment,
			"hostname":    hostname(),
			"go_version":  runtime.Version(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("start pyroscope: %w", err)
	}

	log.Info("continuous profiling started",
		logger.String("server", serverURL),
		logger.String("environment", environment),
	)
	return &Profiler{profiler: profiler}, nil
}

// Stop flushes and stops the profiler. Safe on nil.
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}
	return p.profiler.Stop()
}

// StartPprofServer serves the standard pprof endpoints on localhost when
// ENABLE_PROFILING=true. Binding to localhost keeps the endpoints off the
// public interface.
func StartPprofServer(log logger.Logger) {
	if os.Getenv("ENABLE_PROFILING") != "true" {
		return
	}

	port := os.Getenv("PPROF_PORT")
	if port == "" {
		port = "6060"
	}
	addr := "localhost:" + port

	go func() {
		log.Info("pprof server listening", logger.String("addr", addr))
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Warn("pprof server stopped", logger.Error(err))
		}
	}()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
