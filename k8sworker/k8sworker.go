// Package k8sworker sizes the go runtime to the container it runs in.
package k8sworker

import (
	"log/slog"
	"runtime"
	"runtime/debug"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"
)

const (
	// 10% is the headroom for memory sources the Go runtime is unaware of.
	memLimitRatio = 0.9
)

var (
	undoMaxProcs func()
)

type K8sOptions struct {

	// logger used for GoMaxProcs
	logger func(string, ...any)
}

type K8sOption func(*K8sOptions)

// WithLogger sets the optional logger for goMaxProcs
func WithLogger(logger func(string, ...any)) K8sOption {
	return func(ko *K8sOptions) { ko.logger = logger }
}

// K8sConfig sets the cpu and memory
//
//	go configuration for kubernetes.
type K8sConfig struct {
	GoMaxProcs int

	GoMemLimit int64

	GoVersion string
}

func NewK8Config(opts ...K8sOption) (*K8sConfig, error) {

	options := K8sOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	k8Config := K8sConfig{
		GoVersion: runtime.Version(),
	}

	memOpts := []memlimit.Option{
		memlimit.WithRatio(memLimitRatio),
		memlimit.WithProvider(memlimit.FromCgroup),
	}
	if options.logger != nil {
		memOpts = append(memOpts, memlimit.WithLogger(slog.Default()))
	}
	// Outside a cgroup (local runs, tests) there is no limit to find and
	// GOMEMLIMIT is left alone.
	_, err := memlimit.SetGoMemLimitWithOpts(memOpts...)
	if err != nil && options.logger != nil {
		options.logger("memlimit not set: %v", err)
	}

	// Set CPU quota correctly so that stalls on non-existent cores do not occur.
	// This must be done as early as possible on task startup.
	//
	// Refs: https://groups.google.com/forum/#%21topic/prometheus-users/QPQ-UbtvS44
	//       https://github.com/golang/go/issues/19378
	//
	// golang applications in kubernetes suffer from intermittent gc pauses when
	// the application thinks it has access to more cores than really
	// available. automaxprocs sets GOMAXPROCS from the cgroup quota.
	var maxProcOpts []maxprocs.Option
	if options.logger != nil {
		maxProcOpts = append(maxProcOpts, maxprocs.Logger(options.logger))
	}
	undoMaxProcs, err = maxprocs.Set(maxProcOpts...)
	if err != nil {
		return nil, err
	}
	k8Config.GoMaxProcs = runtime.GOMAXPROCS(-1)

	// If GOMEMLIMIT is already set or AUTOMEMLIMIT=off, automatic setting of GOMEMLIMIT is disabled.
	k8Config.GoMemLimit = debug.SetMemoryLimit(-1)

	return &k8Config, nil
}

// Close undoes any changes to GoMaxProcs.
func Close() {
	if undoMaxProcs != nil {
		undoMaxProcs()
	}
}
