// Package startup is intended as a helper package to
// run services in go routines in main
package startup

import (
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-coordination/environment"
	"github.com/datatrails/go-datatrails-coordination/k8sworker"
	"github.com/datatrails/go-datatrails-coordination/logger"
	"github.com/datatrails/go-datatrails-coordination/tracing"
)

const (
	zipkinEndpointEnv = "ZIPKIN_ENDPOINT"
	disableZipkinEnv  = "DISABLE_ZIPKIN"
)

type Runner func(Logger) error

// Run configures logging, the runtime and tracing and then calls run. The
// process exits with the outcome of run.
//
// portName is the environment variable holding the service port, used to
// name the zipkin endpoint. An empty portName disables tracing.
//
// defers do not work in main() because of the os.Exit(
func Run(serviceName string, portName string, run Runner) {
	logger.New(environment.GetLogLevel())
	log := logger.Sugar.WithServiceName(serviceName)

	exitCode := func() int {
		// ensure we configure go max procs and memlimit
		//  for kubernetes.
		k8Config, err := k8sworker.NewK8Config(k8sworker.WithLogger(log.Infof))
		if err != nil {
			log.Infof("Error configuring go for kubernetes: %v", err)
			return 1
		}
		defer k8sworker.Close()

		// log the useful kubernetes go configuration
		log.Infof("Go Configuration: %+v", k8Config)

		if portName != "" {
			host := fmt.Sprintf("localhost:%s", environment.GetOrFatal(portName))
			closer := tracing.NewFromEnv(serviceName, host, zipkinEndpointEnv, disableZipkinEnv)
			if closer != nil {
				defer closer.Close()
			}
		}
		err = run(log)
		if err != nil {
			log.Infof("Error at startup: %v", err)
			return 1
		}
		return 0
	}()

	log.Infof("Shutting down")
	logger.OnExit()

	os.Exit(exitCode)
}
