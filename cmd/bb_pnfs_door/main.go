package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"time"

	door_configuration "github.com/buildbarn/bb-pnfs-door/pkg/configuration/bb_pnfs_door"
	"github.com/buildbarn/bb-pnfs-door/pkg/door"
	"github.com/buildbarn/bb-pnfs-door/pkg/layout"
	"github.com/buildbarn/bb-pnfs-door/pkg/messaging"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/global"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"go.opentelemetry.io/otel"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// This is a pNFS door. It hands out layouts to NFSv4.1 clients that
// point them at movers running on pools, so that data does not flow
// through the door itself.

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		checkConfig := pflag.Bool("check-config", false, "Only validate the configuration file, and exit")
		pflag.Parse()
		if pflag.NArg() != 1 {
			return status.Error(codes.InvalidArgument, "Usage: bb_pnfs_door [--check-config] bb_pnfs_door.jsonnet")
		}
		configuration, err := door_configuration.GetApplicationConfiguration(pflag.Arg(0))
		if err != nil {
			return util.StatusWrapf(err, "Failed to read configuration from %s", pflag.Arg(0))
		}
		if *checkConfig {
			log.Print("Configuration is valid")
			return nil
		}
		// Installs the tracer provider used below, and launches the
		// web server exposing Prometheus metrics and pprof.
		lifecycleState, _, err := global.ApplyConfiguration(configuration.Global, dependenciesGroup)
		if err != nil {
			return util.StatusWrap(err, "Failed to apply global configuration options")
		}

		// Peers of the door. URLs have already been validated.
		callbackURL, err := url.Parse(configuration.CallbackURL)
		if err != nil {
			return util.StatusWrap(err, "Failed to parse callback URL")
		}
		poolManagerURL, err := url.Parse(configuration.PoolManagerURL)
		if err != nil {
			return util.StatusWrap(err, "Failed to parse pool manager URL")
		}
		namespaceURL, err := url.Parse(configuration.NamespaceURL)
		if err != nil {
			return util.StatusWrap(err, "Failed to parse namespace URL")
		}
		httpClient := &http.Client{Timeout: time.Duration(configuration.HTTPClientTimeout)}

		outcomeRecorder := messaging.NewLoggingTransferOutcomeRecorder()
		if configuration.BillingURL != "" {
			billingURL, err := url.Parse(configuration.BillingURL)
			if err != nil {
				return util.StatusWrap(err, "Failed to parse billing URL")
			}
			outcomeRecorder = messaging.NewHTTPTransferOutcomeRecorder(httpClient, billingURL, configuration.BillingConcurrency)
		}

		var metadataServerAddress netip.AddrPort
		if configuration.MetadataServerAddress != "" {
			metadataServerAddress, err = netip.ParseAddrPort(configuration.MetadataServerAddress)
			if err != nil {
				return util.StatusWrapf(err, "Invalid metadata server address %#v", configuration.MetadataServerAddress)
			}
		}

		registry := layout.NewDeviceRegistry()
		sessions := layout.NewSessionTable(clock.SystemClock)
		broker := layout.NewInMemoryLayoutBroker(
			registry,
			sessions,
			messaging.NewHTTPPoolGateway(httpClient, poolManagerURL, configuration.PoolURLTemplate, callbackURL, configuration.IOQueue),
			messaging.NewHTTPPlacementMetadataLookup(httpClient, namespaceURL),
			outcomeRecorder,
			clock.SystemClock,
			uuid.NewRandom,
			time.Duration(configuration.ReplyTimeout),
			time.Duration(configuration.KillMoverTimeout),
			configuration.MaximumOutstandingRequests,
			metadataServerAddress)
		instrumentedBroker := layout.NewTracingLayoutBroker(
			layout.NewMetricsLayoutBroker(broker, clock.SystemClock),
			otel.GetTracerProvider())

		// Events sent by pools are processed on a dedicated set of
		// goroutines.
		dispatchQueue := messaging.NewDispatchQueue(configuration.CallbackQueueSize)
		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			dispatchQueue.Run(ctx, configuration.CallbackWorkers)
			return nil
		})
		siblingsGroup.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
			layout.RunSessionSweeper(
				ctx,
				clock.SystemClock,
				broker,
				time.Duration(configuration.SessionSweepInterval),
				time.Duration(configuration.AbandonedSessionGracePeriod))
			return nil
		})

		readHeaderTimeout := time.Duration(configuration.HTTPReadHeaderTimeout)
		clientRouter := mux.NewRouter()
		door.NewLayoutService(instrumentedBroker, clock.SystemClock, time.Duration(configuration.ClientRequestTimeout), clientRouter)
		launchHTTPServer(siblingsGroup, "Client", configuration.ClientListenAddress, readHeaderTimeout, clientRouter)

		callbackRouter := mux.NewRouter()
		messaging.NewMoverEventService(broker, dispatchQueue, callbackRouter)
		launchHTTPServer(siblingsGroup, "Callback", configuration.CallbackListenAddress, readHeaderTimeout, callbackRouter)

		// Web server for the state pages.
		diagnosticsRouter := mux.NewRouter()
		door.NewStateService(registry, sessions, broker, clock.SystemClock, diagnosticsRouter)
		launchHTTPServer(siblingsGroup, "Diagnostics", configuration.DiagnosticsListenAddress, readHeaderTimeout, diagnosticsRouter)

		lifecycleState.MarkReadyAndWait(siblingsGroup)
		return nil
	})
}

// launchHTTPServer runs an HTTP server until the program shuts down.
func launchHTTPServer(group program.Group, name, address string, readHeaderTimeout time.Duration, handler http.Handler) {
	group.Go(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		server := newHTTPServer(ctx, address, readHeaderTimeout, handler)
		go func() {
			<-ctx.Done()
			server.Close()
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return util.StatusWrapf(err, "%s HTTP server failure", name)
		}
		return nil
	})
}

// newHTTPServer creates an HTTP server whose requests inherit the
// provided context. Clients that are slow to send request headers are
// disconnected.
func newHTTPServer(ctx context.Context, address string, readHeaderTimeout time.Duration, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              address,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
