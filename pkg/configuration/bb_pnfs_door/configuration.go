package configuration

import (
	"bytes"
	"encoding/json"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	global_pb "github.com/buildbarn/bb-storage/pkg/proto/configuration/global"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/google/go-jsonnet"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
)

// Duration is a time.Duration that is stored in the configuration
// file as a string, such as "27s" or "500ms".
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// ApplicationConfiguration of bb_pnfs_door.
type ApplicationConfiguration struct {
	// Options shared by all Buildbarn binaries, such as logging,
	// tracing and the diagnostics web server that exposes
	// Prometheus metrics and pprof.
	Global *global_pb.Configuration `json:"-"`

	// Addresses on which the HTTP servers listen.
	ClientListenAddress      string `json:"clientListenAddress"`
	CallbackListenAddress    string `json:"callbackListenAddress"`
	DiagnosticsListenAddress string `json:"diagnosticsListenAddress"`

	// URL on which pools can reach the callback server.
	CallbackURL     string `json:"callbackUrl"`
	PoolManagerURL  string `json:"poolManagerUrl"`
	PoolURLTemplate string `json:"poolUrlTemplate"`
	NamespaceURL    string `json:"namespaceUrl"`
	// Accounting is disabled if no billing URL is provided.
	BillingURL string `json:"billingUrl"`
	IOQueue    string `json:"ioQueue"`
	// Address announced for device ID zero. If empty, the local
	// address of the client's connection is announced.
	MetadataServerAddress string `json:"metadataServerAddress"`

	ReplyTimeout                Duration `json:"replyTimeout"`
	ClientRequestTimeout        Duration `json:"clientRequestTimeout"`
	KillMoverTimeout            Duration `json:"killMoverTimeout"`
	AbandonedSessionGracePeriod Duration `json:"abandonedSessionGracePeriod"`
	SessionSweepInterval        Duration `json:"sessionSweepInterval"`
	HTTPClientTimeout           Duration `json:"httpClientTimeout"`
	// Time a client may take to send the headers of a request.
	HTTPReadHeaderTimeout Duration `json:"httpReadHeaderTimeout"`

	MaximumOutstandingRequests int64 `json:"maximumOutstandingRequests"`
	CallbackWorkers            int   `json:"callbackWorkers"`
	CallbackQueueSize          int   `json:"callbackQueueSize"`
	BillingConcurrency         int64 `json:"billingConcurrency"`
}

// GetApplicationConfiguration evaluates a Jsonnet configuration file,
// fills in default values and validates the result. All environment
// variables are exposed as external variables.
func GetApplicationConfiguration(path string) (*ApplicationConfiguration, error) {
	vm := jsonnet.MakeVM()
	for _, environmentVariable := range os.Environ() {
		if name, value, ok := strings.Cut(environmentVariable, "="); ok {
			vm.ExtVar(name, value)
		}
	}
	output, err := vm.EvaluateFile(path)
	if err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to evaluate configuration")
	}

	// The global options are a Protobuf message, so they are
	// decoded separately using protojson.
	var document struct {
		ApplicationConfiguration
		Global json.RawMessage `json:"global"`
	}
	decoder := json.NewDecoder(bytes.NewBufferString(output))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&document); err != nil {
		return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal configuration")
	}
	configuration := document.ApplicationConfiguration
	configuration.Global = &global_pb.Configuration{}
	if len(document.Global) > 0 && !bytes.Equal(document.Global, []byte("null")) {
		if err := protojson.Unmarshal(document.Global, configuration.Global); err != nil {
			return nil, util.StatusWrapWithCode(err, codes.InvalidArgument, "Failed to unmarshal global configuration")
		}
	}
	setDefaultValues(&configuration)
	if err := validate(&configuration); err != nil {
		return nil, err
	}
	return &configuration, nil
}

func setDefaultValues(configuration *ApplicationConfiguration) {
	if configuration.ClientListenAddress == "" {
		configuration.ClientListenAddress = ":2050"
	}
	if configuration.CallbackListenAddress == "" {
		configuration.CallbackListenAddress = ":2051"
	}
	if configuration.DiagnosticsListenAddress == "" {
		configuration.DiagnosticsListenAddress = ":80"
	}
	if configuration.ReplyTimeout == 0 {
		configuration.ReplyTimeout = Duration(27 * time.Second)
	}
	if configuration.ClientRequestTimeout == 0 {
		configuration.ClientRequestTimeout = Duration(30 * time.Second)
	}
	if configuration.KillMoverTimeout == 0 {
		configuration.KillMoverTimeout = Duration(500 * time.Millisecond)
	}
	if configuration.AbandonedSessionGracePeriod == 0 {
		configuration.AbandonedSessionGracePeriod = Duration(5 * time.Minute)
	}
	if configuration.SessionSweepInterval == 0 {
		configuration.SessionSweepInterval = Duration(30 * time.Second)
	}
	if configuration.HTTPClientTimeout == 0 {
		configuration.HTTPClientTimeout = Duration(10 * time.Second)
	}
	if configuration.HTTPReadHeaderTimeout == 0 {
		configuration.HTTPReadHeaderTimeout = Duration(10 * time.Second)
	}
	if configuration.MaximumOutstandingRequests == 0 {
		configuration.MaximumOutstandingRequests = 1000
	}
	if configuration.CallbackWorkers == 0 {
		configuration.CallbackWorkers = 16
	}
	if configuration.CallbackQueueSize == 0 {
		configuration.CallbackQueueSize = 1024
	}
	if configuration.BillingConcurrency == 0 {
		configuration.BillingConcurrency = 8
	}
}

func validateURL(name, rawURL string, required bool) error {
	if rawURL == "" {
		if required {
			return status.Errorf(codes.InvalidArgument, "No %s provided", name)
		}
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid %s", name)
	}
	if u.Scheme == "" || u.Host == "" {
		return status.Errorf(codes.InvalidArgument, "Invalid %s %#v: URL must be absolute", name, rawURL)
	}
	return nil
}

func validate(configuration *ApplicationConfiguration) error {
	if configuration.ReplyTimeout >= configuration.ClientRequestTimeout {
		return status.Errorf(
			codes.InvalidArgument,
			"Reply timeout %s must be shorter than client request timeout %s",
			time.Duration(configuration.ReplyTimeout),
			time.Duration(configuration.ClientRequestTimeout))
	}
	if configuration.AbandonedSessionGracePeriod < 0 {
		return status.Error(codes.InvalidArgument, "Abandoned session grace period must be positive")
	}
	if configuration.SessionSweepInterval < 0 {
		return status.Error(codes.InvalidArgument, "Session sweep interval must be positive")
	}
	if configuration.KillMoverTimeout < 0 || configuration.HTTPClientTimeout < 0 || configuration.HTTPReadHeaderTimeout < 0 {
		return status.Error(codes.InvalidArgument, "Timeouts must be positive")
	}
	if configuration.MaximumOutstandingRequests < 0 || configuration.CallbackWorkers < 0 || configuration.CallbackQueueSize < 0 || configuration.BillingConcurrency < 0 {
		return status.Error(codes.InvalidArgument, "Limits must be positive")
	}

	for _, u := range []struct {
		name     string
		rawURL   string
		required bool
	}{
		{"callback URL", configuration.CallbackURL, true},
		{"pool manager URL", configuration.PoolManagerURL, true},
		{"namespace URL", configuration.NamespaceURL, true},
		{"billing URL", configuration.BillingURL, false},
	} {
		if err := validateURL(u.name, u.rawURL, u.required); err != nil {
			return err
		}
	}
	if !strings.Contains(configuration.PoolURLTemplate, "%s") {
		return status.Error(codes.InvalidArgument, "Pool URL template must contain \"%s\", which is substituted by the pool name")
	}
	if configuration.MetadataServerAddress != "" {
		if _, err := netip.ParseAddrPort(configuration.MetadataServerAddress); err != nil {
			return util.StatusWrapfWithCode(err, codes.InvalidArgument, "Invalid metadata server address %#v", configuration.MetadataServerAddress)
		}
	}
	return nil
}
