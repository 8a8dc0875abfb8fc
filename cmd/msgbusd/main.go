package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime/pprof"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/couchbaselabs/gomsgbus/contrib/buildversion"
	"github.com/couchbaselabs/gomsgbus/daemon"
	"github.com/couchbaselabs/gomsgbus/pkg/webapi"
	"github.com/couchbaselabs/gomsgbus/utils/secretsmanager"
	"github.com/couchbaselabs/gomsgbus/utils/selfsignedcert"
	"github.com/couchbaselabs/gomsgbus/utils/sliceutils"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var buildVersion string = buildversion.GetVersion("github.com/couchbaselabs/gomsgbus")

var rootCmd = &cobra.Command{
	Version: buildVersion,

	Use:   "msgbusd",
	Short: "A clustered message bus node",

	Run: func(cmd *cobra.Command, args []string) {
		if autoRestart && !autoRestartProc {
			startNodeWatchdog()
			return
		}

		startNode()
	},
}

var cfgFile string
var watchCfgFile bool
var daemonMode bool
var autoRestart bool
var autoRestartProc bool

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "specifies a config file to load")
	rootCmd.Flags().BoolVar(&watchCfgFile, "watch-config", false, "indicates whether to watch the config file for changes")
	rootCmd.Flags().BoolVar(&daemonMode, "daemon", false, "in daemon mode, msgbusd will not exit on initial failure")
	rootCmd.Flags().BoolVar(&autoRestart, "auto-restart", false, "in auto-restart mode, we run in a child process to auto-restart on failure")
	rootCmd.Flags().BoolVar(&autoRestartProc, "auto-restart-proc", false, "in auto-restart mode, indicates we are the child process")
	_ = rootCmd.Flags().MarkHidden("auto-restart-proc")

	configFlags := pflag.NewFlagSet("", pflag.ContinueOnError)
	configFlags.String("log-level", "info", "the log level to run at")
	configFlags.String("etcd-endpoints", "", "comma-separated list of etcd endpoints")
	configFlags.String("etcd-username", "", "the etcd username")
	configFlags.String("etcd-password", "", "the etcd password")
	configFlags.String("etcd-key-prefix", "", "the etcd key prefix the cluster registers under")
	configFlags.Uint64("node-id", 0, "the node id to advertise, 0 generates a random one")
	configFlags.String("server-group", "", "the server group this node belongs to")
	configFlags.String("bind-address", "0.0.0.0", "the local address to bind to")
	configFlags.Int("delivery-port", 18100, "the delivery port")
	configFlags.Int("web-port", 9091, "the web metrics/health port")
	configFlags.String("advertise-address", "", "the address to advertise to peers")
	configFlags.Int("advertise-port", 0, "the port to advertise to peers")
	configFlags.Bool("self-sign", false, "specifies to allow a self-signed certificate")
	configFlags.String("cert", "", "path to default tls cert")
	configFlags.String("key", "", "path to default private tls key")
	configFlags.String("cacert", "", "path to the ca bundle used to verify peer certificates")
	configFlags.String("auth-token", "", "the bearer token deliveries must carry")
	configFlags.Bool("disable-balanced-traffic", false, "drains this node from balanced sends")
	configFlags.Int("rate-limit", 0, "specifies the maximum deliveries per second to allow")
	configFlags.Duration("ping-interval", 0, "enables a periodic cluster ping when non-zero")
	configFlags.String("otlp-endpoint", "", "opentelemetry endpoint to send telemetry to")
	configFlags.Bool("disable-otlp-traces", false, "disable sending traces to otlp")
	configFlags.Bool("disable-otlp-metrics", false, "disable sending metrics to otlp")
	configFlags.Bool("trace-everything", false, "enables tracing of all components")
	configFlags.Bool("debug", false, "enable debug mode")
	configFlags.String("cpuprofile", "", "write cpu profile to a file")
	configFlags.String("etcd-creds-aws-id", "", "id of secret in aws sm storing etcd credentials")
	configFlags.String("etcd-creds-aws-region", "", "region of etcd-creds-aws-id secret")
	configFlags.String("etcd-creds-azure-id", "", "id of secret in azure kv storing etcd credentials")
	configFlags.String("etcd-creds-azure-vault-name", "", "name of key vault storing etcd-creds-azure-id")
	configFlags.String("etcd-creds-gcp-id", "", "id of secret in gcp sm storing etcd credentials")
	configFlags.String("etcd-creds-gcp-project-id", "", "id of project containing etcd-creds-gcp-id")
	rootCmd.Flags().AddFlagSet(configFlags)

	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.SetEnvPrefix("msgbus")
	viper.AutomaticEnv()

	_ = viper.BindPFlags(configFlags)
}

func initTelemetry(
	ctx context.Context,
	logger *zap.Logger,
	otlpEndpoint string,
	enableTraces bool,
	enableMetrics bool,
	traceEverything bool,
) (
	*sdktrace.TracerProvider,
	*sdkmetric.MeterProvider,
	error,
) {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			// the service name used to display traces in backends
			semconv.ServiceNameKey.String("couchbase-message-bus"),
		),
	)
	if err != nil {
		if res == nil {
			return nil, nil, err
		}

		logger.Warn("failed to setup some part of opentelemetry resource", zap.Error(err))
	}

	promExp, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	var meterProvider *sdkmetric.MeterProvider
	if !enableMetrics || otlpEndpoint == "" {
		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
		)
	} else {
		metricExp, err := otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithInsecure(),
			otlpmetricgrpc.WithEndpoint(otlpEndpoint))
		if err != nil {
			return nil, nil, err
		}

		meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(promExp),
			sdkmetric.WithReader(
				sdkmetric.NewPeriodicReader(
					metricExp,
				),
			),
		)
	}

	var tracerProvider *sdktrace.TracerProvider
	if !enableTraces || otlpEndpoint == "" {
		// we can just return nil here...
	} else {
		traceClient := otlptracegrpc.NewClient(
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithEndpoint(otlpEndpoint))
		traceExp, err := otlptrace.New(ctx, traceClient)
		if err != nil {
			return nil, nil, err
		}

		baseTracing := sdktrace.NeverSample()
		if traceEverything {
			baseTracing = sdktrace.AlwaysSample()
		}

		bsp := sdktrace.NewBatchSpanProcessor(traceExp)
		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithSampler(sdktrace.ParentBased(baseTracing)),
			sdktrace.WithResource(res),
			sdktrace.WithSpanProcessor(bsp),
		)
	}

	return tracerProvider, meterProvider, nil
}

func getLogger() (zap.AtomicLevel, *zap.Logger) {
	logLevel := zap.NewAtomicLevel()
	logConfig := zap.NewProductionEncoderConfig()
	logConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	jsonEncoder := zapcore.NewJSONEncoder(logConfig)
	core := zapcore.NewTee(
		zapcore.NewCore(jsonEncoder, zapcore.AddSync(os.Stdout), logLevel),
	)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return logLevel, logger
}

type config struct {
	logLevelStr             string
	etcdEndpoints           string
	etcdUsername            string
	etcdPassword            string
	etcdKeyPrefix           string
	nodeID                  uint64
	serverGroup             string
	bindAddress             string
	deliveryPort            int
	webPort                 int
	advertiseAddress        string
	advertisePort           int
	selfSign                bool
	certPath                string
	keyPath                 string
	caCertPath              string
	authToken               string
	disableBalancedTraffic  bool
	rateLimit               int
	pingInterval            time.Duration
	otlpEndpoint            string
	disableOtlpTraces       bool
	disableOtlpMetrics      bool
	traceEverything         bool
	debug                   bool
	cpuprofile              string
	etcdCredsAwsId          string
	etcdCredsAwsRegion      string
	etcdCredsAzureId        string
	etcdCredsAzureVaultName string
	etcdCredsGcpId          string
	etcdCredsGcpProjectId   string
}

func readConfig(logger *zap.Logger) *config {
	config := &config{
		logLevelStr:             viper.GetString("log-level"),
		etcdEndpoints:           viper.GetString("etcd-endpoints"),
		etcdUsername:            viper.GetString("etcd-username"),
		etcdPassword:            viper.GetString("etcd-password"),
		etcdKeyPrefix:           viper.GetString("etcd-key-prefix"),
		nodeID:                  viper.GetUint64("node-id"),
		serverGroup:             viper.GetString("server-group"),
		bindAddress:             viper.GetString("bind-address"),
		deliveryPort:            viper.GetInt("delivery-port"),
		webPort:                 viper.GetInt("web-port"),
		advertiseAddress:        viper.GetString("advertise-address"),
		advertisePort:           viper.GetInt("advertise-port"),
		selfSign:                viper.GetBool("self-sign"),
		certPath:                viper.GetString("cert"),
		keyPath:                 viper.GetString("key"),
		caCertPath:              viper.GetString("cacert"),
		authToken:               viper.GetString("auth-token"),
		disableBalancedTraffic:  viper.GetBool("disable-balanced-traffic"),
		rateLimit:               viper.GetInt("rate-limit"),
		pingInterval:            viper.GetDuration("ping-interval"),
		otlpEndpoint:            viper.GetString("otlp-endpoint"),
		disableOtlpTraces:       viper.GetBool("disable-otlp-traces"),
		disableOtlpMetrics:      viper.GetBool("disable-otlp-metrics"),
		traceEverything:         viper.GetBool("trace-everything"),
		debug:                   viper.GetBool("debug"),
		cpuprofile:              viper.GetString("cpuprofile"),
		etcdCredsAwsId:          viper.GetString("etcd-creds-aws-id"),
		etcdCredsAwsRegion:      viper.GetString("etcd-creds-aws-region"),
		etcdCredsAzureId:        viper.GetString("etcd-creds-azure-id"),
		etcdCredsAzureVaultName: viper.GetString("etcd-creds-azure-vault-name"),
		etcdCredsGcpId:          viper.GetString("etcd-creds-gcp-id"),
		etcdCredsGcpProjectId:   viper.GetString("etcd-creds-gcp-project-id"),
	}

	logger.Info("parsed node configuration",
		zap.String("logLevelStr", config.logLevelStr),
		zap.String("etcdEndpoints", config.etcdEndpoints),
		zap.String("etcdUsername", config.etcdUsername),
		// zap.String("etcdPassword", config.etcdPassword),
		zap.String("etcdKeyPrefix", config.etcdKeyPrefix),
		zap.Uint64("nodeId", config.nodeID),
		zap.String("serverGroup", config.serverGroup),
		zap.String("bindAddress", config.bindAddress),
		zap.Int("deliveryPort", config.deliveryPort),
		zap.Int("webPort", config.webPort),
		zap.String("advertiseAddress", config.advertiseAddress),
		zap.Int("advertisePort", config.advertisePort),
		zap.Bool("selfSign", config.selfSign),
		zap.String("certPath", config.certPath),
		zap.String("keyPath", config.keyPath),
		zap.String("caCertPath", config.caCertPath),
		// zap.String("authToken", config.authToken),
		zap.Bool("disableBalancedTraffic", config.disableBalancedTraffic),
		zap.Int("rateLimit", config.rateLimit),
		zap.Duration("pingInterval", config.pingInterval),
		zap.String("otlpEndpoint", config.otlpEndpoint),
		zap.Bool("disableOtlpTraces", config.disableOtlpTraces),
		zap.Bool("disableOtlpMetrics", config.disableOtlpMetrics),
		zap.Bool("traceEverything", config.traceEverything),
		zap.Bool("debug", config.debug),
		zap.String("cpuprofile", config.cpuprofile),
		zap.String("etcdCredsAwsId", config.etcdCredsAwsId),
		zap.String("etcdCredsAwsRegion", config.etcdCredsAwsRegion),
		zap.String("etcdCredsAzureId", config.etcdCredsAzureId),
		zap.String("etcdCredsAzureVaultName", config.etcdCredsAzureVaultName),
		zap.String("etcdCredsGcpId", config.etcdCredsGcpId),
		zap.String("etcdCredsGcpProjectId", config.etcdCredsGcpProjectId))

	return config
}

func startNode() {
	// initialize the logger
	logLevel, logger := getLogger()

	// signal that we are starting
	logger.Info("starting msgbusd", zap.String("version", buildVersion))

	logger.Info("parsed launch configuration",
		zap.String("config", cfgFile),
		zap.Bool("watch-config", watchCfgFile),
		zap.Bool("daemon", daemonMode))

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		err := viper.ReadInConfig()
		if err != nil {
			logger.Panic("failed to load specified config file", zap.Error(err))
		}
	}

	config := readConfig(logger)

	parsedLogLevel, err := zapcore.ParseLevel(config.logLevelStr)
	if err != nil {
		logger.Warn("invalid log level specified, using INFO instead")
		parsedLogLevel = zapcore.InfoLevel
	}
	logLevel.SetLevel(parsedLogLevel)

	// setup profiling
	if config.cpuprofile != "" {
		f, err := os.Create(config.cpuprofile)
		if err != nil {
			logger.Error("failed to create cpu profile file", zap.Error(err))
			os.Exit(1)
		}

		err = pprof.StartCPUProfile(f)
		if err != nil {
			logger.Error("failed to start cpu profiling", zap.Error(err))
			os.Exit(1)
		}

		defer pprof.StopCPUProfile()
	}

	// setup tracing
	otlpTracerProvider, otlpMeterProvider, err :=
		initTelemetry(context.Background(),
			logger,
			config.otlpEndpoint,
			!config.disableOtlpTraces,
			!config.disableOtlpMetrics,
			config.traceEverything)
	if err != nil {
		logger.Error("failed to initialize opentelemetry tracing", zap.Error(err))
		os.Exit(1)
	}

	if otlpTracerProvider != nil {
		otel.SetTracerProvider(otlpTracerProvider)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}
	if otlpMeterProvider != nil {
		otel.SetMeterProvider(otlpMeterProvider)
	}

	// setup the web service
	webListenAddress := fmt.Sprintf("%s:%v", config.bindAddress, config.webPort)
	webapi.InitializeWebServer(webapi.WebServerOptions{
		Logger:        logger,
		LogLevel:      &logLevel,
		ListenAddress: webListenAddress,
	})

	var selfSignedCert *tls.Certificate
	if config.selfSign {
		generatedCert, err := selfsignedcert.GenerateCertificate()
		if err != nil {
			logger.Error("failed to generate a self-signed certificate")
			os.Exit(1)
		}

		selfSignedCert = generatedCert
	}

	var serverTlsConfig *tls.Config
	if config.certPath != "" || config.keyPath != "" {
		if config.certPath == "" || config.keyPath == "" {
			logger.Error("must specify both cert and key when enabling tls")
			os.Exit(1)
		}

		loadedTlsCertificate, err := tls.LoadX509KeyPair(config.certPath, config.keyPath)
		if err != nil {
			logger.Error("failed to load tls certificate", zap.Error(err))
			os.Exit(1)
		}

		serverTlsConfig = &tls.Config{
			Certificates: []tls.Certificate{loadedTlsCertificate},
		}
	} else if selfSignedCert != nil {
		serverTlsConfig = &tls.Config{
			Certificates: []tls.Certificate{*selfSignedCert},
		}
	}

	var clientRootCAs *x509.CertPool
	if config.caCertPath != "" {
		caPem, err := os.ReadFile(config.caCertPath)
		if err != nil {
			logger.Error("failed to read the ca certificate file", zap.Error(err))
			os.Exit(1)
		}

		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPem) {
			logger.Error("failed to parse any certificates from the ca certificate file")
			os.Exit(1)
		}

		clientRootCAs = pool
	}

	if config.etcdCredsAwsId != "" {
		if config.etcdUsername != "" || config.etcdPassword != "" {
			logger.Error("cannot use etcd-username or etcd-password when fetching creds from cloud provider")
			os.Exit(1)
		}

		if config.etcdCredsAwsRegion == "" {
			logger.Error("must specify region and id when fetching secrets from aws")
			os.Exit(1)
		}

		logger.Info("fetching etcd credentials from aws secrets manager")
		config.etcdUsername, config.etcdPassword, err = secretsmanager.FetchAWSSecret(config.etcdCredsAwsId, config.etcdCredsAwsRegion)

		if err != nil {
			logger.Error("failed to fetch etcd credentials from aws", zap.Error(err))
			os.Exit(1)
		}
	}

	if config.etcdCredsAzureId != "" {
		if config.etcdUsername != "" || config.etcdPassword != "" {
			logger.Error("cannot use etcd-username or etcd-password when fetching creds from cloud provider")
			os.Exit(1)
		}

		if config.etcdCredsAzureVaultName == "" {
			logger.Error("must specify key vault name and id when fetching secrets from azure")
			os.Exit(1)
		}

		logger.Info("fetching etcd credentials from azure key vault")
		config.etcdUsername, config.etcdPassword, err = secretsmanager.FetchAzureSecret(config.etcdCredsAzureId, config.etcdCredsAzureVaultName)

		if err != nil {
			logger.Error("failed to fetch etcd credentials from azure", zap.Error(err))
			os.Exit(1)
		}
	}

	if config.etcdCredsGcpId != "" {
		if config.etcdUsername != "" || config.etcdPassword != "" {
			logger.Error("cannot use etcd-username or etcd-password when fetching creds from cloud provider")
			os.Exit(1)
		}

		if config.etcdCredsGcpProjectId == "" {
			logger.Error("must specify project and secret ids when fetching secrets from gcp")
			os.Exit(1)
		}

		logger.Info("fetching etcd credentials from gcp secrets manager")
		config.etcdUsername, config.etcdPassword, err = secretsmanager.FetchGcpSecret(config.etcdCredsGcpId, config.etcdCredsGcpProjectId)

		if err != nil {
			logger.Error("failed to fetch etcd credentials from gcp", zap.Error(err))
			os.Exit(1)
		}
	}

	var etcdEndpoints []string
	if config.etcdEndpoints != "" {
		etcdEndpoints = sliceutils.RemoveDuplicates(strings.Split(config.etcdEndpoints, ","))
	}

	daemonConfig := &daemon.Config{
		Logger:                 logger.Named("node"),
		NodeID:                 config.nodeID,
		ServerGroup:            config.serverGroup,
		EtcdEndpoints:          etcdEndpoints,
		EtcdUsername:           config.etcdUsername,
		EtcdPassword:           config.etcdPassword,
		EtcdKeyPrefix:          config.etcdKeyPrefix,
		BindAddress:            config.bindAddress,
		BindDeliveryPort:       config.deliveryPort,
		AdvertiseAddress:       config.advertiseAddress,
		AdvertisePort:          config.advertisePort,
		ServerTlsConfig:        serverTlsConfig,
		ClientRootCAs:          clientRootCAs,
		AuthToken:              config.authToken,
		DisableBalancedTraffic: config.disableBalancedTraffic,
		RateLimit:              config.rateLimit,
		PingInterval:           config.pingInterval,
		Daemon:                 daemonMode,
		Debug:                  config.debug,
		StartupCallback: func(m *daemon.StartupInfo) {
			webapi.MarkSystemHealthy()
		},
	}

	busNode, err := daemon.NewDaemon(daemonConfig)
	if err != nil {
		logger.Error("failed to initialize the node", zap.Error(err))
		os.Exit(1)
	}

	var configLock sync.Mutex
	reloadConfiguration := func() {
		configLock.Lock()
		defer configLock.Unlock()

		err := viper.ReadInConfig()
		if err != nil {
			logger.Warn("failed to parse configuration file",
				zap.Error(err))
		}

		newConfig := readConfig(logger)

		if newConfig.etcdEndpoints != config.etcdEndpoints ||
			newConfig.etcdUsername != config.etcdUsername ||
			newConfig.etcdPassword != config.etcdPassword ||
			newConfig.etcdKeyPrefix != config.etcdKeyPrefix {
			logger.Warn("config changes for etcdEndpoints, etcdUsername, etcdPassword, or etcdKeyPrefix require a restart")
		}

		if newConfig.nodeID != config.nodeID ||
			newConfig.serverGroup != config.serverGroup {
			logger.Warn("config changes for nodeId or serverGroup require a restart")
		}

		if newConfig.bindAddress != config.bindAddress ||
			newConfig.deliveryPort != config.deliveryPort ||
			newConfig.webPort != config.webPort ||
			newConfig.advertiseAddress != config.advertiseAddress ||
			newConfig.advertisePort != config.advertisePort {
			logger.Warn("config changes for bindAddress, deliveryPort, webPort, advertiseAddress, or advertisePort require a restart")
		}

		if newConfig.selfSign != config.selfSign {
			logger.Warn("config changes for selfSign require a restart")
		}

		if newConfig.certPath != config.certPath ||
			newConfig.keyPath != config.keyPath ||
			newConfig.caCertPath != config.caCertPath {
			logger.Warn("config changes for certPath, keyPath, or caCertPath require a restart")
		}

		if newConfig.authToken != config.authToken {
			logger.Warn("config changes for authToken require a restart")
		}

		if newConfig.pingInterval != config.pingInterval {
			logger.Warn("config changes for pingInterval require a restart")
		}

		if newConfig.otlpEndpoint != config.otlpEndpoint ||
			newConfig.disableOtlpTraces != config.disableOtlpTraces ||
			newConfig.disableOtlpMetrics != config.disableOtlpMetrics ||
			newConfig.traceEverything != config.traceEverything {
			logger.Warn("config changes for otlpEndpoint, disableOtlpTraces, disableOtlpMetrics, or traceEverything require a restart")
		}

		if newConfig.debug != config.debug {
			logger.Warn("config changes for debug require a restart")
		}

		if newConfig.cpuprofile != config.cpuprofile {
			logger.Warn("config changes for cpuprofile require a restart")
		}

		if newConfig.logLevelStr != config.logLevelStr {
			newParsedLogLevel, err := zapcore.ParseLevel(newConfig.logLevelStr)
			if err != nil {
				logger.Warn("invalid log level specified, using INFO instead")
				newParsedLogLevel = zapcore.InfoLevel
			}

			logLevel.SetLevel(newParsedLogLevel)

			logger.Info("updated log level",
				zap.String("newLevel", newParsedLogLevel.String()))
		}

		if newConfig.disableBalancedTraffic != config.disableBalancedTraffic ||
			newConfig.rateLimit != config.rateLimit {
			err := busNode.Reconfigure(&daemon.ReconfigureOptions{
				DisableBalancedTraffic: newConfig.disableBalancedTraffic,
				RateLimit:              newConfig.rateLimit,
			})
			if err != nil {
				logger.Warn("failed to reconfigure the node", zap.Error(err))
			}
		}

		config = newConfig
	}

	if watchCfgFile {
		viper.OnConfigChange(func(in fsnotify.Event) {
			logger.Info("configuration file change detected")
			reloadConfiguration()
		})

		go viper.WatchConfig()
	}

	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		beginGracefulShutdown := func() {
			busNode.Shutdown()
		}

		hasReceivedSigInt := false
		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("Received SIGINT a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("Received SIGINT, attempting graceful shutdown...")
					hasReceivedSigInt = true
					beginGracefulShutdown()
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("Received SIGTERM, attempting graceful shutdown...")
				beginGracefulShutdown()
			} else if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration...")
				reloadConfiguration()
			}
		}
	}()

	err = busNode.Run(context.Background())
	if err != nil {
		logger.Error("failed to run the node", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("msgbusd shutdown gracefully")
}

func startNodeWatchdog() {
	_, logger := getLogger()
	logger = logger.Named("watchdog")

	execProc := os.Args[0]
	execArgs := append([]string{"--auto-restart-proc"}, os.Args[1:]...)

	hasReceivedSigInt := false
	go func() {
		sigCh := make(chan os.Signal, 10)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		for sig := range sigCh {
			if sig == syscall.SIGINT {
				if hasReceivedSigInt {
					logger.Info("received sigint a second time, terminating...")
					os.Exit(1)
				} else {
					logger.Info("received sigint, waiting for graceful shutdown...")
					hasReceivedSigInt = true
				}
			} else if sig == syscall.SIGTERM {
				logger.Info("received sigterm, waiting for graceful shutdown...")
			}
		}
	}()

	for {
		logger.Info("starting sub-process")

		cmd := exec.Command(execProc, execArgs...)
		cmd.Stderr = os.Stderr
		cmd.Stdout = os.Stdout

		err := cmd.Start()
		if err != nil {
			logger.Info("failed to start sub-process", zap.Error(err))
		}

		err = cmd.Wait()
		if err != nil {
			logger.Info("sub-process exited with error", zap.Error(err))
		}

		if hasReceivedSigInt {
			break
		}

		delayTime := 1 * time.Second
		logger.Info("crash detected, restarting", zap.Duration("delay", delayTime))
		time.Sleep(delayTime)
	}
}

func main() {
	cobra.CheckErr(rootCmd.Execute())
}
