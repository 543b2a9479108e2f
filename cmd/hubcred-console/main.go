// Command hubcred-console is an interactive console for working the
// certificate issuance flow against an IoT hub by hand.
//
// The console keeps one hub session that is connected and dropped on
// command, which makes it useful for poking at broker behavior that the
// scripted scenarios only exercise in fixed patterns: what the hub holds
// while the device is away, how tokens look, how an exchange moves
// through its states.
//
// Usage:
//
//	hubcred-console [flags]
//
// Flags:
//
//	-hub string           Hub name; the host derives as <hub>.azure-devices-int.net
//	-host string          Broker hostname; overrides the host derived from -hub
//	-port int             Broker TLS port (default 8883)
//	-device string        Device identity requesting certificates
//	-api-version string   Hub API version sent in the MQTT username
//	-ca-cert string       Path to the hub CA chain (PEM)
//	-device-cert string   Path to the device certificate (PEM)
//	-device-key string    Path to the device private key (PEM)
//	-sas-key string       Base64 policy key for SAS token authentication
//	-sas-policy string    Hub access policy for SAS tokens (default "iothubowner")
//	-csr string           Base64 certificate signing request (default: built-in mock CSR)
//	-timeout duration     Budget for each connect or issue command (default 30s)
//	-config string        Path to a YAML target file
//	-env string           Path to a .env file (default: ./.env when present)
//	-log-level string     Log level: debug, info, warn, error (default "info")
//	-protocol-log string  File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Open a console against the default hub
//	hubcred-console -sas-key "$HUB_KEY"
//
//	# Trace every protocol event while experimenting
//	hubcred-console -sas-key "$HUB_KEY" -protocol-log console.hlog -log-level debug
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubcred/hubcred-go/cmd/hubcred-console/interactive"
	"github.com/hubcred/hubcred-go/internal/harness/runner"
	hubcredlog "github.com/hubcred/hubcred-go/pkg/log"
)

var (
	hubName     = flag.String("hub", "", "Hub name; the host derives as <hub>.azure-devices-int.net")
	host        = flag.String("host", "", "Broker hostname; overrides the host derived from -hub")
	port        = flag.Int("port", 0, "Broker TLS port (default 8883)")
	device      = flag.String("device", "", "Device identity requesting certificates")
	apiVersion  = flag.String("api-version", "", "Hub API version sent in the MQTT username")
	caCert      = flag.String("ca-cert", "", "Path to the hub CA chain (PEM)")
	deviceCert  = flag.String("device-cert", "", "Path to the device certificate (PEM)")
	deviceKey   = flag.String("device-key", "", "Path to the device private key (PEM)")
	sasKey      = flag.String("sas-key", "", "Base64 policy key for SAS token authentication")
	sasPolicy   = flag.String("sas-policy", "", "Hub access policy for SAS tokens (default \"iothubowner\")")
	csr         = flag.String("csr", "", "Base64 certificate signing request (default: built-in mock CSR)")
	timeout     = flag.Duration("timeout", 30*time.Second, "Budget for each connect or issue command")
	configPath  = flag.String("config", "", "Path to a YAML target file")
	envFile     = flag.String("env", "", "Path to a .env file (default: ./.env when present)")
	logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	protocolLog = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg := &runner.Config{
		HubName:    *hubName,
		Host:       *host,
		Port:       *port,
		DeviceID:   *device,
		APIVersion: *apiVersion,
		CACert:     *caCert,
		DeviceCert: *deviceCert,
		DeviceKey:  *deviceKey,
		SASKey:     *sasKey,
		SASPolicy:  *sasPolicy,
		CSR:        *csr,
	}
	if *configPath != "" {
		fileCfg, err := runner.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Merge(fileCfg)
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	setupLogging(*logLevel)

	var protocolLogger *hubcredlog.FileLogger
	if *protocolLog != "" {
		var err error
		protocolLogger, err = hubcredlog.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		defer protocolLogger.Close()
	}
	// Only set logger when non-nil to avoid typed-nil interface issue.
	if protocolLogger != nil {
		cfg.ProtocolLogger = protocolLogger
	}

	ic, err := interactive.New(cfg, *timeout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create console: %v\n", err)
		os.Exit(1)
	}
	// Redirect log output through readline to avoid interfering with input
	log.SetOutput(ic.Stdout())

	log.Println("Hub Credential Console")
	log.Printf("Target: %s:%d (device %s)", cfg.Host, cfg.Port, cfg.DeviceID)
	if protocolLogger != nil {
		log.Printf("Protocol logging to: %s", *protocolLog)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go ic.Run(ctx, cancel)

	// Wait for shutdown signal or context cancellation
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		// Context was cancelled by the quit command
	}

	log.Println("Shutting down...")
	ic.Close()
	log.Println("Goodbye!")
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime)

	switch level {
	case "debug":
		log.SetFlags(log.Ltime | log.Lmicroseconds)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	}
}
