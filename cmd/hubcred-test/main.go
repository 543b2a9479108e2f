// Command hubcred-test runs certificate issuance scenarios against an
// IoT hub MQTT broker.
//
// Each scenario drives one issuance exchange end to end: connect over
// TLS, subscribe to the credential response topics, publish a signing
// request, and follow the accepted/result responses until the exchange
// resolves. The process exits 0 only when the scenario passes.
//
// Usage:
//
//	hubcred-test [flags] [scenario]
//
// The scenario defaults to happy_path; -list-scenarios prints the
// available names. Flag values override config file values, which
// override HUB_NAME and DEVICE_NAME from the environment.
//
// Flags:
//
//	-hub string              Hub name; the host derives as <hub>.azure-devices-int.net (default "ruath-iothub-004")
//	-host string             Broker hostname; overrides the host derived from -hub
//	-port int                Broker TLS port (default 8883)
//	-device string           Device identity requesting the certificate (default "ruath-device-001")
//	-api-version string      Hub API version sent in the MQTT username (default "2025-08-01-preview")
//	-cert                    Authenticate with the device certificate
//	-sas                     Authenticate with a SAS token
//	-ca-cert string          Path to the hub CA chain (PEM)
//	-device-cert string      Path to the device certificate (PEM)
//	-device-key string       Path to the device private key (PEM)
//	-sas-key string          Base64 policy key for SAS token authentication
//	-sas-policy string       Hub access policy for SAS tokens (default "iothubowner")
//	-csr string              Base64 certificate signing request (default: built-in mock CSR)
//	-timeout duration        Wall-clock budget for one run, reconnects included (default 60s)
//	-reconnect-delay duration Offline pause before redialing in disconnect_reconnect (default 3s)
//	-config string           Path to a YAML target file
//	-env string              Path to a .env file (default: ./.env when present)
//	-list-scenarios          List available scenarios and exit
//	-verbose                 Enable verbose output
//	-json                    Output results as JSON
//	-junit                   Output results as JUnit XML
//	-protocol-log string     File path for protocol event logging (CBOR format)
//
// Examples:
//
//	# Issue against the default hub with a device certificate
//	hubcred-test -device-cert device.pem -device-key device.key
//
//	# Run the reconnect scenario against a specific hub
//	hubcred-test -hub prodhub-17 -sas-key "$HUB_KEY" disconnect_reconnect
//
//	# Capture the protocol trace for hubcred-log
//	hubcred-test -sas-key "$HUB_KEY" -protocol-log run.hlog -verbose
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubcred/hubcred-go/internal/harness/runner"
	"github.com/hubcred/hubcred-go/internal/harness/scenario"
	hubcredlog "github.com/hubcred/hubcred-go/pkg/log"
)

var (
	hubName        = flag.String("hub", "", "Hub name; the host derives as <hub>.azure-devices-int.net")
	host           = flag.String("host", "", "Broker hostname; overrides the host derived from -hub")
	port           = flag.Int("port", 0, "Broker TLS port (default 8883)")
	device         = flag.String("device", "", "Device identity requesting the certificate")
	apiVersion     = flag.String("api-version", "", "Hub API version sent in the MQTT username")
	useCert        = flag.Bool("cert", false, "Authenticate with the device certificate")
	useSAS         = flag.Bool("sas", false, "Authenticate with a SAS token")
	caCert         = flag.String("ca-cert", "", "Path to the hub CA chain (PEM)")
	deviceCert     = flag.String("device-cert", "", "Path to the device certificate (PEM)")
	deviceKey      = flag.String("device-key", "", "Path to the device private key (PEM)")
	sasKey         = flag.String("sas-key", "", "Base64 policy key for SAS token authentication")
	sasPolicy      = flag.String("sas-policy", "", "Hub access policy for SAS tokens (default \"iothubowner\")")
	csr            = flag.String("csr", "", "Base64 certificate signing request (default: built-in mock CSR)")
	timeout        = flag.Duration("timeout", 0, "Wall-clock budget for one run, reconnects included (default 60s)")
	reconnectDelay = flag.Duration("reconnect-delay", 0, "Offline pause before redialing in disconnect_reconnect (default 3s)")
	configPath     = flag.String("config", "", "Path to a YAML target file")
	envFile        = flag.String("env", "", "Path to a .env file (default: ./.env when present)")
	listScenarios  = flag.Bool("list-scenarios", false, "List available scenarios and exit")
	verbose        = flag.Bool("verbose", false, "Enable verbose output")
	jsonOut        = flag.Bool("json", false, "Output results as JSON")
	junitOut       = flag.Bool("junit", false, "Output results as JUnit XML")
	protocolLog    = flag.String("protocol-log", "", "File path for protocol event logging (CBOR format)")
)

func main() {
	flag.Parse()

	// Get optional scenario name
	scenarioName := scenario.HappyPath
	if flag.NArg() > 0 {
		scenarioName = flag.Arg(0)
	}

	// Load environment files before the config consults the environment.
	// An explicit -env file must exist; the default ./.env is optional.
	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to load env file: %v\n", err)
			os.Exit(1)
		}
	} else {
		_ = godotenv.Load()
	}

	// Determine output format
	outputFormat := "text"
	if *jsonOut {
		outputFormat = "json"
	} else if *junitOut {
		outputFormat = "junit"
	}

	authMethod := ""
	switch {
	case *useCert && *useSAS:
		fmt.Fprintln(os.Stderr, "Error: -cert and -sas are mutually exclusive")
		os.Exit(1)
	case *useCert:
		authMethod = runner.AuthCert
	case *useSAS:
		authMethod = runner.AuthSAS
	}

	// Assemble configuration: flags win over the config file, which wins
	// over the environment, with standard defaults underneath.
	cfg := &runner.Config{
		HubName:        *hubName,
		Host:           *host,
		Port:           *port,
		DeviceID:       *device,
		APIVersion:     *apiVersion,
		AuthMethod:     authMethod,
		CACert:         *caCert,
		DeviceCert:     *deviceCert,
		DeviceKey:      *deviceKey,
		SASKey:         *sasKey,
		SASPolicy:      *sasPolicy,
		CSR:            *csr,
		Timeout:        *timeout,
		ReconnectDelay: *reconnectDelay,
		Verbose:        *verbose,
		Output:         os.Stdout,
		OutputFormat:   outputFormat,
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

	if *listScenarios {
		for _, info := range runner.New(cfg).Scenarios() {
			fmt.Printf("  %-22s %s\n", info.Name, info.Description)
		}
		return
	}

	// Setup logging for text output
	if outputFormat == "text" {
		log.SetFlags(log.Ltime)
		if *verbose {
			log.SetFlags(log.Ltime | log.Lmicroseconds)
			slog.SetLogLoggerLevel(slog.LevelDebug)
		}
		printBanner()
		log.Printf("Target: %s:%d", cfg.Host, cfg.Port)
		log.Printf("Device: %s", cfg.DeviceID)
		log.Printf("Scenario: %s", scenarioName)
		log.Println()
	}

	// Set up protocol logging if requested
	var protocolLogger *hubcredlog.FileLogger
	if *protocolLog != "" {
		var err error
		protocolLogger, err = hubcredlog.NewFileLogger(*protocolLog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create protocol logger: %v\n", err)
			os.Exit(1)
		}
		if outputFormat == "text" {
			log.Printf("Protocol logging to: %s", *protocolLog)
		}
	}
	// Only set logger when non-nil to avoid typed-nil interface issue.
	if protocolLogger != nil {
		cfg.ProtocolLogger = protocolLogger
	}

	r := runner.New(cfg)
	defer func() {
		if protocolLogger != nil {
			protocolLogger.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	res, err := r.Run(ctx, scenarioName)
	if err != nil {
		if outputFormat == "text" {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		} else {
			// For JSON/JUnit, error is written to stderr
			log.Printf("Error: %v", err)
		}
		os.Exit(1)
	}

	// Exit with appropriate code
	if !res.Passed {
		if protocolLogger != nil {
			protocolLogger.Close()
		}
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Print(`
 _   _  _   _  ____    ____  ____   _____  ____
| | | || | | || __ )  / ___||  _ \ | ____||  _ \
| |_| || | | ||  _ \ | |    | |_) ||  _|  | | | |
|  _  || |_| || |_) || |___ |  _ < | |___ | |_| |
|_| |_| \___/ |____/  \____||_| \_\|_____||____/

Certificate Issuance Test Runner
`)
}
