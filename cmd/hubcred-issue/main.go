// Command hubcred-issue requests a single certificate from an IoT hub
// and writes the issued PEM to stdout or a file.
//
// It drives one issuance exchange over MQTT: subscribe to the credential
// response topics, publish the signing request, wait for the accepted
// and result responses. Target resolution matches hubcred-test: flags
// win over -config file values, which win over HUB_NAME/DEVICE_NAME
// from the environment.
//
// Examples:
//
//	# Print the issued certificate
//	hubcred-issue -sas-key "$HUB_KEY"
//
//	# Renew a device certificate in place
//	hubcred-issue -device-cert device.pem -device-key device.key \
//	    -csr "$(base64 < device.csr)" -out device.pem
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hubcred/hubcred-go/internal/harness/runner"
	"github.com/hubcred/hubcred-go/pkg/correlate"
	"github.com/hubcred/hubcred-go/pkg/issuance"
	"github.com/hubcred/hubcred-go/pkg/transport"
	"github.com/hubcred/hubcred-go/pkg/wire"
)

var (
	hubName    = flag.String("hub", "", "Hub name; the host derives as <hub>.azure-devices-int.net")
	host       = flag.String("host", "", "Broker hostname; overrides the host derived from -hub")
	port       = flag.Int("port", 0, "Broker TLS port (default 8883)")
	device     = flag.String("device", "", "Device identity requesting the certificate")
	apiVersion = flag.String("api-version", "", "Hub API version sent in the MQTT username")
	caCert     = flag.String("ca-cert", "", "Path to the hub CA chain (PEM)")
	deviceCert = flag.String("device-cert", "", "Path to the device certificate (PEM)")
	deviceKey  = flag.String("device-key", "", "Path to the device private key (PEM)")
	sasKey     = flag.String("sas-key", "", "Base64 policy key for SAS token authentication")
	sasPolicy  = flag.String("sas-policy", "", "Hub access policy for SAS tokens (default \"iothubowner\")")
	csr        = flag.String("csr", "", "Base64 certificate signing request (default: built-in mock CSR)")
	timeout    = flag.Duration("timeout", 0, "Budget for the whole exchange (default 30s)")
	configPath = flag.String("config", "", "Path to a YAML target file")
	envFile    = flag.String("env", "", "Path to a .env file (default: ./.env when present)")
	outPath    = flag.String("out", "", "Write the certificate to this file instead of stdout")
	verbose    = flag.Bool("v", false, "Log exchange progress to stderr")
)

func main() {
	flag.Parse()

	if *envFile != "" {
		if err := godotenv.Load(*envFile); err != nil {
			fmt.Fprintf(os.Stderr, "error: failed to load env file: %v\n", err)
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
		Timeout:    *timeout,
	}
	if *configPath != "" {
		fileCfg, err := runner.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		cfg.Merge(fileCfg)
	}
	cfg.ApplyEnv()
	// A single exchange deserves a tighter budget than a full scenario run.
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Logger = slog.New(slog.DiscardHandler)
	if *verbose {
		cfg.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg, *outPath); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *runner.Config, outPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	sess, err := cfg.Session()
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx); err != nil {
		return err
	}
	defer sess.Disconnect()

	corr := correlate.New(cfg.Logger)
	router, err := issuance.NewRouter(issuance.RouterConfig{
		Correlator:   corr,
		ConnectionID: sess.ID(),
		DeviceID:     cfg.DeviceID,
		HubHost:      cfg.Host,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return err
	}
	err = sess.Subscribe(ctx, wire.ResponseFilter, issuance.DefaultQos, func(m transport.Message) {
		router.Handle(m.Topic, m.Payload)
	})
	if err != nil {
		return err
	}

	ex, err := issuance.New(issuance.Config{
		Publisher:  sess,
		Correlator: corr,
		DeviceID:   cfg.DeviceID,
		HubHost:    cfg.Host,
		Logger:     cfg.Logger,
	})
	if err != nil {
		return err
	}

	req := wire.NewRequest(cfg.DeviceID, cfg.CSR)
	if cfg.APIVersion != "" {
		req.APIVersion = cfg.APIVersion
	}

	res := ex.Issue(ctx, req)
	if res.Err != nil {
		return fmt.Errorf("issuance %s: %w", strings.ToLower(res.Outcome.String()), res.Err)
	}
	return writeCertificate(res.Certificate, outPath)
}

func writeCertificate(pem, outPath string) error {
	if !strings.HasSuffix(pem, "\n") {
		pem += "\n"
	}
	if outPath == "" {
		_, err := os.Stdout.WriteString(pem)
		return err
	}
	if err := os.WriteFile(outPath, []byte(pem), 0600); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %s (%d bytes)\n", outPath, len(pem))
	return nil
}
