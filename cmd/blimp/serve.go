package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/blimp/internal/bridge"
	"github.com/srg/blimp/internal/peripheral"
	goble "github.com/srg/blimp/internal/peripheral/go-ble"
	"github.com/srg/blimp/pkg/config"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a BLE peripheral and hand its requests to a host program",
	Long: `Publishes the services declared in the given profiles, advertises them and opens
a JSON-lines channel through which a host program drives the peripheral.

Each line the host writes is a command:
  {"id": 1, "action": "setCharacteristicValue", "args": {"characteristic": "2a19", "value": [80]}}

Each line blimp writes is a result for one command, or a listener delivery (keep: true):
  {"id": 1, "ok": true, "keep": false}

With --transport pty the channel is a pseudoterminal (e.g., /dev/pts/4), optionally
reachable through --symlink; otherwise it is this process's stdin/stdout.

Example:
  blimp serve --profile profiles/battery.yaml --name thermo
  blimp serve --config blimp.yaml --transport pty --symlink /tmp/blimp`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveConfigPath     string
	serveProfiles       []string
	serveName           string
	serveNoAdvertise    bool
	serveTransport      string
	serveSymlink        string
	serveRequestTimeout time.Duration
	serveSerialize      bool
	serveVerbose        bool
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "YAML config file")
	serveCmd.Flags().StringArrayVarP(&serveProfiles, "profile", "p", nil, "Service profile (JSON or YAML); repeatable")
	serveCmd.Flags().StringVar(&serveName, "name", "blimp", "Advertised local name")
	serveCmd.Flags().BoolVar(&serveNoAdvertise, "no-advertise", false, "Publish services without advertising")
	serveCmd.Flags().StringVar(&serveTransport, "transport", string(bridge.TransportStdio), "Host channel: stdio or pty")
	serveCmd.Flags().StringVar(&serveSymlink, "symlink", "", "Create a symlink to the PTY device (e.g., /tmp/blimp)")
	serveCmd.Flags().DurationVar(&serveRequestTimeout, "request-timeout", 30*time.Second, "How long a write request waits for the host's answer")
	serveCmd.Flags().BoolVar(&serveSerialize, "serialize-publications", false, "Publish one service at a time")
	serveCmd.Flags().BoolVarP(&serveVerbose, "verbose", "v", false, "Verbose output")
}

// loadServeConfig reads the config file, if any, and applies explicitly set flags over it
func loadServeConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if serveConfigPath != "" {
		var err error
		if cfg, err = config.Load(serveConfigPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("profile") {
		cfg.Profiles = serveProfiles
	}
	if flags.Changed("name") {
		cfg.LocalName = serveName
	}
	if flags.Changed("no-advertise") {
		cfg.Advertise = !serveNoAdvertise
	}
	if flags.Changed("transport") {
		cfg.Transport = serveTransport
	}
	if flags.Changed("symlink") {
		cfg.TTYSymlink = serveSymlink
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = serveRequestTimeout
	}
	if flags.Changed("serialize-publications") {
		cfg.SerializePublications = serveSerialize
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadProfiles(paths []string) ([]*peripheral.Profile, error) {
	profiles := make([]*peripheral.Profile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read profile: %w", err)
		}
		profile, err := peripheral.ParseProfile(data)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", path, err)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(cmd)
	if err != nil {
		return err
	}

	// Logs and progress go to stderr: stdout may be the host channel
	logger, err := configureLogger(cmd, "verbose", cfg.Level(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	profiles, err := loadProfiles(cfg.Profiles)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Received interrupt signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	var adv *peripheral.Advertisement
	if cfg.Advertise {
		adv = &peripheral.Advertisement{LocalName: cfg.LocalName}
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Starting peripheral %q", cfg.LocalName), "Starting peripheral", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	serveCallback := func(b bridge.Bridge) (any, error) {
		if tty := b.GetTTYName(); tty != "" {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Host channel: %s\n", tty)
			if link := b.GetTTYSymlink(); link != "" {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Host channel link: %s\n", link)
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("Peripheral shutting down...")
		case <-b.Done():
			logger.Info("Host closed its input, shutting down...")
		}
		return nil, nil
	}

	_, err = bridge.RunPeripheralBridge(
		ctx,
		&bridge.BridgeOptions{
			Stack:             goble.New(logger, cfg.StackOptions()),
			Logger:            logger,
			PeripheralOptions: cfg.PeripheralOptions(logger),
			Profiles:          profiles,
			Advertisement:     adv,
			StartTimeout:      cfg.StartTimeout,
			Transport:         bridge.Transport(cfg.Transport),
			Input:             cmd.InOrStdin(),
			Output:            cmd.OutOrStdout(),
			OutputBufferSize:  cfg.OutputBuffer,
			TTYSymlinkPath:    cfg.TTYSymlink,
		},
		progress.Callback(),
		serveCallback,
	)
	return err
}
