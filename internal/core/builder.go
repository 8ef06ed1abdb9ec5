package core

import (
	"os"

	"linkterm/config"
	"linkterm/internal/device"
	"linkterm/internal/link"
	"linkterm/internal/metrics"
	"linkterm/internal/session"
	"linkterm/internal/transport"
	"linkterm/tunnel"
	"linkterm/util"
)

// Build constructs the Mode for cfg.  cfg must already be validated.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if err := cfg.ApplyTunnelSpec(); err != nil {
		return nil, err
	}

	m := metrics.New()
	dialer := buildDialer(cfg, logger)
	opener := &device.Router{
		Dialer:  dialer,
		Timeout: cfg.ConnTimeout,
		Logger:  logger,
	}

	linkOpts := link.OptionsFromConfig(cfg)
	linkOpts.Logger = logger
	linkOpts.Metrics = m

	if cfg.Monitor {
		return &MonitorMode{
			Opener:  opener,
			Dialer:  dialer,
			Link:    linkOpts,
			Logger:  logger,
			Metrics: m,
		}, nil
	}

	sessOpts := session.OptionsFromConfig(cfg)
	sessOpts.Logger = logger
	sessOpts.Metrics = m

	return &InteractiveMode{
		Opener:        opener,
		Dialer:        dialer,
		Link:          linkOpts,
		Session:       sessOpts,
		MetricsListen: cfg.MetricsListen,
		Logger:        logger,
		Metrics:       m,
		Stdin:         os.Stdin,
	}, nil
}

// buildDialer creates the transport.Dialer that network units use.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(tunnel.SSHConfigFrom(cfg), logger)
	}
	return &transport.TCPDialer{Timeout: cfg.ConnTimeout}
}
