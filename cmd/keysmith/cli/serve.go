package cli

import (
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keysmith/internal/openapi"
	"github.com/faucetdb/keysmith/internal/server"
	"github.com/faucetdb/keysmith/internal/telemetry"
)

const banner = `
 _  _______   _______ __  __ ___ _____ _  _
| |/ / __\ \ / / __|  \/  |_ _|_   _| || |
| ' <| _| \ V /\__ \ |\/| || |  | | | __ |
|_|\_\___| |_| |___/_|  |_|___| |_| |_||_|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keysmith API server",
		Long:  "Start the HTTP server that issues API keys to owners and verifies them for consumers.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, dev JWT secret when unset)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, dev, os.Stderr)
	if err != nil {
		return err
	}

	// 1. Metrics registry, owned by this process
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// 2. Credential store
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	logger.Info("credential store initialized", "driver", st.Driver(), "dsn", cfg.Masked().Store.DSN, "data_dir", cfg.Store.DataDir)

	// 3. Key services
	keys, err := newKeyStack(cfg, st, logger, metrics)
	if err != nil {
		st.Close()
		return err
	}
	auth, err := ownerAuth(cfg, dev, logger)
	if err != nil {
		keys.Close()
		st.Close()
		return err
	}
	logger.Info("key services initialized",
		"tag", keys.gen.Tag(),
		"prefix_length", keys.gen.PrefixLen(),
		"digest_version", keys.hasher.Version(),
	)

	// 4. Build and start HTTP server
	shutdownTimeout, _ := cfg.ShutdownTimeout()
	srvCfg := server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: shutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxBodySize:     cfg.Server.MaxBodySize,
		KeyTag:          keys.gen.Tag(),
	}

	srv := server.New(srvCfg, server.Deps{
		Issuer:    keys.issuer,
		Verifier:  keys.verifier,
		OwnerAuth: auth,
		Store:     st,
		Gatherer:  reg,
		OpenAPI:   openapi.Generate(versionString(), "", keys.gen.Tag()),
		OnShutdown: func() {
			keys.Close()
			if err := st.Close(); err != nil {
				logger.Error("close credential store", "error", err)
			}
		},
	}, logger)

	fmt.Printf("→ Keysmith %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()

	return srv.ListenAndServe()
}
