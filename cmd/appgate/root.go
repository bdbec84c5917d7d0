package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/appgate/internal/config"
	"github.com/pitabwire/appgate/internal/observability"
	"github.com/pitabwire/appgate/internal/resource"
	"github.com/pitabwire/appgate/invoker"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath    string
	endUserToken  string
	correlationID string
	stdout        io.Writer
	stderr        io.Writer
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &globalOptions{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "appgate",
		Short: "Typed client and sidecar for the resource gateway",
		Long: `appgate invokes database, API and storage resources through the
resource gateway. "serve" runs the HTTP sidecar; "invoke" sends a single
invocation and prints the gateway envelope.`,
		Version:       fmt.Sprintf("%s (%s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("APPGATE_CONFIG"), "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&opts.endUserToken, "end-user-token", os.Getenv("APPGATE_END_USER_TOKEN"), "end user credential forwarded to the gateway")
	rootCmd.PersistentFlags().StringVar(&opts.correlationID, "correlation-id", "", "correlation id sent with the invocation")

	rootCmd.AddCommand(newServeCommand(opts))
	rootCmd.AddCommand(newResourcesCommand(opts))
	rootCmd.AddCommand(newInvokeCommand(opts))

	return rootCmd
}

// runtimeDeps are the pieces every command builds from the configuration.
type runtimeDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	catalog *resource.Catalog
}

// loadRuntime builds the runtime from configuration. Logs go to logTo, or to
// the process stdout when logTo is nil.
func loadRuntime(opts *globalOptions, logTo io.Writer) (*runtimeDeps, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}

	observability.Version = version
	observability.Commit = commit

	var logger *zap.Logger
	if logTo != nil {
		logger = observability.NewWriterLogger(cfg.Observability, logTo)
	} else {
		logger, err = observability.NewLogger(cfg.Observability)
		if err != nil {
			return nil, fmt.Errorf("logger error: %w", err)
		}
	}

	catalog, err := resource.FromConfig(cfg.Resources)
	if err != nil {
		return nil, err
	}
	return &runtimeDeps{cfg: cfg, logger: logger, catalog: catalog}, nil
}

// newClient builds the gateway client from configuration. The service token
// is read from the environment variable named by gateway.token_env.
func (d *runtimeDeps) newClient(recorder invoker.Recorder) (*invoker.Client, error) {
	opts := []invoker.Option{
		invoker.WithLogger(d.logger),
		invoker.WithEndUserHeader(d.cfg.Gateway.EndUserHeader),
		invoker.WithTransport(invoker.NewHTTPTransport()),
	}
	if recorder != nil {
		opts = append(opts, invoker.WithRecorder(recorder))
	}

	token := d.cfg.Gateway.Token()
	if token == "" {
		name := d.cfg.Gateway.TokenEnv
		if name == "" {
			name = config.DefaultTokenEnv
		}
		return nil, fmt.Errorf("gateway service token not set: export %s", name)
	}
	return invoker.New(d.cfg.Gateway.BaseURL, token, opts...)
}
