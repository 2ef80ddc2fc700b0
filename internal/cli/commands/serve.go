package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mlhmz/dockermc-dashboard/internal/api/routes"
	"github.com/mlhmz/dockermc-dashboard/internal/auth"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve [port]",
	Short: "Start the REST API server",
	Long: `Start the REST API server for managing Minecraft servers.

The server provides a REST API with Swagger documentation at /swagger/ and
Prometheus metrics at /metrics. If no port is specified, it uses the API_PORT
environment variable or defaults to 8080.`,
	Example: `  # Start on default port (8080 or API_PORT)
  dockermc-dashboard serve

  # Start on specific port
  dockermc-dashboard serve 9000`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.API.Port
		if len(args) > 0 {
			parsedPort, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid port number %q: %w", args[0], err)
			}
			port = parsedPort
		}

		logger.Info("Starting Docker Minecraft Dashboard API",
			"port", port,
			"minecraft_image", cfg.Minecraft.Image,
			"deployment_method", cfg.Minecraft.DeploymentMethod,
			"database_driver", cfg.Database.Driver,
		)

		verifier, err := auth.NewJWTProvider(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize token verification: %w", err)
		}

		svc, err := initializeServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.Close()

		router := routes.NewRouter(routes.Dependencies{
			Servers:     svc.servers,
			Proxies:     svc.proxies,
			Files:       svc.files,
			Verifier:    verifier,
			CORSOrigins: cfg.API.CORSOrigins,
		}, logger)

		// No WriteTimeout: provisioning and the console websocket are long-lived
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 15 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Channel to listen for errors coming from the listener
		serverErrors := make(chan error, 1)

		go func() {
			logger.Info("API server listening", "port", port, "address", srv.Addr)
			logger.Info("Swagger UI available", "url", fmt.Sprintf("http://localhost:%d/swagger/", port))
			serverErrors <- srv.ListenAndServe()
		}()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("failed to start server: %w", err)
			}

		case sig := <-shutdown:
			logger.Info("Received shutdown signal, starting graceful shutdown", "signal", sig.String())

			// Give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			if err := srv.Shutdown(ctx); err != nil {
				logger.Error("Error during shutdown", "error", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			logger.Info("Server stopped gracefully")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
