package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mlhmz/dockermc-dashboard/internal/models"
	"github.com/mlhmz/dockermc-dashboard/internal/service"
	"github.com/spf13/cobra"
)

// withServices runs fn against freshly wired services
func withServices(cmd *cobra.Command, fn func(ctx context.Context, svc *services) error) error {
	ctx := cmd.Context()
	svc, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(ctx, svc)
}

func ownerFlag(cmd *cobra.Command) (string, error) {
	owner, _ := cmd.Flags().GetString("owner")
	owner = strings.ToLower(strings.TrimSpace(owner))
	if owner == "" {
		return "", fmt.Errorf("--owner is required")
	}
	return owner, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printSteps(steps []service.StepResult) {
	for _, s := range steps {
		mark := "✓"
		switch {
		case s.Skipped:
			mark = "-"
		case !s.OK:
			mark = "✗"
		}
		line := fmt.Sprintf("  %s %s", mark, s.Name)
		if s.Error != "" {
			line += ": " + s.Error
		} else if s.Detail != "" {
			line += " (" + s.Detail + ")"
		}
		fmt.Println(line)
	}
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage Minecraft servers",
	Long:  `Create, list, control, and delete Minecraft servers on behalf of an owner.`,
}

var serverCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new Minecraft server",
	Long:  `Provision a new Minecraft server with the specified name.`,
	Example: `  # Create a Paper server with default settings
  dockermc-dashboard server create survival --owner alice@example.com

  # Create a server behind the default proxy
  dockermc-dashboard server create lobby --owner alice@example.com --type PAPER --version 1.21.1 --proxy default`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		maxPlayers, _ := flags.GetInt("max-players")
		motd, _ := flags.GetString("motd")
		version, _ := flags.GetString("version")
		engine, _ := flags.GetString("type")
		memory, _ := flags.GetString("memory")
		subdomain, _ := flags.GetString("subdomain")
		method, _ := flags.GetString("deployment")
		proxy, _ := flags.GetString("proxy")

		req := &models.CreateServerRequest{
			ServerName:       args[0],
			SubdomainName:    subdomain,
			Type:             engine,
			Version:          version,
			MaxPlayers:       maxPlayers,
			MOTD:             motd,
			Memory:           memory,
			DeploymentMethod: method,
			AttachProxy:      proxy,
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			logger.Info("Creating server", "name", args[0], "owner", owner)
			result, err := svc.servers.CreateServer(ctx, owner, req)
			if result != nil {
				printSteps(result.Steps)
			}
			if err != nil {
				return fmt.Errorf("failed to create server: %w", err)
			}

			server := result.Server
			fmt.Printf("\n✓ Server created successfully!\n\n")
			fmt.Printf("ID:           %s\n", server.UniqueID)
			fmt.Printf("Name:         %s\n", server.ServerName)
			fmt.Printf("Type:         %s %s\n", server.ServerConfig.Type, server.ServerConfig.Version)
			fmt.Printf("Port:         %d\n", server.Port)
			fmt.Printf("Deployment:   %s\n", server.DeploymentMethod)
			if server.ProxyID != "" {
				fmt.Printf("Proxy:        %s\n", server.ProxyID)
			}
			fmt.Printf("\nUse 'dockermc-dashboard server start %s --owner %s' to start the server.\n", server.UniqueID, owner)
			return nil
		})
	},
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's Minecraft servers",
	Example: `  dockermc-dashboard server list --owner alice@example.com
  dockermc-dashboard server list --owner alice@example.com --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}
		outputFormat, _ := cmd.Flags().GetString("output")

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			servers, err := svc.servers.ListServers(ctx, owner)
			if err != nil {
				return fmt.Errorf("failed to list servers: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(servers)
			}

			if len(servers) == 0 {
				fmt.Println("No servers found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tPORT\tONLINE\tPROXY\tCREATED")
			for _, server := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
					server.UniqueID,
					server.ServerName,
					server.ServerConfig.Type,
					server.Port,
					server.IsOnline,
					server.ProxyID,
					server.CreatedAt.Format("2006-01-02 15:04"),
				)
			}
			return w.Flush()
		})
	},
}

var serverInfoCmd = &cobra.Command{
	Use:   "info <server-id>",
	Short: "Show detailed information about a server",
	Example: `  dockermc-dashboard server info abc123 --owner alice@example.com
  dockermc-dashboard server info abc123 --owner alice@example.com --output json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}
		outputFormat, _ := cmd.Flags().GetString("output")

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			details, err := svc.servers.GetServer(ctx, owner, args[0])
			if err != nil {
				return fmt.Errorf("failed to get server info: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(details)
			}

			server := details.MinecraftServer
			fmt.Printf("\nServer Information:\n")
			fmt.Printf("==================\n\n")
			fmt.Printf("ID:           %s\n", server.UniqueID)
			fmt.Printf("Name:         %s\n", server.ServerName)
			fmt.Printf("Subdomain:    %s\n", server.SubdomainName)
			fmt.Printf("State:        %s\n", details.State)
			fmt.Printf("Type:         %s %s\n", server.ServerConfig.Type, server.ServerConfig.Version)
			fmt.Printf("Max Players:  %d\n", server.ServerConfig.MaxPlayers)
			fmt.Printf("MOTD:         %s\n", server.ServerConfig.MOTD)
			fmt.Printf("Port:         %d\n", server.Port)
			fmt.Printf("Container ID: %s\n", server.ContainerID)
			fmt.Printf("Proxy:        %s\n", server.ProxyID)
			fmt.Printf("Created:      %s\n", server.CreatedAt.Format(time.RFC1123))
			fmt.Printf("Updated:      %s\n", server.UpdatedAt.Format(time.RFC1123))
			fmt.Println()
			return nil
		})
	},
}

// newActionCmd builds the start, stop, restart, pause, unpause and kill commands
func newActionCmd(action service.Action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     string(action) + " <server-id>",
		Short:   short,
		Example: fmt.Sprintf("  dockermc-dashboard server %s abc123 --owner alice@example.com", action),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := ownerFlag(cmd)
			if err != nil {
				return err
			}

			var opts service.ActionOptions
			if cmd.Flags().Changed("timeout") {
				timeout, _ := cmd.Flags().GetInt("timeout")
				opts.Timeout = &timeout
			}
			if cmd.Flags().Lookup("signal") != nil {
				opts.Signal, _ = cmd.Flags().GetString("signal")
			}

			return withServices(cmd, func(ctx context.Context, svc *services) error {
				logger.Info("Applying lifecycle action", "server_id", args[0], "action", action)
				result, err := svc.servers.Do(ctx, owner, args[0], action, opts)
				if err != nil {
					return fmt.Errorf("failed to %s server: %w", action, err)
				}
				fmt.Printf("✓ %s (state: %s)\n", result.Message, result.State)
				return nil
			})
		},
	}

	switch action {
	case service.ActionStop, service.ActionRestart:
		cmd.Flags().IntP("timeout", "t", 0, "Graceful stop timeout in seconds (0-300)")
	case service.ActionKill:
		cmd.Flags().StringP("signal", "s", "SIGKILL", "Signal to send")
	}
	return cmd
}

var serverDeleteCmd = &cobra.Command{
	Use:   "delete <server-id>",
	Short: "Delete a Minecraft server",
	Long: `Delete a Minecraft server: its container, its record, its DNS record and its files.
Failed cleanup steps after the record is removed are reported but do not undo the deletion.`,
	Example: `  dockermc-dashboard server delete abc123 --owner alice@example.com
  dockermc-dashboard server delete abc123 --owner alice@example.com --yes --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}
		serverID := args[0]
		flags := cmd.Flags()
		yes, _ := flags.GetBool("yes")
		force, _ := flags.GetBool("force")
		volumes, _ := flags.GetBool("volumes")
		reason, _ := flags.GetString("reason")

		if !yes {
			fmt.Printf("⚠ Are you sure you want to delete server %s? This will remove all data. [y/N]: ", serverID)
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				fmt.Println("Cancelled.")
				return nil
			}
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			logger.Info("Deleting server", "server_id", serverID, "force", force)
			report, err := svc.servers.DeleteServer(ctx, owner, serverID, service.DeleteOptions{
				Force:         force,
				RemoveVolumes: volumes,
				Reason:        reason,
			})
			if report != nil {
				printSteps(report.Details)
			}
			if err != nil {
				return fmt.Errorf("failed to delete server: %w", err)
			}
			if report.Partial {
				fmt.Printf("⚠ Server %s deleted, but some cleanup steps failed.\n", serverID)
				return nil
			}
			fmt.Printf("✓ Server %s deleted successfully!\n", serverID)
			return nil
		})
	},
}

var serverAttachProxyCmd = &cobra.Command{
	Use:   "attach-proxy <server-id> [proxy-id]",
	Short: "Put a server behind a proxy",
	Long:  `Attach a server to a proxy. Without a proxy ID the default proxy is used. Use --detach to return the server to standalone mode.`,
	Example: `  dockermc-dashboard server attach-proxy abc123 --owner alice@example.com
  dockermc-dashboard server attach-proxy abc123 lobby --owner alice@example.com
  dockermc-dashboard server attach-proxy abc123 --owner alice@example.com --detach`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := ownerFlag(cmd)
		if err != nil {
			return err
		}
		detach, _ := cmd.Flags().GetBool("detach")
		proxyID := ""
		if len(args) > 1 {
			proxyID = args[1]
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			var result *service.AttachResult
			if detach {
				result, err = svc.proxies.DetachFromProxy(ctx, owner, args[0])
			} else {
				result, err = svc.proxies.AttachToProxy(ctx, owner, args[0], proxyID)
			}
			if result != nil {
				printSteps(result.Steps)
			}
			if err != nil {
				return fmt.Errorf("failed to change proxy membership: %w", err)
			}
			if detach {
				fmt.Printf("✓ Server %s detached from proxy %s\n", result.ServerID, result.ProxyID)
			} else {
				fmt.Printf("✓ Server %s attached to proxy %s\n", result.ServerID, result.ProxyID)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.PersistentFlags().String("owner", os.Getenv("DASHBOARD_OWNER"), "Owner (email) the servers belong to")

	serverCmd.AddCommand(serverCreateCmd)
	serverCreateCmd.Flags().IntP("max-players", "m", 20, "Maximum number of players")
	serverCreateCmd.Flags().StringP("motd", "d", "", "Message of the day")
	serverCreateCmd.Flags().StringP("version", "v", "LATEST", "Minecraft version")
	serverCreateCmd.Flags().StringP("type", "t", "PAPER", "Server engine (VANILLA, PAPER, PURPUR, SPIGOT, FABRIC, FORGE)")
	serverCreateCmd.Flags().String("memory", "", "Memory limit, e.g. 2G")
	serverCreateCmd.Flags().String("subdomain", "", "Subdomain for the DNS record")
	serverCreateCmd.Flags().String("deployment", "", "Deployment method (container, stack)")
	serverCreateCmd.Flags().String("proxy", "", "Proxy to attach the server to")

	serverCmd.AddCommand(serverListCmd)
	serverListCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	serverCmd.AddCommand(serverInfoCmd)
	serverInfoCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	serverCmd.AddCommand(
		newActionCmd(service.ActionStart, "Start a Minecraft server"),
		newActionCmd(service.ActionStop, "Stop a Minecraft server"),
		newActionCmd(service.ActionRestart, "Restart a Minecraft server"),
		newActionCmd(service.ActionPause, "Pause a Minecraft server"),
		newActionCmd(service.ActionUnpause, "Unpause a Minecraft server"),
		newActionCmd(service.ActionKill, "Send a signal to a Minecraft server"),
	)

	serverCmd.AddCommand(serverDeleteCmd)
	serverDeleteCmd.Flags().BoolP("yes", "y", false, "Skip confirmation prompt")
	serverDeleteCmd.Flags().Bool("force", false, "Skip the graceful stop")
	serverDeleteCmd.Flags().Bool("volumes", false, "Remove the container's anonymous volumes")
	serverDeleteCmd.Flags().String("reason", "", "Reason recorded with the deletion")

	serverCmd.AddCommand(serverAttachProxyCmd)
	serverAttachProxyCmd.Flags().Bool("detach", false, "Detach the server from its proxy instead")
}
