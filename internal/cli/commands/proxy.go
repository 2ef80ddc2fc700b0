package commands

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Manage Velocity and BungeeCord proxies",
}

var proxyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List declared proxies with their containers and members",
	Example: `  dockermc-dashboard proxy list
  dockermc-dashboard proxy list --output json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		outputFormat, _ := cmd.Flags().GetString("output")

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			proxies, err := svc.proxies.ListProxies(ctx)
			if err != nil {
				return fmt.Errorf("failed to list proxies: %w", err)
			}

			if outputFormat == "json" {
				return printJSON(proxies)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tFORWARDING\tPORT\tNETWORK\tSTATUS\tMEMBERS")
			for _, p := range proxies {
				status := "not deployed"
				if p.Instance != nil {
					status = string(p.Instance.Status)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					p.Definition.ID,
					p.Definition.Type,
					p.Definition.ForwardingMode,
					p.Definition.Port,
					p.Definition.Network,
					status,
					strings.Join(p.Members, ","),
				)
			}
			return w.Flush()
		})
	},
}

var proxyEnsureCmd = &cobra.Command{
	Use:   "ensure [proxy-id]",
	Short: "Deploy a proxy or start its container",
	Long:  `Deploy the proxy when it has no container yet and start it when it is not running. Without a proxy ID the default proxy is used.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proxyID := ""
		if len(args) > 0 {
			proxyID = args[0]
		}

		return withServices(cmd, func(ctx context.Context, svc *services) error {
			proxy, err := svc.proxies.EnsureProxy(ctx, proxyID)
			if err != nil {
				return fmt.Errorf("failed to ensure proxy: %w", err)
			}
			fmt.Printf("✓ Proxy %s running (container %s, port %d)\n", proxy.ID, proxy.ContainerID, proxy.Port)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(proxyCmd)

	proxyCmd.AddCommand(proxyListCmd)
	proxyListCmd.Flags().StringP("output", "o", "table", "Output format (table, json)")

	proxyCmd.AddCommand(proxyEnsureCmd)
}
