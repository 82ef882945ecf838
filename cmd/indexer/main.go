package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"interaction-indexer-go/internal/config"
	"interaction-indexer-go/internal/engine"
	"interaction-indexer-go/internal/limiter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	svc       *services
	networkID string
	tierFlag  string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Contract interaction indexer over redundant RPC providers",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			engine.InitLogger(cfg.LogLevel, cfg.LogFormat)
			if networkID == "" {
				networkID = cfg.DefaultNetwork
			}
			svc, err = initServices(cfg)
			if err != nil {
				return err
			}
			if tierFlag != "" {
				tier, err := limiter.ParseTier(tierFlag)
				if err != nil {
					return err
				}
				return svc.queue.SetTier(tier)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if svc != nil {
				svc.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&networkID, "network", "n", "", "network id (default: DEFAULT_NETWORK)")
	root.PersistentFlags().StringVar(&tierFlag, "tier", "", "override the request queue tier (free, pro, enterprise)")

	root.AddCommand(
		newFetchCmd(),
		newSinceCmd(),
		newHeadCmd(),
		newDeploymentCmd(),
		newHealthCmd(),
		newServeCmd(),
	)
	return root
}

func newFetchCmd() *cobra.Command {
	var from, to uint64
	cmd := &cobra.Command{
		Use:   "fetch <address>",
		Short: "Fetch the transactions that touched a contract within a block range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if to == 0 {
				head, err := svc.indexer.GetCurrentBlockNumber(ctx, networkID)
				if err != nil {
					return err
				}
				to = head
			}
			res, err := svc.indexer.FetchContractInteractions(ctx, args[0], from, to, networkID)
			if err != nil {
				return err
			}
			printSummary(res.Summary.TotalTransactions, res.Summary.TotalEvents, res.Summary.BlocksScanned, string(res.Method), res.Duration)
			return writeJSON(res)
		},
	}
	cmd.Flags().Uint64Var(&from, "from", 0, "first block (inclusive)")
	cmd.Flags().Uint64Var(&to, "to", 0, "last block (inclusive, default: chain head)")
	return cmd
}

func newSinceCmd() *cobra.Command {
	var maxSpan uint64
	cmd := &cobra.Command{
		Use:   "since <address>",
		Short: "Fetch interactions from the contract's deployment block onwards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := svc.indexer.FetchSinceDeployment(cmd.Context(), args[0], networkID, maxSpan)
			if err != nil {
				return err
			}
			printSummary(res.Summary.TotalTransactions, res.Summary.TotalEvents, res.Summary.BlocksScanned, string(res.Method), res.Duration)
			return writeJSON(res)
		},
	}
	cmd.Flags().Uint64Var(&maxSpan, "max-span", 10_000, "maximum number of blocks to fetch (0 = up to head)")
	return cmd
}

func newHeadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "head",
		Short: "Print the current block number",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			head, err := svc.indexer.GetCurrentBlockNumber(cmd.Context(), networkID)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "%s head: %s\n", networkID, humanize.Comma(int64(head)))
			return writeJSON(map[string]any{"network": networkID, "blockNumber": head})
		},
	}
}

func newDeploymentCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "deployment <address>",
		Short: "Locate the block a contract was deployed in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			head, err := svc.indexer.GetCurrentBlockNumber(ctx, networkID)
			if err != nil {
				return err
			}
			var block uint64
			if months > 0 {
				block, err = svc.locator.FindDeploymentBlockBounded(ctx, args[0], head, networkID, months)
			} else {
				block, err = svc.locator.FindDeploymentBlock(ctx, args[0], head, networkID, 0)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "deployed at block %s (%s blocks before head)\n",
				humanize.Comma(int64(block)), humanize.Comma(int64(head-block)))
			return writeJSON(map[string]any{"network": networkID, "address": args[0], "deploymentBlock": block, "head": head})
		},
	}
	cmd.Flags().IntVar(&months, "months", 0, "only search the last N months of history")
	return cmd
}

func newHealthCmd() *cobra.Command {
	var verify bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the network's providers and print their health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var mismatches map[string]error
			if verify {
				var err error
				mismatches, err = svc.pool.VerifyChainIDs(ctx, networkID)
				if err != nil {
					return err
				}
			}
			// a head request exercises the failover path once
			_, headErr := svc.indexer.GetCurrentBlockNumber(ctx, networkID)

			health := svc.pool.Health(networkID)
			for _, h := range health {
				state := "healthy"
				if !h.IsHealthy {
					state = "unhealthy"
				}
				line := fmt.Sprintf("%-24s %-9s ok=%s fail=%s latency=%dms", h.Name, state,
					humanize.Comma(h.SuccessCount), humanize.Comma(h.FailureCount), h.LastLatencyMs)
				if !h.LastFailureAt.IsZero() {
					line += " last_failure=" + humanize.Time(h.LastFailureAt)
				}
				if err := mismatches[h.Name]; err != nil {
					line += " chain_id=" + err.Error()
				}
				fmt.Fprintln(os.Stderr, line)
			}

			out := map[string]any{
				"network":      networkID,
				"providers":    health,
				"recentErrors": svc.pool.Tracker().Recent(20),
			}
			if headErr != nil {
				out["headError"] = headErr.Error()
			}
			return writeJSON(out)
		},
	}
	cmd.Flags().BoolVar(&verify, "verify-chain-id", false, "check each provider's chain id")
	return cmd
}

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the indexer over HTTP with Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			svc.startBackground(ctx)
			return NewServer(svc, strconv.Itoa(port)).Run(ctx)
		},
	}
	cmd.Flags().IntVar(&port, "port", 8080, "listen port")
	return cmd
}

func printSummary(txs, events int, blocks uint64, method string, took time.Duration) {
	fmt.Fprintf(os.Stderr, "%s transactions, %s events over %s blocks via %s in %s\n",
		humanize.Comma(int64(txs)), humanize.Comma(int64(events)), humanize.Comma(int64(blocks)),
		method, took.Round(time.Millisecond))
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
