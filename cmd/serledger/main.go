package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/serplus-labs/serledger/internal/identity"
	"github.com/serplus-labs/serledger/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by the release pipeline via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	token     string
	asset     string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "serledger",
	Short: "SER-Plus ledger CLI",
	Long: `serledger is the command-line interface for the SER-Plus sandbox ledger.

It mints, burns, and transfers sandbox currency, inspects balances and
supply, verifies the ledger's hash chain, and plans distributions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.serledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.serledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "serledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "operator bearer token")
	rootCmd.PersistentFlags().StringVar(&asset, "asset", "SER", "asset symbol")

	rootCmd.AddCommand(mintCmd)
	rootCmd.AddCommand(burnCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(balancesCmd)
	rootCmd.AddCommand(supplyCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(entriesCmd)
	rootCmd.AddCommand(concentrationCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(hashSecretCmd)
	rootCmd.AddCommand(versionCmd)
}

func api() *client.Client {
	return client.New(serverURL, client.WithToken(token))
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func parseAmount(s string) int64 {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fatal(fmt.Errorf("amount %q is not an integer (amounts are minor units)", s))
	}
	return amount
}

// ── mutations ────────────────────────────────────────────────────────────────

var mintMemo string

var mintCmd = &cobra.Command{
	Use:   "mint <account> <amount>",
	Short: "Mint new supply to an account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		res, err := api().Mint(c, asset, args[0], parseAmount(args[1]), mintMemo)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("minted %d %s to %s (entry %d, supply now %d)\n",
			res.Entry.Amount, res.Entry.Asset, res.Entry.Target, res.Entry.Sequence, res.Supply)
	},
}

var burnMemo string

var burnCmd = &cobra.Command{
	Use:   "burn <account> <amount>",
	Short: "Burn supply held by an account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		res, err := api().Burn(c, asset, args[0], parseAmount(args[1]), burnMemo)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("burned %d %s from %s (entry %d, supply now %d)\n",
			res.Entry.Amount, res.Entry.Asset, res.Entry.Source, res.Entry.Sequence, res.Supply)
	},
}

var transferMemo string

var transferCmd = &cobra.Command{
	Use:   "transfer <source> <target> <amount>",
	Short: "Transfer between accounts",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		res, err := api().Transfer(c, asset, args[0], args[1], parseAmount(args[2]), transferMemo)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("transferred %d %s from %s to %s (entry %d)\n",
			res.Entry.Amount, res.Entry.Asset, res.Entry.Source, res.Entry.Target, res.Entry.Sequence)
	},
}

func init() {
	mintCmd.Flags().StringVar(&mintMemo, "memo", "", "free-text memo")
	burnCmd.Flags().StringVar(&burnMemo, "memo", "", "free-text memo")
	transferCmd.Flags().StringVar(&transferMemo, "memo", "", "free-text memo")
}

// ── read side ────────────────────────────────────────────────────────────────

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Show all account balances for an asset",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		balances, err := api().Balances(c, asset)
		if err != nil {
			fatal(err)
		}

		accounts := make([]string, 0, len(balances))
		for account := range balances {
			accounts = append(accounts, account)
		}
		sort.Strings(accounts)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "ACCOUNT\t%s\n", asset)
		for _, account := range accounts {
			fmt.Fprintf(w, "%s\t%d\n", account, balances[account])
		}
		w.Flush()
	},
}

var supplyCmd = &cobra.Command{
	Use:   "supply",
	Short: "Show total issued supply for an asset",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		supply, err := api().Supply(c, asset)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s issued supply: %d\n", asset, supply)
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the highest appended sequence number",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		tail, err := api().Tail(c)
		if err != nil {
			fatal(err)
		}
		fmt.Println(tail)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the ledger's hash chain end to end",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		res, err := api().Verify(c)
		if err != nil {
			fatal(err)
		}
		if !res.Valid {
			fmt.Fprintf(os.Stderr, "chain BROKEN: %s\n", res.Error)
			os.Exit(1)
		}
		fmt.Println("chain intact")
	},
}

var entriesLimit int

var entriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "Show recent ledger entries",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		entries, err := api().Entries(c, entriesLimit)
		if err != nil {
			fatal(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tASSET\tOP\tSOURCE\tTARGET\tAMOUNT\tACTOR")
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Sequence, e.Timestamp.Format(time.RFC3339), e.Asset, e.Op,
				e.Source, e.Target, e.Amount, e.Actor)
		}
		w.Flush()
	},
}

func init() {
	entriesCmd.Flags().IntVar(&entriesLimit, "limit", 25, "maximum entries to show")
}

// ── analytics ────────────────────────────────────────────────────────────────

var concentrationLimit int

var concentrationCmd = &cobra.Command{
	Use:   "concentration",
	Short: "Show holder concentration for an asset",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		holders, err := api().Concentration(c, asset, concentrationLimit)
		if err != nil {
			fatal(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tAMOUNT\tSHARE")
		for _, h := range holders {
			fmt.Fprintf(w, "%s\t%d\t%.2f%%\n", h.Account, h.Amount, h.Share*100)
		}
		w.Flush()
	},
}

var planWeights string

var planCmd = &cobra.Command{
	Use:   "plan <total>",
	Short: "Plan a proportional distribution of an amount",
	Long: `Plan splits a total across accounts proportionally by weight.

Weights are given as JSON, e.g. --weights '{"treasury":40,"community":60}'.
Without --weights the server's default treasury buckets are used. The output
is a plan only: apply it with separate mint/transfer calls.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var weights map[string]int64
		if planWeights != "" {
			if err := json.Unmarshal([]byte(planWeights), &weights); err != nil {
				fatal(fmt.Errorf("parse --weights: %w", err))
			}
		}

		c, cancel := ctx()
		defer cancel()
		plan, err := api().PlanDistribution(c, asset, parseAmount(args[0]), weights)
		if err != nil {
			fatal(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ACCOUNT\tAMOUNT")
		for _, p := range plan {
			fmt.Fprintf(w, "%s\t%d\n", p.Account, p.Amount)
		}
		w.Flush()
	},
}

func init() {
	concentrationCmd.Flags().IntVar(&concentrationLimit, "limit", 10, "maximum holders to show")
	planCmd.Flags().StringVar(&planWeights, "weights", "", "JSON map of account to weight")
}

// ── collectibles & utilities ─────────────────────────────────────────────────

var tokensOwner string

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "List collectible records",
	Run: func(cmd *cobra.Command, args []string) {
		c, cancel := ctx()
		defer cancel()
		tokens, err := api().Collectibles(c, tokensOwner)
		if err != nil {
			fatal(err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tOWNER\tANCHOR")
		for _, t := range tokens {
			fmt.Fprintf(w, "%s\t%s\t%d\n", t.ID, t.Owner, t.LinkedEntrySequence)
		}
		w.Flush()
	},
}

var hashSecretCmd = &cobra.Command{
	Use:   "hash-secret <secret>",
	Short: "Bcrypt-hash an operator secret for server configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash, err := identity.HashSecret(args[0])
		if err != nil {
			fatal(err)
		}
		fmt.Println(hash)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("serledger", version)
	},
}

func init() {
	tokensCmd.Flags().StringVar(&tokensOwner, "owner", "", "filter by owner account")
}
