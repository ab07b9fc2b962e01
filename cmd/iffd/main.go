package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/iffish/pkg/client"
	"github.com/cuemby/iffish/pkg/clustertypes"
	"github.com/cuemby/iffish/pkg/discovery"
	"github.com/cuemby/iffish/pkg/enginepool"
	"github.com/cuemby/iffish/pkg/log"
	"github.com/cuemby/iffish/pkg/manager"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "iffd",
	Short: "iffd - fault-tolerant chess position analysis cluster node",
	Long: `iffd runs one node of a horizontally-scalable compute cluster that
analyzes chess positions with UCI engines, gossiping membership and load
and electing a leader to run cluster housekeeping, with no single point
of failure.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("iffd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("admin-addr", "127.0.0.1:7700", "Admin API address for CLI subcommands to reach")
	rootCmd.PersistentFlags().String("token", "", "Bearer token for admin API calls (required for all but serve/healthz)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(healthzCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(peersCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(analyzeCmd)

	tokenCmd.AddCommand(tokenCreateCmd, tokenListCmd, tokenRevokeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func adminClient(cmd *cobra.Command) *client.Client {
	addr, _ := cmd.Flags().GetString("admin-addr")
	token, _ := cmd.Flags().GetString("token")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return client.New(addr, token)
}

// fileConfig is the shape of the optional --config YAML file. Any
// field left zero keeps its flag or flag-default value; the file never
// overrides a flag the operator explicitly set.
type fileConfig struct {
	DataDir       string   `yaml:"dataDir"`
	ListenAddr    string   `yaml:"listenAddr"`
	AdminAddr     string   `yaml:"adminAddr"`
	ClusterSecret string   `yaml:"clusterSecret"`
	TokenSecret   string   `yaml:"tokenSecret"`
	EngineBinary  string   `yaml:"engineBinary"`
	PoolSize      int      `yaml:"poolSize"`
	Seeds         []string `yaml:"seeds"`
	Multicast     bool     `yaml:"discoveryMulticast"`
	DNSSRVName    string   `yaml:"discoveryDNSSRV"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config file: %w", err)
	}
	return fc, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node: transport, gossip, election, engine pool, dispatcher, admin API",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		clusterSecret, _ := cmd.Flags().GetString("cluster-secret")
		tokenSecret, _ := cmd.Flags().GetString("token-secret")
		engineBinary, _ := cmd.Flags().GetString("engine-binary")
		poolSize, _ := cmd.Flags().GetInt("pool-size")
		seeds, _ := cmd.Flags().GetStringSlice("seed")
		multicast, _ := cmd.Flags().GetBool("discovery-multicast")
		dnsSRV, _ := cmd.Flags().GetString("discovery-dns-srv")

		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			fc, err := loadFileConfig(configPath)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("data-dir") && fc.DataDir != "" {
				dataDir = fc.DataDir
			}
			if !cmd.Flags().Changed("listen-addr") && fc.ListenAddr != "" {
				listenAddr = fc.ListenAddr
			}
			if !cmd.Flags().Changed("admin-addr") && fc.AdminAddr != "" {
				adminAddr = fc.AdminAddr
			}
			if !cmd.Flags().Changed("cluster-secret") && fc.ClusterSecret != "" {
				clusterSecret = fc.ClusterSecret
			}
			if !cmd.Flags().Changed("token-secret") && fc.TokenSecret != "" {
				tokenSecret = fc.TokenSecret
			}
			if !cmd.Flags().Changed("engine-binary") && fc.EngineBinary != "" {
				engineBinary = fc.EngineBinary
			}
			if !cmd.Flags().Changed("pool-size") && fc.PoolSize != 0 {
				poolSize = fc.PoolSize
			}
			if !cmd.Flags().Changed("seed") && len(fc.Seeds) > 0 {
				seeds = fc.Seeds
			}
			if !cmd.Flags().Changed("discovery-multicast") && fc.Multicast {
				multicast = fc.Multicast
			}
			if !cmd.Flags().Changed("discovery-dns-srv") && fc.DNSSRVName != "" {
				dnsSRV = fc.DNSSRVName
			}
		}

		if clusterSecret == "" || tokenSecret == "" {
			return fmt.Errorf("--cluster-secret and --token-secret are required")
		}

		sources, err := buildDiscovery(listenAddr, seeds, multicast, dnsSRV)
		if err != nil {
			return err
		}

		cfg := manager.Config{
			DataDir:       dataDir,
			ListenAddr:    listenAddr,
			AdminAddr:     adminAddr,
			ClusterSecret: []byte(clusterSecret),
			TokenSecret:   []byte(tokenSecret),
			Discovery:     sources,
			EnginePool: enginepool.Config{
				PoolSize:     poolSize,
				EngineBinary: engineBinary,
			},
		}

		mgr, err := manager.New(cfg)
		if err != nil {
			return fmt.Errorf("construct manager: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Println("\nShutting down...")
			cancel()
		}()

		fmt.Printf("iffd listening on %s, admin API on %s\n", listenAddr, adminAddr)
		return mgr.Run(ctx)
	},
}

func buildDiscovery(listenAddr string, seeds []string, multicast bool, dnsSRV string) ([]discovery.Source, error) {
	var sources []discovery.Source

	if len(seeds) > 0 {
		cands := make([]discovery.Candidate, 0, len(seeds))
		for _, s := range seeds {
			host, portStr, err := net.SplitHostPort(s)
			if err != nil {
				return nil, fmt.Errorf("invalid --seed %q: %w", s, err)
			}
			port, err := strconv.Atoi(portStr)
			if err != nil {
				return nil, fmt.Errorf("invalid --seed port %q: %w", s, err)
			}
			cands = append(cands, discovery.Candidate{
				Endpoints: []clustertypes.Endpoint{{Host: host, Port: port}},
			})
		}
		sources = append(sources, discovery.StaticSource{Candidates: cands})
	}

	if multicast {
		host, portStr, err := net.SplitHostPort(listenAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid --listen-addr %q: %w", listenAddr, err)
		}
		port, _ := strconv.Atoi(portStr)
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		sources = append(sources, discovery.MulticastSource{
			Self: discovery.Candidate{Endpoints: []clustertypes.Endpoint{{Host: host, Port: port}}},
		})
	}

	if dnsSRV != "" {
		sources = append(sources, discovery.DNSSource{SRVName: dnsSRV, Resolver: "127.0.0.1:53"})
	}

	return sources, nil
}

func init() {
	serveCmd.Flags().String("data-dir", "./iffd-data", "Directory for persisted node identity and token log")
	serveCmd.Flags().String("listen-addr", "0.0.0.0:7600", "Peer transport listen address")
	serveCmd.Flags().String("cluster-secret", "", "Shared cluster HMAC secret (required)")
	serveCmd.Flags().String("token-secret", "", "Shared bearer token HMAC secret (required)")
	serveCmd.Flags().String("engine-binary", "stockfish", "UCI engine binary to spawn in the pool")
	serveCmd.Flags().Int("pool-size", 4, "Maximum concurrent engine processes")
	serveCmd.Flags().StringSlice("seed", nil, "host:port of a known peer, repeatable")
	serveCmd.Flags().Bool("discovery-multicast", false, "Announce and discover peers over UDP multicast")
	serveCmd.Flags().String("discovery-dns-srv", "", "SRV record name to periodically resolve for peer discovery")
	serveCmd.Flags().String("config", "", "Optional YAML config file; flags explicitly set on the command line take precedence")
}

var healthzCmd = &cobra.Command{
	Use:   "healthz",
	Short: "Check that a node's admin API is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := adminClient(cmd).Healthz(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage bearer tokens for the admin API and analyze clients",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Mint a new bearer token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetFloat64("ttl-hours")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tok, err := adminClient(cmd).CreateToken(ctx, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Printf("id:     %s\nbearer: %s\n", tok.ID, tok.Bearer)
		return nil
	},
}

func init() {
	tokenCreateCmd.Flags().Float64("ttl-hours", 0, "Token lifetime in hours, 0 for no expiry")
}

var tokenListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tokens known to a node",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		toks, err := adminClient(cmd).ListTokens(ctx)
		if err != nil {
			return err
		}
		for _, t := range toks {
			fmt.Printf("%s\t%s\trevoked=%v\n", t.ID, t.Name, t.Revoked)
		}
		return nil
	},
}

var tokenRevokeCmd = &cobra.Command{
	Use:   "revoke <id>",
	Short: "Revoke a token by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		changed, err := adminClient(cmd).RevokeToken(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("revoked=%v\n", changed)
		return nil
	},
}

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "List a node's current directory snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		peers, err := adminClient(cmd).ListPeers(ctx)
		if err != nil {
			return err
		}
		for _, p := range peers {
			fmt.Printf("%s\t%s\tincarnation=%d\tendpoints=%v\n", p.NodeID, p.State, p.Incarnation, p.Endpoints)
		}
		return nil
	},
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show a node's engine pool metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m, err := adminClient(cmd).PoolStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("idle=%d busy=%d dead=%d quarantined=%d restarts=%d\n", m.Idle, m.Busy, m.Dead, m.Quarantined, m.RestartsTotal)
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <fen>",
	Short: "Submit a position for analysis and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		depth, _ := cmd.Flags().GetInt("depth")
		timeoutSec, _ := cmd.Flags().GetInt("timeout")
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec+5)*time.Second)
		defer cancel()
		res, err := adminClient(cmd).Analyze(ctx, args[0], depth, timeoutSec)
		if err != nil {
			return err
		}
		fmt.Printf("bestmove: %s\n", res.BestMove)
		if res.ScoreCP != nil {
			fmt.Printf("score_cp: %d\n", *res.ScoreCP)
		}
		if res.ScoreMate != nil {
			fmt.Printf("score_mate: %d\n", *res.ScoreMate)
		}
		fmt.Printf("depth: %d\nnodes: %d\nnps: %d\nexecuted_by: %s\n", res.DepthReached, res.Nodes, res.NPS, res.ExecutedBy)
		return nil
	},
}

func init() {
	analyzeCmd.Flags().Int("depth", 15, "Search depth")
	analyzeCmd.Flags().Int("timeout", 30, "Analysis timeout in seconds")
}
