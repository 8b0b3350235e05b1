package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/attrd-core/pkg/admin"
	"github.com/cuemby/attrd-core/pkg/attrd"
	"github.com/cuemby/attrd-core/pkg/bus"
	"github.com/cuemby/attrd-core/pkg/cib"
	"github.com/cuemby/attrd-core/pkg/config"
	"github.com/cuemby/attrd-core/pkg/executor"
	"github.com/cuemby/attrd-core/pkg/log"
	"github.com/cuemby/attrd-core/pkg/metrics"
	"github.com/cuemby/attrd-core/pkg/proxy"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "attrd",
	Short:   "attrd - cluster attribute aggregator, action executor, and IPC proxy",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("attrd version %s\nCommit: %s\n", Version, Commit))

	runCmd.Flags().StringP("config", "c", "", "path to config file (defaults if omitted)")
	rootCmd.AddCommand(runCmd)

	clearFailureCmd.Flags().String("admin-addr", "http://127.0.0.1:9090", "address of a running attrd's admin surface")
	clearFailureCmd.Flags().String("resource", "", "resource id to clear (all resources if omitted)")
	clearFailureCmd.Flags().String("operation", "", "operation name to narrow the clear to")
	clearFailureCmd.Flags().Int64("interval", 0, "operation interval in milliseconds, paired with --operation")
	clearFailureCmd.Flags().String("host", "", "node to clear on (local node if omitted)")
	rootCmd.AddCommand(clearFailureCmd)

	queryCmd.Flags().String("admin-addr", "http://127.0.0.1:9090", "address of a running attrd's admin surface")
	rootCmd.AddCommand(queryCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run the attrd daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runDaemon(configPath)
	},
}

var clearFailureCmd = &cobra.Command{
	Use:   "clear-failure",
	Short: "clear fail-count/last-failure attributes on a running attrd",
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		resource, _ := cmd.Flags().GetString("resource")
		operation, _ := cmd.Flags().GetString("operation")
		interval, _ := cmd.Flags().GetInt64("interval")
		host, _ := cmd.Flags().GetString("host")
		return clearFailure(adminAddr, resource, operation, interval, host)
	},
}

var queryCmd = &cobra.Command{
	Use:   "query <attribute-name>",
	Short: "query one attribute's current and committed value from a running attrd",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		return queryAttribute(adminAddr, args[0])
	},
}

// adminHTTPClient is shared by the clear-failure and query subcommands,
// which talk to a running daemon's admin surface rather than to storage
// directly.
var adminHTTPClient = &http.Client{Timeout: 10 * time.Second}

func clearFailure(adminAddr, resource, operation string, intervalMS int64, host string) error {
	form := url.Values{}
	if resource != "" {
		form.Set("resource", resource)
	}
	if operation != "" {
		form.Set("operation", operation)
		form.Set("interval_ms", strconv.FormatInt(intervalMS, 10))
	}
	if host != "" {
		form.Set("host", host)
	}

	resp, err := adminHTTPClient.Post(strings.TrimRight(adminAddr, "/")+"/clear-failure", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("clear-failure request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("clear-failure rejected: %s", resp.Status)
	}
	fmt.Println("clear-failure accepted")
	return nil
}

func queryAttribute(adminAddr, name string) error {
	resp, err := adminHTTPClient.Get(strings.TrimRight(adminAddr, "/") + "/query/" + url.PathEscape(name))
	if err != nil {
		return fmt.Errorf("query request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query failed: %s", resp.Status)
	}

	var view struct {
		Name           string  `json:"name"`
		State          string  `json:"state"`
		CurrentValue   *string `json:"current_value"`
		CommittedValue *string `json:"committed_value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return fmt.Errorf("decode query response: %w", err)
	}

	current := "(none)"
	if view.CurrentValue != nil {
		current = *view.CurrentValue
	}
	committed := "(none)"
	if view.CommittedValue != nil {
		committed = *view.CommittedValue
	}
	fmt.Printf("%s: state=%s current=%s committed=%s\n", view.Name, view.State, current, committed)
	return nil
}

func runDaemon(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log.Init(log.Config{Level: cfg.Logging.Level, JSONOutput: cfg.Logging.JSONOutput})
	log.Logger.Info().Str("node", cfg.Node.Name).Msg("starting attrd")

	metrics.SetVersion(Version)

	store, err := cib.NewBoltStore(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("open configuration store: %w", err)
	}
	defer store.Close()
	store.SetConnected(true)
	metrics.RegisterComponent("cib", true, "")

	msgBus := bus.NewBroker()
	msgBus.Start()
	defer msgBus.Stop()
	metrics.RegisterComponent("bus", true, "")

	attrEngine := attrd.NewEngine(attrd.Config{
		NodeName:  cfg.Node.Name,
		HostKey:   cfg.Node.Name,
		Bus:       msgBus,
		Store:     store,
		BackoffMS: cfg.CommitBackoffMS,
	})
	for _, peer := range cfg.Node.Peers {
		attrEngine.AddPeer(peer)
	}
	attrEngine.Start(func(node string) {
		log.Logger.Info().Str("node", node).Msg("peer reaped")
	})

	actionEngine := executor.NewEngine(executor.Config{})

	// alertDispatcher is wired up here so the recipient table can be
	// populated once alert entries are sourced from the configuration
	// store; SetEntries is not yet called from this entrypoint.
	alertDispatcher := executor.NewAlertDispatcher(actionEngine)
	alertDispatcher.SetVersion(Version)
	_ = alertDispatcher

	mux := proxy.NewMultiplexer(cfg.Node.Name, localDialerUnavailable, nil)
	wsTransport := proxy.NewWSTransport(mux)
	mux.SetOutbound(wsTransport)
	metrics.RegisterComponent("proxy", true, "")

	collector := metrics.NewCollector(attrEngine, actionEngine, mux)
	collector.Start()
	defer collector.Stop()

	proxyMux := http.NewServeMux()
	proxyMux.Handle("/proxy", wsTransport)
	proxySrv := &http.Server{Addr: cfg.Proxy.ListenAddr, Handler: proxyMux}
	go func() {
		if err := proxySrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("proxy listener stopped")
		}
	}()
	defer proxySrv.Close()

	adminServer := admin.NewServer(attrEngine, actionEngine, mux)
	adminSrv := &http.Server{Addr: cfg.Admin.ListenAddr, Handler: adminServer.Handler()}
	go func() {
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("admin listener stopped")
		}
	}()
	defer adminSrv.Close()

	log.Logger.Info().
		Str("admin_addr", cfg.Admin.ListenAddr).
		Str("proxy_addr", cfg.Proxy.ListenAddr).
		Msg("attrd is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Logger.Info().Msg("shutting down")
	return nil
}

// localDialerUnavailable stands in for the daemon-local IPC transport
// (controller/CIB/executor client sockets), which lives outside this
// module's scope; every proxy session that isn't a local shortcut fails to
// dial until a real local transport is wired in.
func localDialerUnavailable(channel string) (proxy.LocalConn, error) {
	return nil, &net.OpError{Op: "dial", Net: "local", Err: fmt.Errorf("no local transport configured for channel %q", channel)}
}
