package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tkasuga/apppool/internal/spawner"
	"github.com/tkasuga/apppool/pkg/pool"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "apppool",
	Short:   "apppool manages a pool of application worker processes",
	Long:    `apppool spawns, monitors, and recycles application worker processes behind Unix domain sockets, the way a reverse-proxy's embedded process manager would.`,
	Version: "0.1.0",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pool and its admin HTTP surface in the foreground",
	RunE:  runServe,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a snapshot of pool state to stdout",
	RunE:  runInspect,
}

var restartAppRoot string

var restartCmd = &cobra.Command{
	Use:   "restart <group>",
	Short: "Ask a running pool to restart one group",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestart,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to apppool.yaml (defaults to ./apppool.yaml)")
	restartCmd.Flags().StringVar(&restartAppRoot, "app-root", "", "app root to spawn with after the restart (defaults to the group name)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(restartCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildPool() (*pool.Pool, *pool.Config, *pool.Logger, error) {
	cfg, err := pool.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := pool.NewLogger(cfg.Logging)
	socketManager := pool.NewSocketManager(cfg.Socket)
	if err := socketManager.EnsureDir(); err != nil {
		return nil, nil, nil, err
	}

	factory := spawner.NewFactory(cfg.Spawner, logger, socketManager)
	p := pool.New(*cfg, factory, logger)

	rw, err := pool.NewRestartWatcher(p, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to start restart watcher: %w", err)
	}
	p.SetRestartWatcher(rw)

	return p, cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	p, cfg, logger, err := buildPool()
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		auth, err := pool.NewAdminAuth(cfg.Metrics.AdminSecret)
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.WSPath, auth.Wrap(http.HandlerFunc(p.Events().ServeHTTP)))
		mux.Handle("/admin/inspect", auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(p.Inspect()))
		})))
		mux.Handle("/admin/restart/", auth.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handleRestart(p, w, r)
		})))
		srv := &http.Server{Addr: cfg.Metrics.HTTPAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.ErrorContext(context.Background(), "admin server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if rw := p.RestartWatcher(); rw != nil {
		go rw.Run(ctx)
	}

	logger.InfoContext(ctx, "apppool serving")
	<-ctx.Done()
	logger.InfoContext(context.Background(), "shutting down")
	return p.Shutdown(context.Background())
}

// handleRestart backs the /admin/restart/<group> endpoint runRestart's CLI
// client calls, per SPEC_FULL.md §4.7's "ask a running pool to restart one
// group".
func handleRestart(p *pool.Pool, w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/admin/restart/")
	if name == "" {
		http.Error(w, "group name required", http.StatusBadRequest)
		return
	}
	appRoot := r.URL.Query().Get("app_root")
	if appRoot == "" {
		appRoot = name
	}
	if err := p.RestartGroup(name, pool.Options{AppRoot: appRoot}); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func runInspect(cmd *cobra.Command, args []string) error {
	p, _, _, err := buildPool()
	if err != nil {
		return err
	}
	fmt.Print(p.Inspect())
	return nil
}

// runRestart sends an authenticated POST to a running apppool serve
// process's admin surface asking it to restart one group, rather than
// building an in-process Pool the way runServe/runInspect do — this
// subcommand's whole point is to reach a daemon already running elsewhere.
func runRestart(cmd *cobra.Command, args []string) error {
	groupName := args[0]

	cfg, err := pool.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics.enabled is false in config; the admin surface a restart needs isn't running")
	}

	token, err := pool.ComputeAdminToken(cfg.Metrics.AdminSecret)
	if err != nil {
		return err
	}

	appRoot := restartAppRoot
	if appRoot == "" {
		appRoot = groupName
	}

	addr := cfg.Metrics.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	target := fmt.Sprintf("http://%s/admin/restart/%s?app_root=%s",
		addr, url.PathEscape(groupName), url.QueryEscape(appRoot))

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, nil)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach admin surface at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("restart request failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	fmt.Printf("restart requested for %s\n", groupName)
	return nil
}
