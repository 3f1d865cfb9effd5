package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"todokeep/internal/credentials"
	"todokeep/internal/httpapi"
	"todokeep/internal/shutdown"
	"todokeep/internal/update"
	"todokeep/internal/utils"
	"todokeep/internal/watcher"
	"todokeep/internal/webcache"
)

const shutdownTimeout = 10 * time.Second

// headlessPlatform supplies the update coordinator's host hooks for the
// serve process: installs are always accepted and "reload" is a log
// line telling connected clients to refresh.
type headlessPlatform struct{}

func (headlessPlatform) PromptInstall(ctx context.Context) (bool, error) {
	return true, nil
}

func (headlessPlatform) Reload() {
	utils.Infof("new cache generation active; connected clients should refresh")
}

func newServeCmd(stdout, stderr io.Writer, opts *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the origin server and the offline caching gateway",
		Long: "Starts the origin API/pages server and the caching gateway in front of it, " +
			"installs and activates the configured cache generation, and watches the " +
			"database file for external changes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, cfg, err := openRepository(cmd, opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				_ = repo.Close()
				return err
			}

			mgr := shutdown.NewManager()
			mgr.Register("store", func(ctx context.Context) error {
				return repo.Close()
			})
			// fail tears down whatever has been registered so far before
			// surfacing a startup error.
			fail := func(err error) error {
				mgr.Trigger()
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = mgr.Wait(ctx)
				return err
			}

			// Origin server. Listen synchronously so precaching can start
			// as soon as the goroutine is serving.
			originSrv := &http.Server{
				Addr:    cfg.OriginAddr,
				Handler: httpapi.NewRouter(repo, cfg.CacheVersion),
			}
			originLn, err := net.Listen("tcp", cfg.OriginAddr)
			if err != nil {
				return fail(fmt.Errorf("could not listen on origin address %s: %w", cfg.OriginAddr, err))
			}
			go func() {
				if err := originSrv.Serve(originLn); err != nil && err != http.ErrServerClosed {
					utils.Errorf("origin server failed: %v", err)
					mgr.Trigger()
				}
			}()
			mgr.Register("origin server", originSrv.Shutdown)
			utils.Infof("origin listening on %s", cfg.OriginAddr)

			token, tokenInfo, err := credentials.NewManager(cfg.CredentialsService).Token()
			if err != nil {
				utils.Warnf("origin token unavailable: %v", err)
			} else if token != "" {
				utils.Debugf("origin token resolved from %s", tokenInfo.Source)
			}

			regions, err := webcache.NewRegionStore(cfg.CacheDir)
			if err != nil {
				return fail(fmt.Errorf("could not open cache directory: %w", err))
			}
			origin, err := webcache.NewOriginClient(cfg.OriginURL(), token)
			if err != nil {
				return fail(err)
			}
			gateway := webcache.NewGateway(regions, origin)
			lifecycle := webcache.NewManager(regions, origin, gateway, cfg.CacheVersion, cfg.PrecachePaths)

			coordinator := update.New(lifecycle, headlessPlatform{})
			unsubscribe := coordinator.Subscribe(func(st update.State) {
				utils.Debugf("update state: installable=%t installed=%t updateAvailable=%t",
					st.Installable, st.Installed, st.UpdateAvailable)
			})
			defer unsubscribe()

			gatewaySrv := &http.Server{
				Addr:    cfg.GatewayAddr,
				Handler: gatewayHandler(gateway, lifecycle),
			}
			gatewayLn, err := net.Listen("tcp", cfg.GatewayAddr)
			if err != nil {
				return fail(fmt.Errorf("could not listen on gateway address %s: %w", cfg.GatewayAddr, err))
			}
			go func() {
				if err := gatewaySrv.Serve(gatewayLn); err != nil && err != http.ErrServerClosed {
					utils.Errorf("gateway server failed: %v", err)
					mgr.Trigger()
				}
			}()
			mgr.Register("gateway server", gatewaySrv.Shutdown)
			utils.Infof("gateway listening on %s", cfg.GatewayAddr)

			if cfg.IsWatchDatabaseEnabled() {
				w, err := watcher.New(watcher.Config{
					DatabasePath: cfg.DatabasePath,
					OnChange: func() {
						gateway.ClearRegion(webcache.RegionAPI)
					},
				})
				if err != nil {
					utils.Warnf("database watcher unavailable: %v", err)
				} else if err := w.Start(); err != nil {
					utils.Warnf("database watcher failed to start: %v", err)
				} else {
					mgr.Register("database watcher", func(ctx context.Context) error {
						w.Stop()
						return nil
					})
				}
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigCh
				utils.Infof("shutting down")
				mgr.Trigger()
			}()

			// Precache the shell and activate the generation. A failed
			// install leaves the gateway serving runtime regions only; the
			// next serve run retries.
			if err := lifecycle.Install(mgr.Context()); err != nil {
				utils.Warnf("cache install failed, starting without precached shell: %v", err)
			} else {
				coordinator.RefreshUpdateAvailability()
				if err := coordinator.ApplyUpdate(mgr.Context()); err != nil {
					utils.Warnf("cache activation failed: %v", err)
				} else {
					_, _ = fmt.Fprintf(stdout, "Serving generation %s on %s\n",
						lifecycle.Version(), cfg.GatewayAddr)
				}
			}

			<-mgr.Context().Done()

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return mgr.Wait(ctx)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	return cmd
}

// gatewayHandler mounts the strategy dispatcher plus the lifecycle
// control endpoint used by clients to send skip-waiting/get-version.
func gatewayHandler(gateway *webcache.Gateway, lifecycle *webcache.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /_lifecycle/message", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 256))
		if err != nil {
			http.Error(w, "could not read message", http.StatusBadRequest)
			return
		}
		reply, err := lifecycle.HandleMessage(r.Context(), strings.TrimSpace(string(body)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(reply))
	})
	mux.Handle("/", gateway)
	return mux
}
