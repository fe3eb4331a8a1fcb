package main

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rodmena-limited/trust5/internal/auth"
	"github.com/rodmena-limited/trust5/internal/config"
	"github.com/rodmena-limited/trust5/internal/eventbus"
	"github.com/spf13/cobra"
)

const (
	watchWriteWait = 10 * time.Second
	watchPingEvery = 30 * time.Second
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true }, // loopback-only server, no browser CSRF surface
}

// buildWatchCmd starts a local websocket server streaming events from the
// workspace's event bus - an alternate transport alongside the always-on
// Unix-domain socket, for a browser-based viewer rather than a CLI
// subscriber. Opt-in: the default listen address comes from
// observability.watch in trust5.yaml.
func buildWatchCmd() *cobra.Command {
	var (
		workspace string
		addr      string
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Stream pipeline events over a local websocket",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				workspace = args[0]
			}
			workspace, err := resolveWorkspace(workspace)
			if err != nil {
				return err
			}

			logger := slog.Default()
			engine, err := buildEngine(workspace, logger)
			if err != nil {
				return err
			}
			defer engine.Close()

			if addr == "" {
				addr = engine.Config.Watch.Addr
			}
			if addr == "" {
				addr = "127.0.0.1:0"
			}

			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Streaming events at ws://%s/events (Ctrl-C to stop)\n", listener.Addr())

			authSvc := auth.NewService(auth.Config{APIKeys: toAuthAPIKeys(engine.Config.Auth.APIKeys)})

			mux := http.NewServeMux()
			mux.HandleFunc("/events", requireAPIKey(authSvc, handleWatchEvents(engine.Bus, logger)))
			server := &http.Server{Handler: mux}

			errCh := make(chan error, 1)
			go func() { errCh <- server.Serve(listener) }()

			select {
			case <-cmd.Context().Done():
				server.Close()
				return cmd.Context().Err()
			case err := <-errCh:
				if err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "Project root (default: current directory, or the positional [path])")
	cmd.Flags().StringVar(&addr, "addr", "", "Loopback listen address (default: observability.watch.addr, or 127.0.0.1:0)")
	return cmd
}

// toAuthAPIKeys adapts the config's API key list to auth.Config's - kept
// as a separate small conversion rather than sharing a type, since
// config must not import auth (it would invert the dependency every
// other config_*.go file establishes: config knows nothing about the
// packages that consume it).
func toAuthAPIKeys(keys []config.APIKeyConfig) []auth.APIKeyConfig {
	out := make([]auth.APIKeyConfig, len(keys))
	for i, k := range keys {
		out[i] = auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name}
	}
	return out
}

// requireAPIKey gates next behind a configured API key, read from either
// an Authorization: Bearer header or an `?api_key=` query parameter (the
// latter exists because browser WebSocket clients can't set arbitrary
// headers on the upgrade request). When no keys are configured, auth is
// disabled and every request passes - the server is loopback-only by
// default and a deployment that wants access control sets
// auth.api_keys in trust5.yaml to turn this on.
func requireAPIKey(svc *auth.Service, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !svc.Enabled() {
			next(w, r)
			return
		}
		key := r.URL.Query().Get("api_key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if _, err := svc.ValidateAPIKey(key); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// handleWatchEvents upgrades the request to a websocket and relays every
// bus event as a newline-delimited-JSON-equivalent text frame (one frame
// per event) until the client disconnects or the bus subscription closes.
func handleWatchEvents(bus *eventbus.Bus, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := watchUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("watch: websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		sub := bus.Subscribe()
		defer bus.Unsubscribe(sub)

		ticker := time.NewTicker(watchPingEvery)
		defer ticker.Stop()

		for {
			select {
			case e, ok := <-sub.Events():
				if !ok {
					return
				}
				payload, err := e.MarshalJSON()
				if err != nil {
					continue
				}
				conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
				if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
					return
				}
			case <-sub.Closed():
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
