package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fasthttp/router"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"

	"pulsetrack/internal/config"
	"pulsetrack/internal/db"
	"pulsetrack/internal/http/handlers"
	appmw "pulsetrack/internal/http/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "pulsetrack",
		Short:        "Activity event store with heartbeat merge and API-key gating",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd(), apikeyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore() (*db.Store, *config.Config, error) {
	_ = godotenv.Load()
	cfg := config.Load()
	store, err := db.Connect(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return store, cfg, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the event store server",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cfg, err := openStore()
			if err != nil {
				return err
			}

			db.StartRetentionWorker(store, cfg.RetentionDays)
			db.StartRollupWorker(store)

			handlers.InitPrometheusMetrics()

			gate := appmw.Gate(store, cfg)
			readGate := appmw.ReadGate(store, cfg)
			admin := appmw.AdminAuth(cfg)

			r := router.New()

			r.GET("/healthz", func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(fasthttp.StatusOK)
				ctx.SetBodyString("ok")
			})
			r.GET("/metrics", handlers.MetricsHandler())

			r.GET("/api/0/info", handlers.Info(cfg))

			r.GET("/api/0/buckets", readGate(handlers.ListBuckets(store)))
			r.GET("/api/0/buckets/{bucket}", readGate(handlers.GetBucket(store)))
			r.POST("/api/0/buckets/{bucket}", gate(handlers.CreateBucket(store)))
			r.DELETE("/api/0/buckets/{bucket}", gate(handlers.DeleteBucket(store)))

			r.GET("/api/0/buckets/{bucket}/events", readGate(handlers.GetEvents(store)))
			r.POST("/api/0/buckets/{bucket}/events", gate(handlers.PostEvents(store)))
			r.GET("/api/0/buckets/{bucket}/events/count", readGate(handlers.CountEvents(store)))
			r.GET("/api/0/buckets/{bucket}/events/{id}", readGate(handlers.GetEvent(store)))
			r.DELETE("/api/0/buckets/{bucket}/events/{id}", gate(handlers.DeleteEvent(store)))
			r.POST("/api/0/buckets/{bucket}/heartbeat", gate(handlers.Heartbeat(store)))
			r.GET("/api/0/buckets/{bucket}/rollups", readGate(handlers.Rollups(store)))

			r.GET("/api/0/settings", readGate(handlers.ListSettings(store)))
			r.GET("/api/0/settings/{key}", readGate(handlers.GetSetting(store)))
			r.POST("/api/0/settings/{key}", gate(handlers.SetSetting(store)))
			r.DELETE("/api/0/settings/{key}", gate(handlers.DeleteSetting(store)))

			r.POST("/api/0/apikeys", admin(handlers.CreateAPIKey(store)))
			r.GET("/api/0/apikeys", admin(handlers.ListAPIKeys(store)))
			r.DELETE("/api/0/apikeys/{id}", admin(handlers.RevokeAPIKey(store)))

			handler := handlers.RequestLogger(r.Handler)

			log.Printf("pulsetrack listening on %s (auth_enabled=%v)", cfg.ListenAddr, cfg.AuthEnabled)
			return fasthttp.ListenAndServe(cfg.ListenAddr, handler)
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys directly against the datastore",
	}

	var description string
	issue := &cobra.Command{
		Use:   "issue <client-id>",
		Short: "Issue a new API key (prints the secret exactly once)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			issued, err := store.IssueAPIKey(context.Background(), args[0], description)
			if err != nil {
				return err
			}
			fmt.Printf("id:      %s\n", issued.ID)
			fmt.Printf("client:  %s\n", issued.ClientID)
			fmt.Printf("api key: %s\n", issued.Plaintext)
			fmt.Println("store this key now; it cannot be retrieved again")
			return nil
		},
	}
	issue.Flags().StringVarP(&description, "description", "d", "", "free-form key description")

	list := &cobra.Command{
		Use:   "list",
		Short: "List issued API keys (metadata only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			keys, err := store.ListAPIKeys(context.Background())
			if err != nil {
				return err
			}
			for _, k := range keys {
				status := "active"
				if !k.IsActive {
					status = "revoked"
				}
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Format("2006-01-02 15:04:05")
				}
				fmt.Printf("%s  %-20s %-8s last used: %s\n", k.ID, k.ClientID, status, lastUsed)
			}
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key (one-way)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, err := openStore()
			if err != nil {
				return err
			}
			if err := store.RevokeAPIKey(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Println("revoked")
			return nil
		},
	}

	cmd.AddCommand(issue, list, revoke)
	return cmd
}
