package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Carneyyy/task-scheduler-project/internal/cli"
	"github.com/Carneyyy/task-scheduler-project/internal/config"
	internal_http "github.com/Carneyyy/task-scheduler-project/internal/http"
	"github.com/Carneyyy/task-scheduler-project/internal/log"
	internal_storage "github.com/Carneyyy/task-scheduler-project/internal/storage"
	"github.com/Carneyyy/task-scheduler-project/internal/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{Use: "taskengine"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler loop and the HTTP API",
	Run: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.GetLogger().Debugf("No .env file found: %v", err)
		}

		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			log.GetLogger().Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}

		dbConnStr, _ := cmd.Flags().GetString("db")
		if dbConnStr == "" {
			dbConnStr = cfg.DatabaseURL
		}
		store, err := internal_storage.InitStore(dbConnStr)
		if err != nil {
			log.GetLogger().Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		scriptsPath, _ := cmd.Flags().GetString("scripts")
		eng, err := worker.Build(store, cfg, scriptsPath, log.GetLogger())
		if err != nil {
			log.GetLogger().Errorf("Failed to build engine: %v", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		go eng.Scheduler.Run(ctx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- internal_http.StartServer(cfg.HTTPPort, eng.Service, eng.Scheduler)
		}()
		select {
		case err := <-errCh:
			log.GetLogger().Errorf("Server stopped: %v", err)
			os.Exit(1)
		case <-ctx.Done():
			log.GetLogger().Infof("Shutting down")
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string (falls back to DATABASE_URL)")
	rootCmd.PersistentFlags().String("scripts", "scripts.yaml", "Path to the script catalog")
	serveCmd.Flags().String("config", "", "Path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
