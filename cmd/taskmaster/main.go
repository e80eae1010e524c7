package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskmaster/config"
)

var rootCmd = &cobra.Command{
	Use:   "taskmaster",
	Short: "Taskmaster - task board with a chat assistant",
	Long:  `Taskmaster serves a three-column task board and a chat assistant that turns plain-language requests into task changes.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if debug {
			log.SetLevel(log.DebugLevel)
		}
	},
	SilenceUsage: true,
}

var (
	apiAddr  string
	apiToken string
	debug    bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", envOr("TASKMASTER_API", "http://127.0.0.1:8080"), "API server address")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", os.Getenv("TASKMASTER_TOKEN"), "Bearer token for the API server")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initStorageCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(tasksCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
