package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/config"
	"github.com/zhouzirui/crm-assistant/internal/logging"
)

var (
	// Global flags
	baseURL string
	token   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Terminal client for the CRM assistant",
	Long: `assistant talks to the CRM assistant backend over its streaming chat API.

Run without arguments to start an interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("warning: failed to load .env file: %v", err)
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if baseURL != "" {
			cfg.Client.BaseURL = baseURL
		}
		if token != "" {
			cfg.Client.Token = token
		}

		logger, err = logging.New(cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Assistant API base URL (or set ASSISTANT_BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "Bearer token (or set ASSISTANT_TOKEN)")

	chatCmd.Flags().StringVar(&feedAddr, "feed-addr", "", "Serve conversation snapshots over websocket on this address")

	rootCmd.AddCommand(chatCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
