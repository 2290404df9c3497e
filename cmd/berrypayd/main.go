package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/strawberry-labs/berrypay-cli/internal/config"
	"github.com/strawberry-labs/berrypay-cli/internal/http_api"
	"github.com/strawberry-labs/berrypay-cli/internal/ledger"
	"github.com/strawberry-labs/berrypay-cli/internal/monitor"
	"github.com/strawberry-labs/berrypay-cli/internal/notifier"
	"github.com/strawberry-labs/berrypay-cli/internal/processor"
	"github.com/strawberry-labs/berrypay-cli/internal/store"
	"github.com/strawberry-labs/berrypay-cli/pkg/logger"
)

func main() {
	app := &cli.App{
		Name:  "berrypayd",
		Usage: "Berrypayd tracks payment charges on dedicated wallet accounts",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "api-port", Aliases: []string{"p"}, Usage: "HTTP API port"},
			&cli.StringFlag{Name: "wallet-rpc-url", Aliases: []string{"w"}, Usage: "Wallet RPC URL"},
			&cli.StringFlag{Name: "monitor-ws-url", Aliases: []string{"m"}, Usage: "Payment event websocket URL"},
			&cli.StringFlag{Name: "store-path", Aliases: []string{"s"}, Usage: "Path to the charge store file"},
			&cli.BoolFlag{Name: "development", Aliases: []string{"D"}, Usage: "Development mode"},
			&cli.BoolFlag{Name: "auto-sweep", Usage: "Sweep charges automatically on completion"},
			&cli.StringFlag{Name: "telegram-bot-token", Usage: "Telegram bot token for operator alerts"},
			&cli.StringFlag{Name: "telegram-chat-id", Usage: "Telegram chat to send operator alerts to"},
		},
		Action: func(c *cli.Context) error {
			return run(c)
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	// Override with flags if set
	if c.IsSet("api-port") {
		cfg.APIPort = c.Int("api-port")
	}
	if c.IsSet("wallet-rpc-url") {
		cfg.WalletRPCURL = c.String("wallet-rpc-url")
	}
	if c.IsSet("monitor-ws-url") {
		cfg.MonitorWSURL = c.String("monitor-ws-url")
	}
	if c.IsSet("store-path") {
		cfg.StorePath = c.String("store-path")
	}
	if c.IsSet("development") {
		cfg.Development = c.Bool("development")
	}
	if c.IsSet("auto-sweep") {
		cfg.AutoSweep = c.Bool("auto-sweep")
	}
	if c.IsSet("telegram-bot-token") {
		cfg.TelegramBotToken = c.String("telegram-bot-token")
	}
	if c.IsSet("telegram-chat-id") {
		cfg.TelegramChatID = c.String("telegram-chat-id")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Development)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}

	// Initialize charge store
	repo, err := store.Open(cfg.StorePath, cfg.InitialChargeIndex, cfg.SaveDebounce, log)
	if err != nil {
		return fmt.Errorf("failed to open charge store: %v", err)
	}

	// Initialize wallet client and payment event monitor
	wallet := ledger.NewRPCClient(cfg.WalletRPCURL, log)
	events := monitor.NewWebsocketMonitor(cfg.MonitorWSURL, log)

	// Initialize notifier; telegram alerts only when configured
	webhook := notifier.NewWebhookNotifier(cfg.CurrencyDecimals, log)
	var telegram *notifier.TelegramNotifier
	if cfg.TelegramBotToken != "" {
		telegram, err = notifier.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.CurrencySymbol, cfg.CurrencyDecimals, log)
		if err != nil {
			return fmt.Errorf("failed to initialize telegram notifier: %v", err)
		}
	}
	notify := notifier.NewNotifier(log, webhook, telegram)

	// Create the charge processor
	proc := processor.NewProcessor(repo, wallet, events, notify, log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processor: %v", err)
	}

	// Initialize API server
	apiServer := http_api.NewHTTPServer(proc, cfg.APIPort, cfg.CurrencySymbol, cfg.CurrencyDecimals, log)
	go apiServer.Start()

	// Wait for a termination signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("Shutting down...")
	if err := apiServer.Shutdown(); err != nil {
		log.Error("API server shutdown error: ", err)
	}
	proc.Stop()
	if err := repo.Close(); err != nil {
		log.Error("Charge store close error: ", err)
	}
	return nil
}
