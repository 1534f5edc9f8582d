package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"ledger/config"
	"ledger/database"
	"ledger/events"
	"ledger/middleware"
	"ledger/router"
	"ledger/service"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}

			// 命令行参数覆盖端口配置
			if port != "" {
				if !strings.HasPrefix(port, ":") {
					port = ":" + port
				}
				cfg.Server.Port = port
				log.Printf("命令行指定端口: %s", port)
			}

			config.PrintConfig()
			setupLogging()
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "监听端口，如: 8080 或 :8080")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := database.Open(cfg)
	if err != nil {
		return fmt.Errorf("数据库初始化失败: %w", err)
	}

	if cfg.Database.BackfillLegacyStores {
		n, err := service.BackfillLegacyStores(ctx, db, service.NewLookupService(db, cfg.Lookup.OnDuplicate), nil)
		if err != nil {
			return fmt.Errorf("补齐历史商店失败: %w", err)
		}
		log.Printf("历史记录商店补齐完成，共更新 %d 条", n)
	}

	middleware.InitJWT(cfg)

	hub := events.NewHub()
	var publisher events.Publisher
	if cfg.Events.AMQPEnabled {
		amqp, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange, cfg.Events.AMQPQueue)
		if err != nil {
			// 消息队列不可用时仍提供服务，仅关闭外部事件投递
			log.Printf("AMQP 连接失败，事件投递已禁用: %v", err)
		} else {
			defer amqp.Close()
			publisher = amqp
		}
	}

	r := router.SetupRouter(router.Deps{
		Config:    cfg,
		DB:        db,
		Hub:       hub,
		Publisher: publisher,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("==========================================")
	log.Printf("  Ledger 已启动")
	log.Printf("==========================================")
	log.Printf("  Swagger:  http://localhost%s/swagger/index.html", cfg.Server.Port)
	log.Printf("  API接口:  http://localhost%s/api/v1/", cfg.Server.Port)
	log.Printf("==========================================")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("服务器启动失败: %w", err)
	case <-ctx.Done():
		log.Printf("收到退出信号，正在关闭服务...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func backfillStoresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-stores",
		Short: "Assign a per-user \"Legacy Store\" to entries without a store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			setupLogging()

			db, err := database.Open(cfg)
			if err != nil {
				return fmt.Errorf("数据库初始化失败: %w", err)
			}

			var bar *progressbar.ProgressBar
			n, err := service.BackfillLegacyStores(cmd.Context(), db, service.NewLookupService(db, cfg.Lookup.OnDuplicate),
				func(done, total int) {
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetWriter(cmd.ErrOrStderr()),
							progressbar.OptionSetDescription("Backfilling users"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWidth(40),
							progressbar.OptionShowElapsedTimeOnFinish(),
						)
					}
					_ = bar.Set(done)
				})
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(cmd.ErrOrStderr())
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d entries\n", n)
			return nil
		},
	}
}

func testEmailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test-email <address>",
		Short: "Send a test email with the configured SMTP settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("加载配置失败: %w", err)
			}
			if err := service.NewEmailService(&cfg.Email).SendTestEmail(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Test email sent to %s\n", args[0])
			return nil
		},
	}
}

// setupLogging release 模式输出 JSON，其余输出文本；记录自动附带 request_id
func setupLogging() {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if config.IsRelease() {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(middleware.ContextHandler{Handler: handler}))
}
