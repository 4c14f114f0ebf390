package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Chimu-moe/pisstaube/internal/config"
	"github.com/Chimu-moe/pisstaube/internal/logging"
	"github.com/Chimu-moe/pisstaube/internal/mirror"
	"github.com/Chimu-moe/pisstaube/internal/server"
	"github.com/Chimu-moe/pisstaube/internal/server/routes"
	"github.com/Chimu-moe/pisstaube/internal/version"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP mirror (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			fields := logging.BaseFields("check_config", path)
			fields["max_bytes"] = cfg.Cleaner.MaxBytes()
			fields["eviction_policy"] = string(cfg.Cleaner.EvictionPolicy)
			fields["mirror_enabled"] = cfg.Mirror.Enabled()
			fields["admin_enabled"] = cfg.AdminEnabled()
			fields["result"] = "ok"
			logger.WithFields(fields).Info("配置校验通过")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			printVersion()
		},
	}
}

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write the catalog dump to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out, _ := cmd.Flags().GetString("out")
			return withInstance(cmd, func(ctx context.Context, inst *instance) error {
				f, err := os.Create(out)
				if err != nil {
					return fail("创建 dump 文件失败: %w", err)
				}
				n, err := inst.dumper.Dump(ctx, f)
				if closeErr := f.Close(); err == nil {
					err = closeErr
				}
				if err != nil {
					return fail("导出目录失败: %w", err)
				}
				fmt.Fprintf(stdOut, "dumped %d records to %s\n", n, out)
				return nil
			})
		},
	}
	cmd.Flags().String("out", "dump.piss", "dump 输出路径")
	return cmd
}

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Import a catalog dump",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, _ := cmd.Flags().GetString("in")
			drop, _ := cmd.Flags().GetBool("drop")
			return withInstance(cmd, func(ctx context.Context, inst *instance) error {
				f, err := os.Open(in)
				if err != nil {
					return fail("打开 dump 文件失败: %w", err)
				}
				defer f.Close()

				var n int
				if drop {
					n, err = inst.dumper.Replace(ctx, f)
				} else {
					n, err = inst.dumper.Restore(ctx, f, false)
				}
				if err != nil {
					return fail("导入目录失败（已导入 %d 条）: %w", n, err)
				}
				fmt.Fprintf(stdOut, "restored %d records from %s\n", n, in)
				return nil
			})
		},
	}
	cmd.Flags().String("in", "dump.piss", "dump 输入路径")
	cmd.Flags().Bool("drop", false, "导入前清空目录")
	return cmd
}

func newFreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "free",
		Short: "Evict archives until usage fits the budget",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInstance(cmd, func(ctx context.Context, inst *instance) error {
				ok, err := inst.manager.FreeStorage(ctx)
				if err != nil {
					return fail("清理缓存失败: %w", err)
				}
				stats := inst.manager.Stats()
				fmt.Fprintf(stdOut, "ok=%t used=%d budget=%d percent=%.2f\n",
					ok, stats.BytesUsed, stats.BytesBudget, stats.PercentUsed)
				if !ok {
					return fail("缓存仍超出预算")
				}
				return nil
			})
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Align cache metadata with the files on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withInstance(cmd, func(ctx context.Context, inst *instance) error {
				report, err := inst.manager.Reconcile(ctx)
				if err != nil {
					return fail("对账失败: %w", err)
				}
				return json.NewEncoder(stdOut).Encode(report)
			})
		},
	}
}

// withInstance 为离线子命令加载配置并构建存储组件，结束后统一释放。
func withInstance(cmd *cobra.Command, fn func(ctx context.Context, inst *instance) error) error {
	cfg, logger, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := openInstance(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inst.Close()
	return fn(ctx, inst)
}

// runServe 启动 HTTP 服务与定期清理，直到收到退出信号。
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, path, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inst, err := openInstance(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer inst.Close()

	fetcher := mirror.NewFetcher(inst.manager, mirror.NewUpstreamClient(cfg.Mirror), cfg.Mirror.Upstream, logger)

	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		return fail("构建 HTTP 服务失败: %w", err)
	}
	routes.RegisterDownloadRoutes(app, fetcher, logger)
	routes.RegisterAdminRoutes(app, routes.AdminOptions{
		Key:     cfg.Global.PrivateAPIKey,
		Catalog: inst.dumper,
		Cache:   inst.manager,
		TempDir: cfg.TempDir(),
		Logger:  logger,
	})
	routes.RegisterMetricsRoutes(app)

	logStartup(cfg, path, inst)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, app, cfg.Global.ListenPort, logger)
	})
	g.Go(func() error {
		return inst.manager.RunHousekeeping(gctx, cfg.Cleaner.HousekeepingInterval.DurationValue())
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fail("HTTP 服务运行失败: %w", err)
	}
	return nil
}

func logStartup(cfg *config.Config, path string, inst *instance) {
	stats := inst.manager.Stats()
	fields := logging.BaseFields("startup", path)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["bytes_used"] = stats.BytesUsed
	fields["bytes_budget"] = stats.BytesBudget
	fields["eviction_policy"] = string(cfg.Cleaner.EvictionPolicy)
	fields["mirror_enabled"] = cfg.Mirror.Enabled()
	fields["admin_enabled"] = cfg.AdminEnabled()
	fields["version"] = version.Full()
	inst.logger.WithFields(fields).Info("配置加载完成")
}
