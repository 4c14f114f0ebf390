package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Chimu-moe/pisstaube/internal/cache"
	"github.com/Chimu-moe/pisstaube/internal/cachedb"
	"github.com/Chimu-moe/pisstaube/internal/catalog"
	"github.com/Chimu-moe/pisstaube/internal/config"
	"github.com/Chimu-moe/pisstaube/internal/database"
	"github.com/Chimu-moe/pisstaube/internal/logging"
)

const (
	configEnv         = "PISSTAUBE_CONFIG"
	defaultConfigFile = "config.toml"
)

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

// runtimeError 标记参数解析之后发生的失败，对应退出码 1。
type runtimeError struct {
	err error
}

func (e runtimeError) Error() string { return e.err.Error() }

func (e runtimeError) Unwrap() error { return e.err }

func fail(format string, args ...any) error {
	return runtimeError{err: fmt.Errorf(format, args...)}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run 执行一次 CLI 调用并返回退出码，方便测试。
func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdOut)
	cmd.SetErr(stdErr)

	err := cmd.Execute()
	if err == nil {
		return 0
	}
	fmt.Fprintln(stdErr, err.Error())

	var rtErr runtimeError
	if errors.As(err, &rtErr) {
		return 1
	}
	return 2
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pisstaube",
		Short:         "Beatmap set mirror cache",
		Long:          "Serve cached beatmap set archives under a disk budget and manage the catalog dump.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runServe,
	}
	root.PersistentFlags().String("config", "", "配置文件路径（默认 ./config.toml，可被 "+configEnv+" 覆盖）")

	root.AddCommand(
		newServeCmd(),
		newCheckConfigCmd(),
		newVersionCmd(),
		newDumpCmd(),
		newRestoreCmd(),
		newFreeCmd(),
		newReconcileCmd(),
	)
	return root
}

// resolveConfigPath 按 flag > 环境变量 > ./config.toml 的顺序选择配置文件；
// 全都缺失时返回空串，仅使用环境变量与默认值。
func resolveConfigPath(cmd *cobra.Command) string {
	if flag := cmd.Flag("config"); flag != nil && flag.Value.String() != "" {
		return flag.Value.String()
	}
	if env := os.Getenv(configEnv); env != "" {
		return env
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	return ""
}

// loadConfig 加载配置并初始化 logger。
func loadConfig(cmd *cobra.Command) (*config.Config, *logrus.Logger, string, error) {
	path := resolveConfigPath(cmd)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, path, fail("加载配置失败: %w", err)
	}
	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		return nil, nil, path, fail("初始化日志失败: %w", err)
	}
	return cfg, logger, path, nil
}

// instance 汇总一次进程生命周期内共享的存储组件。
type instance struct {
	cfg     *config.Config
	logger  *logrus.Logger
	manager *cache.Manager
	catalog *catalog.Store
	dumper  *catalog.Dumper
	dbs     []*sql.DB
}

// openInstance 遵循“配置 → 数据库 → 元数据表 → 磁盘缓存 → 目录”的顺序构建组件。
// 缓存与目录各用一个数据库句柄，长时间的 dump 事务不会阻塞下载写入。
func openInstance(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*instance, error) {
	inst := &instance{cfg: cfg, logger: logger}

	cacheDB, err := database.Open(ctx, cfg.Global.DatabasePath)
	if err != nil {
		return nil, fail("打开数据库失败: %w", err)
	}
	inst.dbs = append(inst.dbs, cacheDB)

	catalogDB, err := database.Open(ctx, cfg.Global.DatabasePath)
	if err != nil {
		inst.Close()
		return nil, fail("打开数据库失败: %w", err)
	}
	inst.dbs = append(inst.dbs, catalogDB)

	entries, err := cachedb.NewStore(ctx, cacheDB)
	if err != nil {
		inst.Close()
		return nil, fail("初始化缓存元数据失败: %w", err)
	}

	files, err := cache.NewStore(cfg.CacheDir(), cfg.TempDir())
	if err != nil {
		inst.Close()
		return nil, fail("初始化缓存目录失败: %w", err)
	}

	inst.manager, err = cache.NewManager(cache.Options{
		Files:      files,
		Entries:    entries,
		MaxBytes:   cfg.Cleaner.MaxBytes(),
		Policy:     cache.Policy(cfg.Cleaner.EvictionPolicy),
		StaleAfter: cfg.Cleaner.StaleAfter.DurationValue(),
		Logger:     logger,
	})
	if err != nil {
		inst.Close()
		return nil, fail("初始化缓存管理失败: %w", err)
	}

	inst.catalog, err = catalog.NewStore(ctx, catalogDB)
	if err != nil {
		inst.Close()
		return nil, fail("初始化目录失败: %w", err)
	}
	inst.dumper = catalog.NewDumper(inst.catalog, logger)
	return inst, nil
}

func (i *instance) Close() {
	for _, db := range i.dbs {
		if err := db.Close(); err != nil {
			i.logger.WithError(err).Warn("关闭数据库失败")
		}
	}
	i.dbs = nil
}
