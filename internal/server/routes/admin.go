package routes

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Chimu-moe/pisstaube/internal/cache"
	"github.com/Chimu-moe/pisstaube/internal/catalog"
	"github.com/Chimu-moe/pisstaube/internal/server"
)

// CatalogAdmin 由 catalog.Dumper 实现。
type CatalogAdmin interface {
	Dump(ctx context.Context, w io.Writer) (int, error)
	Restore(ctx context.Context, r io.Reader, drop bool) (int, error)
	Replace(ctx context.Context, r io.Reader) (int, error)
}

// CacheAdmin 由 cache.Manager 实现。
type CacheAdmin interface {
	FreeStorage(ctx context.Context) (bool, error)
	Reconcile(ctx context.Context) (cache.ReconcileReport, error)
	Stats() cache.Stats
}

// AdminOptions 汇总 /api/pisstaube 接口的依赖。
type AdminOptions struct {
	// Key 为空时所有需要鉴权的接口返回 403。
	Key     string
	Catalog CatalogAdmin
	Cache   CacheAdmin
	// TempDir 存放 dump 输出的临时文件。
	TempDir string
	Logger  *logrus.Logger
}

// RegisterAdminRoutes 暴露目录 dump/restore 与缓存清理接口。
func RegisterAdminRoutes(app *fiber.App, opts AdminOptions) {
	if app == nil || opts.Catalog == nil || opts.Cache == nil || opts.Logger == nil {
		return
	}

	api := app.Group("/api/pisstaube")
	auth := requireKey(opts.Key)

	api.Get("/dump", auth, func(c fiber.Ctx) error {
		return handleDump(c, opts)
	})

	api.Put("/put", auth, func(c fiber.Ctx) error {
		return handleRestore(c, opts)
	})

	api.Post("/cleaner/free", auth, func(c fiber.Ctx) error {
		ok, err := opts.Cache.FreeStorage(c.Context())
		if err != nil {
			return err
		}
		stats := opts.Cache.Stats()
		return c.JSON(fiber.Map{
			"ok":           ok,
			"bytes_used":   stats.BytesUsed,
			"bytes_budget": stats.BytesBudget,
			"percent_used": stats.PercentUsed,
		})
	})

	api.Post("/cleaner/reconcile", auth, func(c fiber.Ctx) error {
		report, err := opts.Cache.Reconcile(c.Context())
		if err != nil {
			return err
		}
		return c.JSON(report)
	})

	api.Get("/cleaner/stats", func(c fiber.Ctx) error {
		return c.JSON(opts.Cache.Stats())
	})
}

// requireKey 校验 ?key=，未配置 Key 时整体关闭管理接口。
func requireKey(expected string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if expected == "" {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin_disabled"})
		}
		given := c.Query("key")
		if subtle.ConstantTimeCompare([]byte(given), []byte(expected)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_key"})
		}
		return c.Next()
	}
}

func handleDump(c fiber.Ctx, opts AdminOptions) error {
	f, err := os.CreateTemp(opts.TempDir, "dump-*.piss")
	if err != nil {
		return err
	}
	// 打开的句柄在删除后仍可读，响应结束时由 SendStream 关闭。
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	n, err := opts.Catalog.Dump(c.Context(), f)
	if err != nil {
		cleanup()
		if errors.Is(err, catalog.ErrBusy) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "busy"})
		}
		return err
	}
	info, err := f.Stat()
	if err != nil {
		cleanup()
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return err
	}
	os.Remove(f.Name())

	opts.Logger.WithFields(logrus.Fields{
		"action":     "catalog_dump",
		"records":    n,
		"size":       info.Size(),
		"request_id": server.RequestID(c),
	}).Info("dump served")

	c.Attachment(catalog.DumpFileName)
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set("X-Pisstaube-Records", strconv.Itoa(n))
	return c.SendStream(f, int(info.Size()))
}

func handleRestore(c fiber.Ctx, opts AdminOptions) error {
	drop := false
	if raw := c.Query("drop"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_drop"})
		}
		drop = parsed
	}

	var body io.Reader
	if header, err := c.FormFile(catalog.DumpFileName); err == nil {
		file, err := header.Open()
		if err != nil {
			return err
		}
		defer file.Close()
		body = file
	} else {
		body = bytes.NewReader(c.Body())
	}

	var (
		n   int
		err error
	)
	if drop {
		n, err = opts.Catalog.Replace(c.Context(), body)
	} else {
		n, err = opts.Catalog.Restore(c.Context(), body, false)
	}

	fields := logrus.Fields{
		"action":     "catalog_restore",
		"records":    n,
		"drop":       drop,
		"request_id": server.RequestID(c),
	}
	switch {
	case err == nil:
		opts.Logger.WithFields(fields).Info("restore applied")
		return c.JSON(fiber.Map{"imported": n})
	case errors.Is(err, catalog.ErrBusy):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "busy"})
	case errors.Is(err, catalog.ErrMalformedDump):
		opts.Logger.WithFields(fields).WithError(err).Warn("restore aborted")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_dump", "imported": n})
	default:
		opts.Logger.WithFields(fields).WithError(err).Error("restore failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "restore_failed", "imported": n})
	}
}
