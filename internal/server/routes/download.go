package routes

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Chimu-moe/pisstaube/internal/cache"
	"github.com/Chimu-moe/pisstaube/internal/logging"
	"github.com/Chimu-moe/pisstaube/internal/mirror"
	"github.com/Chimu-moe/pisstaube/internal/server"
)

const archiveContentType = "application/x-osu-beatmap-archive"

// ArchiveSource 由 mirror.Fetcher 实现：返回归档及是否直接命中缓存。
type ArchiveSource interface {
	Open(ctx context.Context, setID int) (*cache.ReadResult, bool, error)
}

// RegisterDownloadRoutes 暴露 GET /d/:id 下载接口。
func RegisterDownloadRoutes(app *fiber.App, source ArchiveSource, logger *logrus.Logger) {
	if app == nil || source == nil {
		return
	}

	app.Get("/d/:id", func(c fiber.Ctx) error {
		started := time.Now()
		requestID := server.RequestID(c)

		setID, err := strconv.Atoi(c.Params("id"))
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_set_id"})
		}

		result, hit, err := source.Open(c.Context(), setID)
		fields := logging.RequestFields(requestID, setID, hit)
		fields["action"] = "download"
		if err != nil {
			status, code := downloadErrorStatus(err)
			fields["status"] = status
			logger.WithFields(fields).WithError(err).Warn("download failed")
			return c.Status(status).JSON(fiber.Map{"error": code})
		}

		c.Attachment(fmt.Sprintf("%d.osz", setID))
		c.Set(fiber.HeaderContentType, archiveContentType)
		c.Set("X-Pisstaube-Cache-Hit", strconv.FormatBool(hit))

		fields["status"] = fiber.StatusOK
		fields["size"] = result.Entry.SizeBytes
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		logger.WithFields(fields).Info("download served")

		// SendStream 在写完响应后关闭 Reader。
		return c.Status(fiber.StatusOK).SendStream(result.Reader, int(result.Entry.SizeBytes))
	})
}

func downloadErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, mirror.ErrUpstreamDisabled), errors.Is(err, cache.ErrNotFound):
		return fiber.StatusNotFound, "not_cached"
	case errors.Is(err, mirror.ErrUpstreamStatus):
		return fiber.StatusNotFound, "upstream_not_found"
	case errors.Is(err, cache.ErrBudgetExceeded):
		return fiber.StatusInsufficientStorage, "cache_full"
	default:
		return fiber.StatusBadGateway, "upstream_failed"
	}
}
