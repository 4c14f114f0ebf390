package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBodyLimit 允许上传完整的目录 dump。
const DefaultBodyLimit = 2 << 30

const shutdownTimeout = 10 * time.Second

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger    *logrus.Logger
	BodyLimit int
}

const contextKeyRequestID = "_pisstaube_request_id"

// NewApp builds a Fiber application with request id middleware and
// structured JSON error handling. Routes are attached by the routes package.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	bodyLimit := opts.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     bodyLimit,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并回写到响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// errorHandler 将未处理的错误统一渲染为 {"error": "..."}。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal_error"
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			message = fe.Message
		}
		if code >= fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "http_error",
				"path":       c.Path(),
				"request_id": RequestID(c),
			}).Error("request failed")
		}
		return c.Status(code).JSON(fiber.Map{"error": message})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// Serve 监听 port 直到 ctx 结束，然后优雅关闭。
func Serve(ctx context.Context, app *fiber.App, port int, logger *logrus.Logger) error {
	if port <= 0 {
		return fmt.Errorf("invalid listen port: %d", port)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"action": "listen",
			"port":   port,
		}).Info("Fiber 服务启动")
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.WithField("action", "shutdown").Info("Fiber 服务关闭")
		return app.ShutdownWithContext(shutdownCtx)
	}
}
