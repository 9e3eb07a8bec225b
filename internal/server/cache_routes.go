package server

import (
	"context"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/sunrenjie/youtube-dl/internal/cache"
	"github.com/sunrenjie/youtube-dl/internal/logging"
	"github.com/sunrenjie/youtube-dl/internal/version"
)

// registerCacheRoutes 暴露 /-/ 下的缓存读取、删除与列举接口。
func registerCacheRoutes(app *fiber.App, opts AppOptions) {
	h := &cacheHandler{opts: opts}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "version": version.Full()})
	})
	app.Get("/-/cache", h.get)
	app.Delete("/-/cache", h.drop)
	app.Get("/-/entries", h.entries)
}

type cacheHandler struct {
	opts AppOptions
}

func (h *cacheHandler) get(c fiber.Ctx) error {
	url, problem := cacheURL(c)
	if problem != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": problem})
	}

	var (
		data []byte
		hit  bool
	)
	err := h.withManager(c, func(ctx context.Context, m *cache.Manager) error {
		data, hit = m.Get(ctx, url, h.opts.VerifyChecksum)
		return nil
	})
	if err != nil {
		return h.unavailable(c, url, err)
	}

	c.Set("X-Batchdl-Cache-Hit", strconv.FormatBool(hit))
	if !hit {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "cache_miss"})
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(len(data)))
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *cacheHandler) drop(c fiber.Ctx) error {
	url, problem := cacheURL(c)
	if problem != "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": problem})
	}

	err := h.withManager(c, func(ctx context.Context, m *cache.Manager) error {
		m.Drop(ctx, url)
		return nil
	})
	if err != nil {
		return h.unavailable(c, url, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *cacheHandler) entries(c fiber.Ctx) error {
	var list []cache.Entry
	err := h.withManager(c, func(ctx context.Context, m *cache.Manager) error {
		var err error
		list, err = m.Entries(ctx)
		return err
	})
	if err != nil {
		return h.unavailable(c, "", err)
	}
	if list == nil {
		list = []cache.Entry{}
	}
	return c.JSON(fiber.Map{"count": len(list), "entries": list})
}

func (h *cacheHandler) unavailable(c fiber.Ctx, url string, err error) error {
	fields := logging.CacheFields(url, "")
	fields["request_id"] = RequestID(c)
	h.opts.Logger.WithError(err).WithFields(fields).Warn("cache_unavailable")
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "cache_unavailable"})
}

// cacheURL 读取 ?url= 参数，第二个返回值非空时为错误码。
func cacheURL(c fiber.Ctx) (string, string) {
	url := strings.TrimSpace(c.Query("url"))
	switch {
	case url == "":
		return "", "url_required"
	case !cache.IsURLValidAndSafe(url):
		return url, "invalid_url"
	}
	return url, ""
}

// withManager 在 LockTimeout 内取得 Token 后执行 fn。
func (h *cacheHandler) withManager(c fiber.Ctx, fn func(context.Context, *cache.Manager) error) error {
	parent := c.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, h.opts.LockTimeout)
	defer cancel()
	return h.opts.Token.With(ctx, h.opts.PollInterval, func(m *cache.Manager) error {
		return fn(ctx, m)
	})
}
