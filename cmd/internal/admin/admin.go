// Package admin serves the daemon's health, status and metrics
// endpoints on a separate listener, kept off the proxy port.
package admin

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"lds.li/proxyauth/cmd/internal/config"
	"lds.li/proxyauth/cmd/internal/metrics"
)

// Version is a string type for dependency injection of the build
// version.
type Version string

// New builds the admin Echo instance. The caller starts and stops its
// embedded server.
func New(cfg *config.Config, m *metrics.Metrics, v Version) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "ok",
		})
	})

	e.GET("/status", func(c echo.Context) error {
		upstream := cfg.Upstream.URL
		if upstream == "" {
			upstream = "direct"
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":   "ok",
			"version":  string(v),
			"listen":   cfg.Listen.Addr,
			"upstream": upstream,
		})
	})

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	return e
}
