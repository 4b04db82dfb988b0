package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/carewatch/carewatch/internal/platform/metrics"
)

// Metrics returns middleware that records request counts and latencies.
// The route template (e.g. /api/v1/alerts/:id) is used as the path label
// so that IDs do not blow up label cardinality.
func Metrics(m *metrics.Manager) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if httpErr, ok := err.(*echo.HTTPError); ok {
					status = httpErr.Code
				}
			}

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}

			m.HTTPRequest(c.Request().Method, path, strconv.Itoa(status), time.Since(start).Seconds())

			return err
		}
	}
}
