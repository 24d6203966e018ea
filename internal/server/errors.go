package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
)

// setupErrorHandling renders every error as an ErrorResponse. Errors that are
// not echo.HTTPErrors are logged with a stack trace.
func setupErrorHandling(e *echo.Echo) {
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		resp := ErrorResponse{Code: "internal_error", Message: http.StatusText(code)}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			resp.Code = http.StatusText(code)
			resp.Message = fmt.Sprint(he.Message)
		} else {
			loggerFrom(c.Request().Context()).Error("Internal Server Error (Unhandled)",
				"error", err.Error(),
				"path", c.Request().URL.Path,
				"stack_trace", string(debug.Stack()),
			)
		}

		if err := c.JSON(code, resp); err != nil {
			loggerFrom(c.Request().Context()).Error("Failed to write error response", "error", err)
		}
	}
}
