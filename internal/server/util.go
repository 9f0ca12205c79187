package server

import (
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	mng "github.com/loykin/respawn/internal/manager"
	"github.com/loykin/respawn/internal/process"
)

type errorResp struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

type okResp struct {
	OK bool `json:"ok"`
}

// sanitizeBase normalizes a mount path to "" or "/x" without a trailing slash.
func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	return "/" + strings.Trim(bp, "/")
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}

// nameParam reads and validates the name query parameter, writing a 400 on failure.
func nameParam(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return "", false
	}
	if !process.ValidName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-] and no '..'"})
		return "", false
	}
	return name, true
}

// errorStatus maps supervisor errors to HTTP status codes.
func errorStatus(err error) (int, string) {
	if le, ok := process.AsLaunchError(err); ok {
		return http.StatusUnprocessableEntity, string(le.Reason)
	}
	switch {
	case errors.Is(err, mng.ErrUnknownProcess), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, ""
	case errors.Is(err, mng.ErrShuttingDown):
		return http.StatusServiceUnavailable, ""
	}
	return http.StatusInternalServerError, ""
}

func writeError(c *gin.Context, err error) {
	code, reason := errorStatus(err)
	writeJSON(c, code, errorResp{Error: err.Error(), Reason: reason})
}

func parseWait(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, errors.New("invalid wait duration: " + s)
	}
	return d, nil
}
