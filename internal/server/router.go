package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/loykin/respawn/internal/logger"
	mng "github.com/loykin/respawn/internal/manager"
)

// DefaultLogLines is the number of lines /logs returns when lines is absent.
const DefaultLogLines = 50

// Router provides the control API handlers.
// Endpoints:
//
//	POST {basePath}/start     query: name=...
//	POST {basePath}/stop      query: name=... | wildcard=...  [&wait=2s]
//	POST {basePath}/restart   query: name=...
//	GET  {basePath}/status    query: name=... | wildcard=...  (none lists all)
//	GET  {basePath}/logs      query: name=...&lines=50&stream=stdout|stderr
//	GET  {basePath}/metrics   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	mgr      *mng.Manager
	basePath string
	metrics  http.Handler
}

// NewRouter constructs a Router. metrics may be nil to disable /metrics.
func NewRouter(mgr *mng.Manager, basePath string, metrics http.Handler) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath), metrics: metrics}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.GET("/status", r.handleStatus)
	group.GET("/logs", r.handleLogs)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// LogsResponse is the body of GET /logs.
type LogsResponse struct {
	Name   string   `json:"name"`
	Stream string   `json:"stream"`
	Path   string   `json:"path"`
	Lines  []string `json:"lines"`
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	if err := r.mgr.Start(name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	wild := c.Query("wildcard")
	if (name == "") == (wild == "") {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "exactly one of name, wildcard query param required"})
		return
	}
	wait, err := parseWait(c.Query("wait"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	if wild != "" {
		err = r.mgr.StopMatch(wild, wait)
	} else {
		err = r.mgr.Stop(name, wait)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	if err := r.mgr.Restart(name); err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	wild := c.Query("wildcard")
	switch {
	case name != "" && wild != "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "only one of name, wildcard must be provided"})
	case name != "":
		st, err := r.mgr.Status(name)
		if err != nil {
			writeError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, st)
	case wild != "":
		writeJSON(c, http.StatusOK, r.mgr.StatusMatch(wild))
	default:
		writeJSON(c, http.StatusOK, r.mgr.StatusAll())
	}
}

func (r *Router) handleLogs(c *gin.Context) {
	name, ok := nameParam(c)
	if !ok {
		return
	}
	stream := logger.Stream(c.DefaultQuery("stream", string(logger.Stdout)))
	if stream != logger.Stdout && stream != logger.Stderr {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "stream must be stdout or stderr"})
		return
	}
	lines := DefaultLogLines
	if s := c.Query("lines"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "lines must be a non-negative integer"})
			return
		}
		lines = n
	}
	spec, err := r.mgr.Spec(name)
	if err != nil {
		writeError(c, err)
		return
	}
	path := spec.Log.PathFor(stream)
	if path == "" {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no log file configured for " + string(stream)})
		return
	}
	out, err := logger.Tail(path, lines)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, LogsResponse{Name: name, Stream: string(stream), Path: path, Lines: out})
}
