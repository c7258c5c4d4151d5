package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultReportEntry = "index.html"

// Known report file types. Anything else is served as a generic binary.
var contentTypes = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".txt":  "text/plain; charset=utf-8",
	".log":  "text/plain; charset=utf-8",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".webm": "video/webm",
}

// handleReportFile streams a file out of an execution's report directory.
// Resolved paths escaping the report directory are rejected.
func (s *Server) handleReportFile(c *gin.Context) {
	id, err := executionID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	execution, err := s.orchestrator.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if execution.ReportPath == "" {
		c.JSON(http.StatusNotFound, Response{Success: false, Error: "execution has no report"})
		return
	}

	rel := strings.TrimPrefix(c.Param("filepath"), "/")
	if rel == "" {
		rel = defaultReportEntry
	}
	target, ok := resolveReportPath(execution.ReportPath, rel)
	if !ok {
		c.JSON(http.StatusForbidden, Response{Success: false, Error: "report path escapes report directory"})
		return
	}

	data, err := os.ReadFile(target)
	if err != nil {
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, Response{Success: false, Error: "report file not found"})
			return
		}
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, contentTypeFor(target), data)
}

// resolveReportPath joins rel onto the report base directory and rejects any
// result outside it. The check runs on the symlink-resolved path, so a link
// inside the report directory cannot point the read elsewhere.
func resolveReportPath(base, rel string) (string, bool) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", false
	}
	if real, err := filepath.EvalSymlinks(absBase); err == nil {
		absBase = real
	}
	target := filepath.Clean(filepath.Join(absBase, rel))
	if !withinDir(absBase, target) {
		return "", false
	}
	resolved, err := filepath.EvalSymlinks(target)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing to read there; the lexical check already passed.
			return target, true
		}
		return "", false
	}
	if !withinDir(absBase, resolved) {
		return "", false
	}
	return resolved, true
}

func withinDir(base, path string) bool {
	return path == base || strings.HasPrefix(path, base+string(filepath.Separator))
}

func contentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}
