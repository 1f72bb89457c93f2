package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/matchmaker/internal/protocol"
	"github.com/energizer-project/matchmaker/internal/util"
)

// handleGetHandlers lists the packet handlers per type, in dispatch order.
func (s *Server) handleGetHandlers(c *gin.Context) {
	if s.deps.Router == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "router not available"})
		return
	}

	names := s.deps.Router.HandlerNames()
	types := make([]protocol.PacketType, 0, len(names))
	for t := range names {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make([]gin.H, 0, len(types))
	for _, t := range types {
		out = append(out, gin.H{"code": int(t), "type": t.String(), "handlers": names[t]})
	}

	c.JSON(http.StatusOK, gin.H{
		"state":    s.deps.Router.State().String(),
		"handlers": out,
	})
}

// handleGetSystem reports host and process resource usage.
func (s *Server) handleGetSystem(c *gin.Context) {
	resp := gin.H{}

	if usage, err := util.GetCPUUsage(); err == nil {
		resp["cpu_percent"] = usage
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		resp["memory"] = mem
	}
	if proc, err := util.GetProcessStats(); err == nil {
		resp["process"] = proc
	}
	if s.deps.LogDir != "" {
		if disk, err := util.GetDiskUsage(s.deps.LogDir); err == nil {
			resp["disk"] = disk
		}
	}
	if s.deps.Sweeper != nil {
		last, removed := s.deps.Sweeper.LastCleanup()
		expiry := gin.H{"last_removed": removed}
		if !last.IsZero() {
			expiry["last_run"] = last
		}
		resp["expiry"] = expiry
	}

	c.JSON(http.StatusOK, resp)
}

// handleGetLogEntries returns recent log entries.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "100"))
	if err != nil || count < 1 {
		count = 100
	}
	if count > 1000 {
		count = 1000
	}

	if s.deps.LogDir == "" {
		c.JSON(http.StatusOK, gin.H{"entries": []logEntry{}, "count": 0})
		return
	}

	entries, err := readRecentLogEntries(s.deps.LogDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type logEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// newestLogFile returns the lexically last .log file in dir, which is the
// most recent given the date-stamped names.
func newestLogFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if e := entries[i]; e.Type().IsRegular() && filepath.Ext(e.Name()) == ".log" {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

// readRecentLogEntries parses the last count non-empty lines of the newest
// log file in logDir. Lines that are not JSON come back as bare messages.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	path, err := newestLogFile(logDir)
	if err != nil || path == "" {
		return []logEntry{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	tail := make([]string, 0, count)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if len(tail) == count {
			tail = append(tail[:0], tail[1:]...)
		}
		tail = append(tail, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	out := make([]logEntry, 0, len(tail))
	for _, line := range tail {
		out = append(out, parseLogLine(line))
	}
	return out, nil
}

func parseLogLine(line string) logEntry {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logEntry{Message: line}
	}

	entry := logEntry{}
	for k, v := range raw {
		switch k {
		case "level":
			entry.Level = fmt.Sprint(v)
		case "time":
			entry.Timestamp = fmt.Sprint(v)
		case "message":
			entry.Message = fmt.Sprint(v)
		case "component":
			entry.Component = fmt.Sprint(v)
		case "caller", "app":
		default:
			if entry.Fields == nil {
				entry.Fields = make(map[string]any)
			}
			entry.Fields[k] = v
		}
	}
	return entry
}
