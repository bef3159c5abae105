package web

import (
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/analytics/internal/state"
)

const maxRecordingsLimit = 500

// handleRoot is the fixed liveness response
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "edge analytics pipeline running"})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "web-server"})
		return
	}
	s.health.HandleHealth(c.Writer, c.Request)
}

func (s *Server) handleLiveness(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "alive", "timestamp": time.Now()})
		return
	}
	s.health.HandleLiveness(c.Writer, c.Request)
}

func (s *Server) handleReadiness(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "ready": true, "timestamp": time.Now()})
		return
	}
	s.health.HandleReadiness(c.Writer, c.Request)
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.metrics == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Metrics not available"})
		return
	}
	s.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// handleStatus reports uptime, alert states, subscribers and workers
func (s *Server) handleStatus(c *gin.Context) {
	uptime := time.Since(s.startTime)

	health := "healthy"
	if s.GetStatus().GetStatus() != service.StatusRunning {
		health = "unhealthy"
	}

	alerts := map[string]string{}
	if s.alerts != nil {
		for id, st := range s.alerts.Snapshot() {
			alerts[id] = string(st)
		}
	}

	subscribers := map[string]int{}
	if s.registry != nil {
		subscribers = s.registry.Counts()
	}

	workers := []service.Snapshot{}
	if s.workers != nil {
		workers = s.workers.Statuses()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         health,
		"uptime":         uptime.String(),
		"uptime_seconds": int64(uptime.Seconds()),
		"version":        s.version,
		"timestamp":      time.Now().Format(time.RFC3339),
		"alert_states":   alerts,
		"subscribers":    subscribers,
		"workers":        workers,
	})
}

func (s *Server) handleStorageStats(c *gin.Context) {
	if s.storage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage not available"})
		return
	}
	stats, err := s.storage.GetStorageStats(c.Request.Context())
	if err != nil {
		s.LogError("Failed to read storage stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read storage stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// handleTelemetry returns the latest telemetry sample
func (s *Server) handleTelemetry(c *gin.Context) {
	if s.telemetry == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Telemetry not available"})
		return
	}
	snap := s.telemetry.GetLastSnapshot()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No telemetry collected yet"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// handleListRecordings lists cataloged recordings, newest first
func (s *Server) handleListRecordings(c *gin.Context) {
	if s.recordings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recording catalog not available"})
		return
	}

	opts := state.ListRecordingsOptions{CameraID: c.Query("camera_id")}

	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		if limit > maxRecordingsLimit {
			limit = maxRecordingsLimit
		}
		opts.Limit = limit
	}
	if v := c.Query("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
			return
		}
		opts.Offset = offset
	}
	for param, dst := range map[string]*time.Time{"start_time": &opts.StartTime, "end_time": &opts.EndTime} {
		if v := c.Query(param); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + ", expected RFC3339"})
				return
			}
			*dst = t
		}
	}

	recs, err := s.recordings.ListRecordings(c.Request.Context(), opts)
	if err != nil {
		s.LogError("Failed to list recordings", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list recordings"})
		return
	}

	response := make([]gin.H, 0, len(recs))
	for _, rec := range recs {
		response = append(response, recordingToJSON(rec))
	}
	c.JSON(http.StatusOK, gin.H{
		"recordings": response,
		"count":      len(response),
	})
}

func (s *Server) handleGetRecording(c *gin.Context) {
	rec, ok := s.lookupRecording(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, recordingToJSON(*rec))
}

func (s *Server) handleRecordingThumbnail(c *gin.Context) {
	rec, ok := s.lookupRecording(c)
	if !ok {
		return
	}
	if rec.ThumbnailPath == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recording has no thumbnail"})
		return
	}
	if _, err := os.Stat(rec.ThumbnailPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Thumbnail file not found"})
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(rec.ThumbnailPath)
}

func (s *Server) lookupRecording(c *gin.Context) (*state.RecordingState, bool) {
	if s.recordings == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recording catalog not available"})
		return nil, false
	}
	id := c.Param("id")
	rec, err := s.recordings.GetRecording(c.Request.Context(), id)
	if err != nil {
		s.LogError("Failed to get recording", err, "recording_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get recording"})
		return nil, false
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Recording not found"})
		return nil, false
	}
	return rec, true
}

func recordingToJSON(rec state.RecordingState) gin.H {
	out := gin.H{
		"id":                 rec.ID,
		"camera_id":          rec.CameraID,
		"path":               rec.Path,
		"started_at":         rec.StartedAt.Format(time.RFC3339),
		"ended_at":           rec.EndedAt.Format(time.RFC3339),
		"duration_seconds":   rec.EndedAt.Sub(rec.StartedAt).Seconds(),
		"frames":             rec.Frames,
		"lookback_frames":    rec.LookbackFrames,
		"frame_rate":         rec.FrameRate,
		"size_bytes":         rec.SizeBytes,
		"peak_probabilities": rec.PeakProbabilities,
		"has_thumbnail":      rec.ThumbnailPath != "",
	}
	if rec.SidecarPath != "" {
		out["sidecar_path"] = rec.SidecarPath
	}
	if rec.ArchivedAt != nil {
		out["archive_key"] = rec.ArchiveKey
		out["archived_at"] = rec.ArchivedAt.Format(time.RFC3339)
	}
	return out
}
