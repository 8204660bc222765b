package httpserver

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tinytelemetry/tracevault/internal/artifact"
	"github.com/tinytelemetry/tracevault/internal/faults"
	"github.com/tinytelemetry/tracevault/internal/ingest"
	"github.com/tinytelemetry/tracevault/internal/logline"
	"github.com/tinytelemetry/tracevault/internal/model"
	"github.com/tinytelemetry/tracevault/internal/report"
)

// windowLayout is the path-segment form of report window bounds.
const windowLayout = "2006-01-02T15:04:05"

// statusFor maps a failure kind to its HTTP status.
func statusFor(err error) int {
	switch faults.KindOf(err) {
	case faults.KindValidation:
		return http.StatusBadRequest
	case faults.KindIntegrity:
		return http.StatusUnprocessableEntity
	case faults.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWith(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  string(faults.KindOf(err)),
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes)

	logName, logData, err := readPart(c, "logFile", s.deps.MaxUploadBytes)
	if err != nil {
		abortWith(c, faults.Validation("upload", err, "logFile"))
		return
	}
	hashName, hashData, err := readPart(c, "hashFile", s.deps.MaxUploadBytes)
	if err != nil {
		abortWith(c, faults.Validation("upload", err, "hashFile"))
		return
	}

	b, err := s.deps.Ingest.Ingest(c.Request.Context(), ingest.Upload{
		LogName:  logName,
		Log:      logData,
		HashName: hashName,
		Hash:     hashData,
	})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "accepted",
		"bundle_id": b.ID,
		"device_id": b.DeviceID,
		"category":  b.Category,
		"digest":    b.Digest,
		"messages":  len(b.Messages),
	})
}

func readPart(c *gin.Context, field string, limit int64) (string, []byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return "", nil, fmt.Errorf("missing %s: %w", field, err)
	}
	return readFileHeader(fh, limit)
}

func readFileHeader(fh *multipart.FileHeader, limit int64) (string, []byte, error) {
	f, err := fh.Open()
	if err != nil {
		return "", nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return "", nil, err
	}
	if int64(len(data)) > limit {
		return "", nil, errors.New("file exceeds upload limit")
	}
	return fh.Filename, data, nil
}

type bundleView struct {
	ID           string   `json:"id"`
	Digest       string   `json:"digest"`
	CreatedAt    string   `json:"created_at"`
	Earliest     string   `json:"earliest"`
	MessageCount int      `json:"message_count"`
	Lines        []string `json:"lines,omitempty"`
}

func (s *Server) handleListBundles(c *gin.Context) {
	pair := model.Pair{DeviceID: c.Param("deviceId"), Category: c.Param("category")}
	if err := artifact.ValidatePair(pair); err != nil {
		abortWith(c, err)
		return
	}
	withLines, _ := strconv.ParseBool(c.DefaultQuery("lines", "false"))

	bundles, err := s.deps.Store.BundlesFor(c.Request.Context(), pair)
	if err != nil {
		abortWith(c, faults.Transient("list", err))
		return
	}
	views := make([]bundleView, 0, len(bundles))
	for _, b := range bundles {
		v := bundleView{
			ID:           b.ID,
			Digest:       b.Digest,
			CreatedAt:    b.CreatedAt.UTC().Format(time.RFC3339),
			Earliest:     b.Earliest().Format(model.TimeLayout),
			MessageCount: len(b.Messages),
		}
		if withLines {
			v.Lines = logline.FormatAll(b.Messages)
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": pair.DeviceID,
		"category":  pair.Category,
		"bundles":   views,
	})
}

func (s *Server) handleAnalyze(c *gin.Context) {
	deviceID := c.Param("deviceId")
	start, err := time.Parse(windowLayout, c.Param("start"))
	if err != nil {
		abortWith(c, faults.Validation("analyze", faults.ErrMalformedTimestamp, "start"))
		return
	}
	end, err := time.Parse(windowLayout, c.Param("end"))
	if err != nil {
		abortWith(c, faults.Validation("analyze", faults.ErrMalformedTimestamp, "end"))
		return
	}

	r, location, err := s.deps.Reports.Generate(c.Request.Context(), deviceID, start, end)
	if err != nil {
		abortWith(c, err)
		return
	}
	status := http.StatusOK
	if !r.Hash.Verified {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"location": location,
		"report":   report.NewDocument(r),
	})
}

func (s *Server) handleVerify(c *gin.Context) {
	pair := model.Pair{DeviceID: c.Param("deviceId"), Category: c.Param("category")}
	if err := artifact.ValidatePair(pair); err != nil {
		abortWith(c, err)
		return
	}
	ok, err := s.deps.Live.Matches(pair, c.Param("hash"))
	if err != nil {
		abortWith(c, faults.Transient("verify", err))
		return
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{
		"device_id": pair.DeviceID,
		"category":  pair.Category,
		"valid":     ok,
	})
}

func (s *Server) handleTimestamp(c *gin.Context) {
	c.String(http.StatusOK, s.now().In(s.deps.ClockZone).Format(model.TimeLayout))
}

func (s *Server) handlePurge(c *gin.Context) {
	n, err := s.deps.Store.PurgeBundles(c.Request.Context())
	if err != nil {
		abortWith(c, faults.Transient("purge", err))
		return
	}
	s.logger.Warn().Int64("deleted", n).Str("remote", c.ClientIP()).Msg("all bundles purged")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	if err := s.deps.Store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	count, err := s.deps.Store.BundleCount(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read health metrics"})
		return
	}

	body := gin.H{
		"status":       "ok",
		"uptime":       time.Since(s.startTime).String(),
		"bundle_count": count,
	}
	if s.deps.Audit != nil {
		body["last_audit"] = s.deps.Audit.Last()
	}
	c.JSON(http.StatusOK, body)
}
