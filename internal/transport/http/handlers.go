package http

import (
	"bytes"
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sttrelay/internal/adapters/dump"
	"github.com/dkeye/sttrelay/internal/app"
	"github.com/dkeye/sttrelay/internal/audio"
	"github.com/dkeye/sttrelay/internal/core"
)

type DumpSource interface {
	Latest() (string, error)
}

type SessionDirectory interface {
	List() []app.SessionSnapshot
	Count() int
	Cancel(sid core.SessionID) bool
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

// Handlers serves the auxiliary HTTP surface. Dumps may be nil when
// dumping is disabled.
type Handlers struct {
	Dumps    DumpSource
	Sessions SessionDirectory
	// Format of the dumped audio, used for ?format=wav.
	SampleRate int
	Channels   int
}

func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "ok", Sessions: h.Sessions.Count()})
}

func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.Sessions.List()})
}

func (h *Handlers) CancelSession(c *gin.Context) {
	sid := core.SessionID(c.Param("sid"))
	if !h.Sessions.Cancel(sid) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Dump downloads the latest raw recording, or a WAV copy of it with
// ?format=wav.
func (h *Handlers) Dump(c *gin.Context) {
	if h.Dumps == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No audio file found"})
		return
	}
	path, err := h.Dumps.Latest()
	if err != nil {
		if !errors.Is(err, dump.ErrNoDump) {
			log.Error().Err(err).Str("module", "transport.http").Msg("dump lookup")
		}
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "No audio file found"})
		return
	}

	if c.Query("format") != "wav" {
		c.Header("Content-Type", "application/octet-stream")
		c.FileAttachment(path, "audio-dump.raw")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error().Err(err).Str("module", "transport.http").Str("path", path).Msg("dump read")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to read audio file"})
		return
	}
	var buf bytes.Buffer
	buf.Grow(audio.WAVHeaderSize + len(data))
	if _, err := audio.NewWAVHeader(uint32(len(data)), h.SampleRate, h.Channels).WriteTo(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to build wav header"})
		return
	}
	buf.Write(data)

	c.Header("Content-Disposition", `attachment; filename="audio-dump.wav"`)
	c.Data(http.StatusOK, "audio/wav", buf.Bytes())
}
