package server

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

func (s *Server) handleInitiateChunked(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req wire.InitiateChunkedUploadRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	fileID := req.FileID
	if fileID == "" {
		fileID = uuid.New().String()
	}

	vv, err := decodeVectorDTO(req.VersionVector)
	if err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	sess, err := s.sessions.Initiate(c.Request.Context(), user.UserID, fileID, req.FilePath,
		req.ClientID, req.TotalChunks, req.TotalFileSize, vv)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToDTO(sess))
}

func (s *Server) handleUploadChunk(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	var req wire.ChunkUploadRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.Content)
	if err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	sess, err := s.sessions.ReceiveChunk(c.Request.Context(), user.UserID, req.SessionID, req.ChunkIndex, data, req.ChunkChecksum)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToDTO(sess))
}

func (s *Server) handleUploadStatus(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	sess, err := s.sessions.GetStatus(c.Request.Context(), user.UserID, c.Param("sessionId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, sessionToDTO(sess))
}

func (s *Server) handleCancelUpload(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	if err := s.sessions.Cancel(c.Request.Context(), user.UserID, c.Param("sessionId")); err != nil {
		respondErr(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (s *Server) handleListSessions(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	sessions, err := s.store.ListActiveSessionsForUser(c.Request.Context(), user.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	dtos := make([]wire.ChunkUploadSessionDTO, 0, len(sessions))
	for _, sess := range sessions {
		dtos = append(dtos, sessionToDTO(sess))
	}

	c.JSON(http.StatusOK, dtos)
}
