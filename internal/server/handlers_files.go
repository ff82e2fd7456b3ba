package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/tonimelisma/filesync-core/internal/decision"
	"github.com/tonimelisma/filesync-core/internal/rangedl"
	"github.com/tonimelisma/filesync-core/internal/repository"
	"github.com/tonimelisma/filesync-core/internal/vector"
	"github.com/tonimelisma/filesync-core/internal/wire"
	"github.com/tonimelisma/filesync-core/pkg/chunkhash"
)

func (s *Server) currentUser(c *gin.Context) (*repository.User, error) {
	return s.store.FindUserByUsername(c.Request.Context(), principal(c))
}

func (s *Server) handleListFiles(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	files, err := s.store.ListFiles(c.Request.Context(), user.UserID)
	if err != nil {
		respondErr(c, err)
		return
	}

	dtos := make([]wire.FileDTO, 0, len(files))

	for _, f := range files {
		dto, err := fileToDTO(f)
		if err != nil {
			respondErr(c, err)
			return
		}

		dtos = append(dtos, dto)
	}

	c.JSON(http.StatusOK, dtos)
}

// parseVectorField decodes an optional JSON-encoded version_vector form
// field into a vector.Vector, treating an absent field as the zero vector
// (a brand-new client submitting its first version).
func parseVectorField(raw string) (vector.Vector, error) {
	if raw == "" {
		return vector.Vector{}, nil
	}

	var dto wire.VersionVectorDTO
	if err := json.Unmarshal([]byte(raw), &dto); err != nil {
		return vector.Vector{}, fmt.Errorf("invalid version_vector: %w", err)
	}

	return decodeVectorDTO(dto)
}

func (s *Server) submitMultipart(c *gin.Context, filePath string) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondErr(c, &ValidationError{Err: fmt.Errorf("missing file part: %w", err)})
		return
	}

	clientID := c.PostForm("client_id")
	if clientID == "" {
		respondErr(c, &ValidationError{Err: errors.New("client_id is required")})
		return
	}

	cv, err := parseVectorField(c.PostForm("version_vector"))
	if err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	f, err := fileHeader.Open()
	if err != nil {
		respondErr(c, fmt.Errorf("open uploaded file: %w", err))
		return
	}
	defer f.Close()

	checksum, err := chunkhash.SumReader(f)
	if err != nil {
		respondErr(c, fmt.Errorf("checksum uploaded file: %w", err))
		return
	}

	data := make([]byte, fileHeader.Size)

	if _, err := f.Seek(0, 0); err != nil {
		respondErr(c, fmt.Errorf("seek uploaded file: %w", err))
		return
	}

	if _, err := io.ReadFull(f, data); err != nil {
		respondErr(c, fmt.Errorf("read uploaded file: %w", err))
		return
	}

	result, err := s.engine.Submit(c.Request.Context(), decision.SubmitRequest{
		Username: principal(c), FilePath: filePath, ClientID: clientID, ClientVector: cv,
		Checksum: checksum, FileSize: fileHeader.Size, Data: data,
	})
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.SyncResultDTO{
		Result: string(result.Outcome), ConflictVersionID: result.ConflictVersionID, Message: result.Message,
	})
}

func (s *Server) handleUpload(c *gin.Context) {
	filePath := c.PostForm("path")
	if filePath == "" {
		respondErr(c, &ValidationError{Err: errors.New("path is required")})
		return
	}

	s.submitMultipart(c, filePath)
}

func (s *Server) handleUpdate(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	file, err := s.store.FindFileByID(c.Request.Context(), user.UserID, c.Param("fileId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	s.submitMultipart(c, file.FilePath)
}

func (s *Server) handleDelete(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	file, err := s.store.FindFileByID(c.Request.Context(), user.UserID, c.Param("fileId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	clientID := c.Query("client_id")

	cv, err := parseVectorField(c.Query("version_vector"))
	if err != nil {
		respondErr(c, &ValidationError{Err: err})
		return
	}

	result, err := s.engine.SubmitDelete(c.Request.Context(), principal(c), file.FilePath, clientID, cv)
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.SyncResultDTO{Result: string(result.Outcome), Message: result.Message})
}

func (s *Server) handleDownload(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	file, err := s.store.FindFileByID(c.Request.Context(), user.UserID, c.Param("fileId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	if file.SyncStatus == repository.SyncDeleted {
		respondErr(c, &NotFoundError{Err: fmt.Errorf("file %s is deleted", file.FileID)})
		return
	}

	version, err := s.store.CurrentVersion(c.Request.Context(), file.FileID)
	if err != nil {
		respondErr(c, err)
		return
	}

	f, err := os.Open(version.StoragePath)
	if err != nil {
		respondErr(c, fmt.Errorf("open stored file: %w", err))
		return
	}
	defer f.Close()

	rangedl.Serve(c, f, version.FileSize, "application/octet-stream")
}

func (s *Server) handleMetadata(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	file, err := s.store.FindFileByID(c.Request.Context(), user.UserID, c.Param("fileId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	c.JSON(http.StatusOK, wire.FileMetadataDTO{
		FileID: file.FileID, FileName: file.FileName, FileSize: file.FileSize,
		Checksum: file.Checksum, SupportsRangeRequests: true,
	})
}

func (s *Server) handleVersions(c *gin.Context) {
	user, err := s.currentUser(c)
	if err != nil {
		respondErr(c, err)
		return
	}

	file, err := s.store.FindFileByID(c.Request.Context(), user.UserID, c.Param("fileId"))
	if err != nil {
		respondErr(c, err)
		return
	}

	versions, err := s.store.ListVersions(c.Request.Context(), file.FileID)
	if err != nil {
		respondErr(c, err)
		return
	}

	dtos := make([]wire.FileVersionDTO, 0, len(versions))

	for _, v := range versions {
		dto, err := versionToDTO(v)
		if err != nil {
			respondErr(c, err)
			return
		}

		dtos = append(dtos, dto)
	}

	c.JSON(http.StatusOK, dtos)
}
