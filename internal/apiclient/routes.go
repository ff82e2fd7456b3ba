package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/tonimelisma/filesync-core/internal/wire"
)

// registerRequest/loginRequest/refreshRequest mirror the server's own
// unexported request DTOs (internal/server/handlers_auth.go) — defined here
// too since internal/wire has no auth request DTOs.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Register creates a new account. The server assigns the user id.
func (c *Client) Register(ctx context.Context, username, email, password string) error {
	body, err := jsonBody(registerRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/register", body, requestOpts{unauth: true, headers: jsonHeaders()})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, username, password string) (*wire.TokenResponseDTO, error) {
	body, err := jsonBody(loginRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/login", body, requestOpts{unauth: true, headers: jsonHeaders()})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tok wire.TokenResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("apiclient: decoding login response: %w", err)
	}

	return &tok, nil
}

// Refresh exchanges a refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*wire.TokenResponseDTO, error) {
	body, err := jsonBody(refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/auth/refresh", body, requestOpts{unauth: true, headers: jsonHeaders()})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tok wire.TokenResponseDTO
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("apiclient: decoding refresh response: %w", err)
	}

	return &tok, nil
}

// Logout acknowledges session end; stateless JWTs mean this is best-effort.
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/auth/logout", nil, requestOpts{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListFiles returns the caller's files.
func (c *Client) ListFiles(ctx context.Context) ([]wire.FileDTO, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/", nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var files []wire.FileDTO
	if err := json.NewDecoder(resp.Body).Decode(&files); err != nil {
		return nil, fmt.Errorf("apiclient: decoding file list: %w", err)
	}

	return files, nil
}

// Upload submits a small file in a single multipart request.
func (c *Client) Upload(ctx context.Context, filePath, clientID string, vv wire.VersionVectorDTO, fileName string, content []byte) (*wire.SyncResultDTO, error) {
	return c.submitMultipart(ctx, http.MethodPost, "/files/upload", filePath, clientID, vv, fileName, content)
}

// Update submits a revised version of an existing file.
func (c *Client) Update(ctx context.Context, fileID, clientID string, vv wire.VersionVectorDTO, fileName string, content []byte) (*wire.SyncResultDTO, error) {
	return c.submitMultipart(ctx, http.MethodPut, "/files/"+url.PathEscape(fileID), "", clientID, vv, fileName, content)
}

func (c *Client) submitMultipart(
	ctx context.Context, method, path, filePath, clientID string, vv wire.VersionVectorDTO, fileName string, content []byte,
) (*wire.SyncResultDTO, error) {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)

	if filePath != "" {
		if err := w.WriteField("path", filePath); err != nil {
			return nil, fmt.Errorf("apiclient: writing path field: %w", err)
		}
	}

	if err := w.WriteField("client_id", clientID); err != nil {
		return nil, fmt.Errorf("apiclient: writing client_id field: %w", err)
	}

	vvJSON, err := json.Marshal(vv)
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshaling version vector: %w", err)
	}

	if err := w.WriteField("version_vector", string(vvJSON)); err != nil {
		return nil, fmt.Errorf("apiclient: writing version_vector field: %w", err)
	}

	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("apiclient: creating form file: %w", err)
	}

	if _, err := fw.Write(content); err != nil {
		return nil, fmt.Errorf("apiclient: writing file content: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("apiclient: closing multipart writer: %w", err)
	}

	headers := http.Header{"Content-Type": []string{w.FormDataContentType()}}

	resp, err := c.do(ctx, method, path, bytes.NewReader(buf.Bytes()), requestOpts{headers: headers})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result wire.SyncResultDTO
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decoding sync result: %w", err)
	}

	return &result, nil
}

// Download retrieves the whole current version of a file.
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/download", nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: reading download body: %w", err)
	}

	return data, nil
}

// DownloadRange retrieves [start, end] inclusive bytes via HTTP Range
// (spec.md §4.8, served by the server's internal/rangedl).
func (c *Client) DownloadRange(ctx context.Context, fileID string, start, end int64) ([]byte, error) {
	headers := http.Header{"Range": []string{fmt.Sprintf("bytes=%d-%d", start, end)}}

	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/download", nil, requestOpts{headers: headers})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("apiclient: reading ranged download body: %w", err)
	}

	return data, nil
}

// Metadata fetches size/checksum/range-support info ahead of a ranged
// download.
func (c *Client) Metadata(ctx context.Context, fileID string) (*wire.FileMetadataDTO, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/metadata", nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var meta wire.FileMetadataDTO
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("apiclient: decoding metadata: %w", err)
	}

	return &meta, nil
}

// Versions lists version history for a file.
func (c *Client) Versions(ctx context.Context, fileID string) ([]wire.FileVersionDTO, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(fileID)+"/versions", nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var versions []wire.FileVersionDTO
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		return nil, fmt.Errorf("apiclient: decoding versions: %w", err)
	}

	return versions, nil
}

// Delete tombstones a file.
func (c *Client) Delete(ctx context.Context, fileID, clientID string, vv wire.VersionVectorDTO) (*wire.SyncResultDTO, error) {
	vvJSON, err := json.Marshal(vv)
	if err != nil {
		return nil, fmt.Errorf("apiclient: marshaling version vector: %w", err)
	}

	q := url.Values{"client_id": {clientID}, "version_vector": {string(vvJSON)}}
	path := "/files/" + url.PathEscape(fileID) + "?" + q.Encode()

	resp, err := c.do(ctx, http.MethodDelete, path, nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result wire.SyncResultDTO
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("apiclient: decoding delete result: %w", err)
	}

	return &result, nil
}

// InitiateChunkedUpload opens a new chunked upload session.
func (c *Client) InitiateChunkedUpload(ctx context.Context, req wire.InitiateChunkedUploadRequestDTO) (*wire.ChunkUploadSessionDTO, error) {
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/files/upload/initiate-chunked", body, requestOpts{headers: jsonHeaders()})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeSession(resp.Body)
}

// UploadChunk submits one chunk of an in-progress session.
func (c *Client) UploadChunk(ctx context.Context, req wire.ChunkUploadRequestDTO) (*wire.ChunkUploadSessionDTO, error) {
	body, err := jsonBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/files/upload/chunk", body, requestOpts{headers: jsonHeaders()})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeSession(resp.Body)
}

// UploadStatus returns the current state of a chunked upload session.
func (c *Client) UploadStatus(ctx context.Context, sessionID string) (*wire.ChunkUploadSessionDTO, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/upload/status/"+url.PathEscape(sessionID), nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeSession(resp.Body)
}

// CancelUpload aborts an in-progress chunked upload session.
func (c *Client) CancelUpload(ctx context.Context, sessionID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/files/upload/cancel/"+url.PathEscape(sessionID), nil, requestOpts{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}

// ListSessions returns the caller's active chunked upload sessions. The
// sync CLI does not call it; interrupted uploads are not resumed from it.
func (c *Client) ListSessions(ctx context.Context) ([]wire.ChunkUploadSessionDTO, error) {
	resp, err := c.do(ctx, http.MethodGet, "/files/upload/sessions", nil, requestOpts{})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var sessions []wire.ChunkUploadSessionDTO
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, fmt.Errorf("apiclient: decoding session list: %w", err)
	}

	return sessions, nil
}

func decodeSession(r io.Reader) (*wire.ChunkUploadSessionDTO, error) {
	var sess wire.ChunkUploadSessionDTO
	if err := json.NewDecoder(r).Decode(&sess); err != nil {
		return nil, fmt.Errorf("apiclient: decoding upload session: %w", err)
	}

	return &sess, nil
}

func jsonHeaders() http.Header {
	return http.Header{"Content-Type": []string{"application/json"}}
}
