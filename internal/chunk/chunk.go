// Package chunk splits byte streams into bounded chunks for upload, and
// validates/reassembles chunk sequences. Grounded on the chunked-transfer
// shape of onedrive-go's internal/sync/transfer_manager.go, generalized
// from OneDrive's session-based large-file upload to this spec's
// general-purpose chunk session (spec.md §4.2).
package chunk

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/filesync-core/pkg/chunkhash"
)

// Size policy constants (spec.md §4.2 design defaults).
const (
	ChunkThreshold   = 10 * 1024 * 1024 // chunk only if fileSize > this
	DefaultChunkSize = 5 * 1024 * 1024
	MinChunkSize     = 1 * 1024 * 1024
	MaxChunkSize     = 50 * 1024 * 1024
	MaxChunks        = 1000
)

// ErrIntegrity is returned by ValidateSequence/Assemble when a chunk
// sequence fails integrity validation.
var ErrIntegrity = errors.New("chunk: integrity validation failed")

// Chunk is one contiguous byte range of a file.
type Chunk struct {
	ChunkIndex  int
	ChunkSize   int
	ChunkData   []byte
	ChunkChecksum string
	IsLastChunk bool
	TotalChunks int
}

// Plan computes the chunk size and total chunk count for a file of the
// given size, per spec.md §4.2: default chunk size unless that would
// exceed MaxChunks, in which case the size is computed as
// ceil(fileSize/MaxChunks) clamped to [MinChunkSize, MaxChunkSize].
func Plan(fileSize int64) (chunkSize int64, totalChunks int) {
	if fileSize <= 0 {
		return 0, 0
	}

	chunkSize = DefaultChunkSize
	if ceilDiv(fileSize, chunkSize) > MaxChunks {
		chunkSize = ceilDiv(fileSize, MaxChunks)
		if chunkSize < MinChunkSize {
			chunkSize = MinChunkSize
		}

		if chunkSize > MaxChunkSize {
			chunkSize = MaxChunkSize
		}
	}

	totalChunks = int(ceilDiv(fileSize, chunkSize))

	return chunkSize, totalChunks
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// Split divides data into an ordered list of Chunks according to Plan.
// Each chunk's checksum is SHA-256 of its bytes; IsLastChunk is set on the
// final chunk.
func Split(data []byte) []Chunk {
	size := int64(len(data))
	if size == 0 {
		return nil
	}

	chunkSize, totalChunks := Plan(size)
	if totalChunks == 0 {
		// Plan reports at least one chunk for any non-empty input (a small
		// file is one chunk); this guard falls back to one whole-data chunk.
		chunkSize = size
		totalChunks = 1
	}

	chunks := make([]Chunk, 0, totalChunks)

	for i := 0; i < totalChunks; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > size {
			end = size
		}

		part := data[start:end]
		chunks = append(chunks, Chunk{
			ChunkIndex:    i,
			ChunkSize:     len(part),
			ChunkData:     part,
			ChunkChecksum: chunkhash.Sum(part),
			IsLastChunk:   i == totalChunks-1,
			TotalChunks:   totalChunks,
		})
	}

	return chunks
}

// ValidateSequence checks that chunks, sorted by index, form [0..N-1]
// without gaps, that each chunk's recomputed checksum matches its stored
// checksum, that the last chunk's IsLastChunk flag is true, and that all
// chunks agree on TotalChunks.
func ValidateSequence(chunks []Chunk) error {
	if len(chunks) == 0 {
		return fmt.Errorf("%w: empty chunk sequence", ErrIntegrity)
	}

	total := chunks[0].TotalChunks
	if total != len(chunks) {
		return fmt.Errorf("%w: expected %d chunks, got %d", ErrIntegrity, total, len(chunks))
	}

	seen := make([]bool, total)

	for _, c := range chunks {
		if c.TotalChunks != total {
			return fmt.Errorf("%w: chunk %d disagrees on total_chunks (%d != %d)",
				ErrIntegrity, c.ChunkIndex, c.TotalChunks, total)
		}

		if c.ChunkIndex < 0 || c.ChunkIndex >= total {
			return fmt.Errorf("%w: chunk index %d out of range [0,%d)", ErrIntegrity, c.ChunkIndex, total)
		}

		if seen[c.ChunkIndex] {
			return fmt.Errorf("%w: duplicate chunk index %d", ErrIntegrity, c.ChunkIndex)
		}

		seen[c.ChunkIndex] = true

		if !chunkhash.Verify(c.ChunkData, c.ChunkChecksum) {
			return fmt.Errorf("%w: chunk %d checksum mismatch", ErrIntegrity, c.ChunkIndex)
		}

		wantLast := c.ChunkIndex == total-1
		if c.IsLastChunk != wantLast {
			return fmt.Errorf("%w: chunk %d is_last_chunk=%v, want %v", ErrIntegrity, c.ChunkIndex, c.IsLastChunk, wantLast)
		}
	}

	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: missing chunk index %d", ErrIntegrity, i)
		}
	}

	return nil
}

// Assemble validates chunks, then concatenates their data in index order.
// If totalFileSize is nonzero, the assembled length must match it exactly.
func Assemble(chunks []Chunk, totalFileSize int64) ([]byte, error) {
	if err := ValidateSequence(chunks); err != nil {
		return nil, err
	}

	ordered := make([]Chunk, len(chunks))
	for _, c := range chunks {
		ordered[c.ChunkIndex] = c
	}

	var size int
	for _, c := range ordered {
		size += len(c.ChunkData)
	}

	out := make([]byte, 0, size)
	for _, c := range ordered {
		out = append(out, c.ChunkData...)
	}

	if totalFileSize > 0 && int64(len(out)) != totalFileSize {
		return nil, fmt.Errorf("%w: assembled size %d != expected %d", ErrIntegrity, len(out), totalFileSize)
	}

	return out, nil
}
