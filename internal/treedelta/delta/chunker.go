package delta

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"github.com/aclements/go-rabin/rabin"
	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Constants for the Rabin chunker configuration.
const (
	// These values determine the target chunk sizes.
	minChunkSize = 4 * 1024  // 4KB
	avgChunkSize = 8 * 1024  // 8KB
	maxChunkSize = 16 * 1024 // 16KB

	// A 64-bit irreducible polynomial over GF(2).
	defaultPoly = rabin.Poly64
	// The size of the rolling hash window.
	defaultWindowSize = 64
)

// rabinTable is a pre-computed table for the Rabin chunker.
// Initializing this is computationally expensive, so we do it once and reuse it.
var rabinTable = rabin.NewTable(defaultPoly, defaultWindowSize)

// ChunkHash returns the lowercase hex SHA-256 of a chunk, the same address the
// object store files it under.
func ChunkHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ChunkBytes splits content into variable-sized chunks using Rabin
// fingerprinting. Boundaries depend only on nearby content, so an edit in one
// place leaves the chunks elsewhere unchanged. The chunks slice content
// without copying.
func ChunkBytes(content []byte) ([]types.Chunk, error) {
	// If the content is empty, there's nothing to chunk.
	if len(content) == 0 {
		return []types.Chunk{}, nil
	}

	chunker := rabin.NewChunker(rabinTable, bytes.NewReader(content), minChunkSize, avgChunkSize, maxChunkSize)

	var chunks []types.Chunk
	var offset int64

	for {
		length, err := chunker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		data := content[offset : offset+int64(length)]
		chunks = append(chunks, types.Chunk{
			Hash:   ChunkHash(data),
			Offset: offset,
			Size:   int64(length),
			Data:   data,
		})
		offset += int64(length)
	}

	// Content smaller than the minimum chunk size may not produce a chunk at
	// all, so treat it as a single one.
	if len(chunks) == 0 {
		chunks = append(chunks, types.Chunk{
			Hash: ChunkHash(content),
			Size: int64(len(content)),
			Data: content,
		})
	}

	return chunks, nil
}
