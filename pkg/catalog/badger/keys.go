package badger

import "fmt"

// Database Key Namespace Design
// ==============================
//
// Data Type            Prefix  Key Format                     Value Type
// =========================================================================
// File Record          "f:"    f:<fileID>                     FileRecord (JSON)
// Hash Index           "h:"    h:<contentHash>                fileID (bytes)
// Pending Deletion     "pd:"   pd:<fileID>                    PendingDeletion (JSON)
// Upload Session       "s:"    s:<sessionID>                  ChunkUploadSession (JSON)
// Chunk Record         "c:"    c:<sessionID>:<index %010d>    ChunkRecord (JSON)
// Storage Config       "cfg:"  cfg:<configID>                 StorageConfig (JSON)
//
// The hash index is written in the same transaction as the record, so a
// content hash maps to at most one file. Chunk indices are zero padded so a
// prefix scan over c:<sessionID>: yields chunks in ascending index order.

const (
	prefixFile    = "f:"
	prefixHash    = "h:"
	prefixPending = "pd:"
	prefixSession = "s:"
	prefixChunk   = "c:"
	prefixConfig  = "cfg:"
)

func keyFile(id string) []byte {
	return []byte(prefixFile + id)
}

func keyHash(hash string) []byte {
	return []byte(prefixHash + hash)
}

func keyPending(fileID string) []byte {
	return []byte(prefixPending + fileID)
}

func keySession(id string) []byte {
	return []byte(prefixSession + id)
}

func keyChunkPrefix(sessionID string) []byte {
	return []byte(prefixChunk + sessionID + ":")
}

func keyChunk(sessionID string, index int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", prefixChunk, sessionID, index))
}

func keyConfig(id string) []byte {
	return []byte(prefixConfig + id)
}
