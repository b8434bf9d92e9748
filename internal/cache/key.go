package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"github.com/HanTheDev/multi-tenant-rag/internal/models"
)

// Key derives the cache key of a query. It hashes the tenant id, the
// lower-cased trimmed query text, the exact effective parameters and the
// conversation history, each length-prefixed so that field boundaries cannot
// shift between requests.
func Key(tenantID, query string, params models.Params, history []models.Message) string {
	h := sha256.New()
	writeField(h, []byte(tenantID))
	writeField(h, []byte(NormalizeQuery(query)))

	p, _ := json.Marshal(params)
	writeField(h, p)

	for _, m := range history {
		writeField(h, []byte(m.Role))
		writeField(h, []byte(m.Content))
	}

	return fmt.Sprintf("%s%x", TenantPrefix(tenantID), h.Sum(nil))
}

// TenantPrefix is the common prefix of every key of tenantID.
func TenantPrefix(tenantID string) string {
	return "tenant:" + tenantID + ":query:"
}

func NormalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

func writeField(h hash.Hash, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	h.Write(n[:])
	h.Write(b)
}
