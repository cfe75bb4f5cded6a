package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key identifies a cache. Caches are never shared between different keys.
type Key struct {
	Workspace string `json:"workspace"`
	Ref       string `json:"ref"`
	Job       string `json:"job"`
	// Suffix is the job's optional cache.key.
	Suffix string `json:"suffix,omitempty"`
}

// Hash maps the key to a directory name.
func (k Key) Hash() string {
	h := sha256.New()
	for _, part := range []string{k.Workspace, k.Ref, k.Job, k.Suffix} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

func (k Key) String() string {
	if k.Suffix == "" {
		return fmt.Sprintf("%s@%s/%s", k.Workspace, k.Ref, k.Job)
	}
	return fmt.Sprintf("%s@%s/%s#%s", k.Workspace, k.Ref, k.Job, k.Suffix)
}
