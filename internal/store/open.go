package store

import (
	"fmt"
	"strings"
)

// Open creates a store from a URI: "memory://" for the in-memory
// backend, "local://<dir>" for the durable bbolt backend.
func Open(uri string) (Store, error) {
	switch {
	case uri == "memory://":
		return NewMemoryStore(), nil
	case strings.HasPrefix(uri, "local://"):
		return OpenBoltStore(strings.TrimPrefix(uri, "local://"))
	}
	return nil, fmt.Errorf("unsupported store uri %q", uri)
}
