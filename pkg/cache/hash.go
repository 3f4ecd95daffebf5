package cache

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/crypto/blake2b"
)

// Hash is the content address of a node evaluation.
type Hash [blake2b.Size256]byte

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Short returns the first 12 hex digits, for logs and tables.
func (h Hash) Short() string { return h.String()[:12] }

// IsZero reports whether h is unset.
func (h Hash) IsZero() bool { return h == Hash{} }

// Upstream is one resolved input value, identified by the hash of the
// node that produced it rather than by the value itself.
type Upstream struct {
	Port     string // input port on the consuming node
	Producer Hash
	Output   string // output port on the producing node
}

type upstreamDoc struct {
	Port     string `msgpack:"port"`
	Producer []byte `msgpack:"producer"`
	Output   string `msgpack:"output"`
}

type keyDoc struct {
	Type     string         `msgpack:"type"`
	Params   map[string]any `msgpack:"params"`
	Upstream []upstreamDoc  `msgpack:"upstream"`
	Salt     uint64         `msgpack:"salt,omitempty"`
}

// Key hashes a node evaluation: its type, its params encoded canonically
// (sorted keys), and the ordered list of upstream output hashes. Any
// change upstream, however far away, changes the key.
func Key(typeID string, params map[string]any, upstream []Upstream) (Hash, error) {
	return KeyWithSalt(typeID, params, upstream, 0)
}

// KeyWithSalt is Key with an extra discriminator. Volatile nodes use a
// fresh salt per dispatch so their consumers never share cache entries.
func KeyWithSalt(typeID string, params map[string]any, upstream []Upstream, salt uint64) (Hash, error) {
	doc := keyDoc{Type: typeID, Params: params, Salt: salt}
	if doc.Params == nil {
		doc.Params = map[string]any{}
	}
	doc.Upstream = make([]upstreamDoc, len(upstream))
	for i, u := range upstream {
		doc.Upstream[i] = upstreamDoc{Port: u.Port, Producer: u.Producer[:], Output: u.Output}
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(&doc); err != nil {
		return Hash{}, fmt.Errorf("cache: encode key for %s: %w", typeID, err)
	}
	return blake2b.Sum256(buf.Bytes()), nil
}
