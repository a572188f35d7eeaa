package gateway

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"

	"github.com/prn-tf/broccoli-gateway/internal/kvstore"
)

// callSignature is the canonical form of one call. Map keys sort during JSON
// encoding, so equal calls always produce equal signatures.
type callSignature struct {
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// callKey builds the shared cache key for one call: the fully qualified
// action, an underscore, and the md5 of the canonical JSON call signature.
// The priority kwarg must already be removed by the caller.
func callKey(fqn string, args []any, kwargs map[string]any) (string, error) {
	if args == nil {
		args = []any{}
	}
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	data, err := json.Marshal(callSignature{Args: args, Kwargs: kwargs})
	if err != nil {
		return "", err
	}

	sum := md5.Sum(data)
	return kvstore.CacheKey(fqn, hex.EncodeToString(sum[:])), nil
}
