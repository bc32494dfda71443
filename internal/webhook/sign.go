package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// canonicalJSON re-marshals an arbitrary JSON value with object keys
// sorted and no whitespace, like Python's json.dumps(obj,
// separators=(",", ":"), sort_keys=True). Strings and numbers use
// encoding/json's formatting, so the bytes differ from Python's for
// non-ASCII text, for <, > and &, and for whole-number floats.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedObject, 0, len(val))
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, sortedField{key: k, value: nv})
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			nv, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return val, nil
	}
}

// sortedObject/sortedField implement json.Marshaler to emit object keys
// in the order they were sorted into, since encoding/json always
// re-sorts a map[string]any alphabetically anyway — this makes that
// guarantee explicit rather than incidental.
type sortedField struct {
	key   string
	value any
}

type sortedObject []sortedField

func (o sortedObject) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(f.key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// Sign computes the HMAC-SHA256 signature over "<timestamp>.<canonicalBody>",
// the same message the ingest side is expected to verify against. An empty
// secret disables signing entirely (returns "", nil).
func Sign(secret, alg, timestamp string, body any) (string, error) {
	if secret == "" {
		return "", nil
	}
	if alg != "sha256" {
		return "", fmt.Errorf("unsupported signature alg: %s", alg)
	}

	var canonical []byte
	if body != nil {
		var err error
		canonical, err = canonicalJSON(body)
		if err != nil {
			return "", err
		}
	}

	msg := timestamp + "." + string(canonical)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil)), nil
}
