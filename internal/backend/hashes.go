package backend

import "strings"

// hashAliases maps hash algorithm names the backend has used across versions
// to one canonical name. The tool has renamed algorithms between releases
// ("SHA-1" became "sha1", "Dropbox" became "dropboxhash"); without this table
// a backend upgrade would orphan every previously tracked hash and break
// move correlation against the prior state.
var hashAliases = map[string]string{
	"md5":          "md5",
	"sha1":         "sha1",
	"sha-1":        "sha1",
	"sha256":       "sha256",
	"sha-256":      "sha256",
	"crc32":        "crc32",
	"whirlpool":    "whirlpool",
	"dropbox":      "dropboxhash",
	"dropboxhash":  "dropboxhash",
	"quickxor":     "quickxor",
	"quickxorhash": "quickxor",
	"mailru":       "mailru",
	"onedrive":     "quickxor",
}

// NormalizeHashName canonicalizes a backend-reported hash algorithm name.
// Unknown names are lowercased and passed through rather than rejected:
// a never-seen algorithm still works as long as both snapshots agree on it.
func NormalizeHashName(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if canon, ok := hashAliases[lower]; ok {
		return canon
	}

	return lower
}

// NormalizeHashes canonicalizes all keys of a backend hash map. When two
// reported names collapse to the same canonical name the first value wins;
// the digests are identical in that case by definition.
func NormalizeHashes(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]string, len(in))

	for name, digest := range in {
		canon := NormalizeHashName(name)
		if _, exists := out[canon]; !exists {
			out[canon] = digest
		}
	}

	return out
}
