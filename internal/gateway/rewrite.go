package gateway

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

var mediaURIPattern = regexp.MustCompile(`URI="([^"]*)"`)

// RewriteManifest rewrites an HLS manifest so no unsigned storage path
// ever reaches a client:
//   - content lines are resolved against the manifest's own directory and
//     pointed back at the gateway endpoint, carrying the absolute storage
//     path as an opaque query parameter, so nested manifests stay proxied;
//   - subtitle declarations (#EXT-X-MEDIA ... URI="...") get a directly
//     signed URL instead, since players fetch those once;
//   - comments and blank lines pass through unchanged.
//
// baseDir is the storage directory of the manifest being rewritten.
// proxyURL is the gateway endpoint for this asset; the resolved path is
// appended as its "path" query parameter.
func RewriteManifest(body []byte, baseDir, proxyURL string, sign func(key string) (string, error)) ([]byte, error) {
	lines := strings.Split(string(body), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			out = append(out, line)
		case strings.HasPrefix(trimmed, "#EXT-X-MEDIA:"):
			rewritten, err := rewriteMediaURI(trimmed, baseDir, sign)
			if err != nil {
				return nil, err
			}
			out = append(out, rewritten)
		case strings.HasPrefix(trimmed, "#"):
			out = append(out, line)
		default:
			abs := ResolveKey(baseDir, trimmed)
			out = append(out, proxyURL+"?path="+url.QueryEscape(abs))
		}
	}
	return []byte(strings.Join(out, "\n")), nil
}

func rewriteMediaURI(line, baseDir string, sign func(key string) (string, error)) (string, error) {
	m := mediaURIPattern.FindStringSubmatch(line)
	if m == nil {
		return line, nil
	}
	signed, err := sign(ResolveKey(baseDir, m[1]))
	if err != nil {
		return "", fmt.Errorf("sign media uri: %w", err)
	}
	// Insert literally: signed URLs routinely contain characters the
	// regexp replacement template would expand.
	return strings.Replace(line, m[0], `URI="`+signed+`"`, 1), nil
}

// ResolveKey resolves a manifest reference to an absolute storage key
// relative to the manifest's directory. Already-absolute references
// (full URLs) are returned unchanged.
func ResolveKey(baseDir, ref string) string {
	if strings.Contains(ref, "://") {
		return ref
	}
	return path.Join(baseDir, ref)
}
