package flow

import "strings"

// NormalizePath collapses every run of consecutive '/' characters into a
// single one. Nothing else is changed: the path is not cleaned, a
// trailing separator is kept, and the empty path stays empty.
func NormalizePath(p string) string {
	if !strings.Contains(p, "//") {
		return p
	}

	var b strings.Builder
	b.Grow(len(p))

	slash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if slash {
				continue
			}

			slash = true
		} else {
			slash = false
		}

		b.WriteByte(c)
	}

	return b.String()
}

// NormalizePathPtr is NormalizePath for optional paths. A nil path is
// returned as nil.
func NormalizePathPtr(p *string) *string {
	if p == nil {
		return nil
	}

	n := NormalizePath(*p)
	return &n
}
