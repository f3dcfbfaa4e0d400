package secrets

import (
	"context"
	"strings"

	"github.com/rendis/dataflow/pkg/schema"
)

const (
	refOpen   = "${{"
	refClose  = "}}"
	refPrefix = "secrets."
)

// HasRefs reports whether s contains a ${{...}} reference.
func HasRefs(s string) bool { return strings.Contains(s, refOpen) }

// Expand replaces every ${{secrets.KEY}} in s with the resolved value. A nil
// resolver is an error as soon as a reference is found.
func Expand(ctx context.Context, r Resolver, s string) (string, error) {
	if !HasRefs(s) {
		return s, nil
	}

	var b strings.Builder
	rest := s
	for {
		i := strings.Index(rest, refOpen)
		if i < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:i])
		rest = rest[i+len(refOpen):]

		j := strings.Index(rest, refClose)
		if j < 0 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ reference")
		}
		ref := strings.TrimSpace(rest[:j])
		rest = rest[j+len(refClose):]

		key, ok := strings.CutPrefix(ref, refPrefix)
		if !ok || !ValidKey(key) {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid reference ${{%s}}: expected secrets.KEY", ref)
		}
		if r == nil {
			return "", schema.NewErrorf(schema.ErrCodeVault, "secret %q referenced but no vault is configured", key)
		}
		val, err := r.Resolve(ctx, key)
		if err != nil {
			return "", err
		}
		b.Write(val)
	}
}
