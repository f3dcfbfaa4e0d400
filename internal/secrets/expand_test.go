package secrets

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/dataflow/pkg/schema"
)

func TestExpand(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()
	require.NoError(t, v.Store(ctx, "TOKEN", []byte("abc")))
	require.NoError(t, v.Store(ctx, "REGION", []byte("eu")))

	got, err := Expand(ctx, v, "Bearer ${{secrets.TOKEN}}")
	require.NoError(t, err)
	assert.Equal(t, "Bearer abc", got)

	got, err = Expand(ctx, v, "https://${{ secrets.REGION }}.api.test/?k=${{secrets.TOKEN}}")
	require.NoError(t, err)
	assert.Equal(t, "https://eu.api.test/?k=abc", got)

	got, err = Expand(ctx, nil, "no references")
	require.NoError(t, err)
	assert.Equal(t, "no references", got)
}

func TestExpandErrors(t *testing.T) {
	v, _ := newTestVault(t)
	ctx := context.Background()

	cases := map[string]struct {
		in   string
		r    Resolver
		code string
	}{
		"unclosed":      {"x ${{secrets.A", v, schema.ErrCodeValidation},
		"not a secret":  {"${{inputs.A}}", v, schema.ErrCodeValidation},
		"missing":       {"${{secrets.NOPE}}", v, schema.ErrCodeNotFound},
		"no vault":      {"${{secrets.A}}", nil, schema.ErrCodeVault},
		"bad key chars": {"${{secrets.a-b}}", v, schema.ErrCodeValidation},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Expand(ctx, tc.r, tc.in)
			require.Error(t, err)
			assert.Equal(t, tc.code, errCode(t, err))
		})
	}
}

func TestHasRefs(t *testing.T) {
	assert.True(t, HasRefs("a ${{secrets.X}}"))
	assert.False(t, HasRefs("plain"))
	assert.False(t, HasRefs(string(bytes.Repeat([]byte("$"), 3))))
}
