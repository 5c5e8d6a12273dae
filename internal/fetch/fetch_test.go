package fetch

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "transient error",
			err:  Transient("https://example.com", errors.New("timeout")),
			want: KindTransient,
		},
		{
			name: "structural error",
			err:  Structural("https://example.com", errors.New("captcha wall")),
			want: KindStructural,
		},
		{
			name: "fatal error",
			err:  Fatal("https://example.com", errors.New("browser gone")),
			want: KindFatal,
		},
		{
			name: "wrapped fetch error keeps its kind",
			err:  fmt.Errorf("page 3: %w", Fatal("https://example.com", errors.New("browser gone"))),
			want: KindFatal,
		},
		{
			name: "unclassified error defaults to transient",
			err:  errors.New("connection reset"),
			want: KindTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("net/http: timeout")
	err := Transient("https://example.com/page", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "https://example.com/page")
}
