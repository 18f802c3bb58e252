package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "lowercases and splits on punctuation",
			text: "Deploy the Payment-Service, now!",
			want: []string{"deploy", "payment", "service", "now"},
		},
		{
			name: "drops stop words and short tokens",
			text: "this is a fix for the DB",
			want: []string{"fix"},
		},
		{
			name: "keeps digits and underscores",
			text: "retry_count set to 42x",
			want: []string{"retry_count", "set", "42x"},
		},
		{
			name: "empty input",
			text: "  ",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.text))
		})
	}
}
