package target

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasPlaceholder(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"select * from t where id = ?", true},
		{"select * from t where id=?", true},
		{"select * from t", false},
		{"select * from t where name = 'what?'", false},
		{`select * from t where name = "what?"`, false},
		{"select `odd?col` from t", false},
		{"select * from t where name = 'it''s?' and id = ?", true},
		{`select * from t where name = 'a\'?' `, false},
		{`select * from t where name = 'a\\' and id = ?`, true},
		{"select 1 -- why?\nfrom t", false},
		{"select 1 # why?", false},
		{"select 1 /* why? */ from t where id = ?", true},
		{"select 1 /* why? */", false},
		{"select 5--?", true},
		{"select 'unterminated ?", false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, hasPlaceholder(tt.text))
		})
	}
}
