package manifest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	text := `; shared values
[default]
db_name = app
greeting = "hello \"world\""
raw = 'single ${x}'

# per environment
[  staging  ]
db_host=db1
body = first \
  second

[git_commit   initial import]
message = init
`
	doc, err := Parse("params.ini", text)
	require.NoError(t, err)

	assert.Equal(t, "params.ini", doc.Source)
	require.Len(t, doc.Sections, 3)

	def := doc.Sections[0]
	assert.Equal(t, "default", def.Header)
	assert.Equal(t, 2, def.Line)
	assert.Equal(t, []Entry{
		{Key: "db_name", Value: "app", Line: 3},
		{Key: "greeting", Value: `hello "world"`, Line: 4},
		{Key: "raw", Value: "single ${x}", Line: 5},
	}, def.Entries)

	staging := doc.Sections[1]
	assert.Equal(t, "staging", staging.Name())
	assert.Empty(t, staging.Label())
	assert.Equal(t, []Entry{
		{Key: "db_host", Value: "db1", Line: 9},
		{Key: "body", Value: "first \nsecond", Line: 10},
	}, staging.Entries)

	commit := doc.Sections[2]
	assert.Equal(t, "git_commit", commit.Name())
	assert.Equal(t, "initial import", commit.Label())
	assert.Equal(t, 13, commit.Line)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	doc, err := Parse("", "\n; nothing here\n\n")
	require.NoError(t, err)
	assert.Empty(t, doc.Sections)
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		text       string
		wantLine   int
		wantReason string
	}{
		{
			name:       "entry before section",
			text:       "a = 1\n",
			wantLine:   1,
			wantReason: "entry outside of a section",
		},
		{
			name:       "missing equals",
			text:       "[default]\njust words\n",
			wantLine:   2,
			wantReason: "expected key = value",
		},
		{
			name:       "unterminated header",
			text:       "[default]\n[staging\n",
			wantLine:   2,
			wantReason: "unterminated section header",
		},
		{
			name:       "empty header",
			text:       "[ ]\n",
			wantLine:   1,
			wantReason: "empty section header",
		},
		{
			name:       "missing key",
			text:       "[default]\n = value\n",
			wantLine:   2,
			wantReason: "missing key",
		},
		{
			name:       "invalid key",
			text:       "[default]\n\n9lives = cat\n",
			wantLine:   3,
			wantReason: "invalid key 9lives",
		},
		{
			name:       "unterminated quote",
			text:       "[default]\na = \"open\n",
			wantLine:   2,
			wantReason: "unterminated quoted value",
		},
		{
			name:       "continuation at end",
			text:       "[default]\na = open \\",
			wantLine:   2,
			wantReason: "line continuation at end of input",
		},
		{
			name:       "text after header",
			text:       "[default] extra\na = 1\n",
			wantLine:   1,
			wantReason: "unexpected text after section header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse("ops.ini", tt.text)
			require.Error(t, err)

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, "ops.ini", perr.Source)
			assert.Equal(t, tt.wantLine, perr.Line)
			assert.Equal(t, tt.wantReason, perr.Reason)
		})
	}
}

func TestParse_TrailingBackslash(t *testing.T) {
	t.Parallel()

	text := "[default]\nroot = C:\\\nname = x\n[staging]\ndir = D:\\\n[prod]\nbody = first \\\n  second\n"
	doc, err := Parse("params.ini", text)
	require.NoError(t, err)
	require.Len(t, doc.Sections, 3)

	assert.Equal(t, []Entry{
		{Key: "root", Value: `C:\`, Line: 2},
		{Key: "name", Value: "x", Line: 3},
	}, doc.Sections[0].Entries)
	assert.Equal(t, []Entry{
		{Key: "dir", Value: `D:\`, Line: 5},
	}, doc.Sections[1].Entries)
	assert.Equal(t, []Entry{
		{Key: "body", Value: "first \nsecond", Line: 7},
	}, doc.Sections[2].Entries)
}

func TestParse_HeaderComment(t *testing.T) {
	t.Parallel()

	doc, err := Parse("params.ini", "[default] ; shared values\na = 1\n[staging]  # per env\nb = 2\n")
	require.NoError(t, err)
	require.Len(t, doc.Sections, 2)

	assert.Equal(t, "default", doc.Sections[0].Header)
	assert.Equal(t, []Entry{{Key: "a", Value: "1", Line: 2}}, doc.Sections[0].Entries)
	assert.Equal(t, "staging", doc.Sections[1].Header)
	assert.Equal(t, []Entry{{Key: "b", Value: "2", Line: 4}}, doc.Sections[1].Entries)
}

func TestParseError_Error(t *testing.T) {
	t.Parallel()

	err := &ParseError{Source: "ops.ini", Line: 4, Text: "oops", Reason: "expected key = value"}
	assert.Equal(t, `ops.ini:4: expected key = value: "oops"`, err.Error())

	err = &ParseError{Line: 1, Reason: "boom"}
	assert.Equal(t, "manifest:1: boom", err.Error())
}

func TestValidKey(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidKey("db_host"))
	assert.True(t, ValidKey("_private-key2"))
	assert.False(t, ValidKey("db.host"))
	assert.False(t, ValidKey("2fast"))
	assert.False(t, ValidKey(""))
}
