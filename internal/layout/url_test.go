package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const playground = "https://cyanophage.github.io/playground.html"

func TestSetQueryParam(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		key   string
		value string
		want  string
	}{
		{
			name: "replace existing later param",
			in:   playground + "?layout=abc&mode=ergo&lan=english", key: ParamLanguage, value: "french",
			want: playground + "?layout=abc&mode=ergo&lan=french",
		},
		{
			name: "append when missing",
			in:   playground + "?layout=abc&mode=ergo", key: ParamLanguage, value: "french",
			want: playground + "?layout=abc&mode=ergo&lan=french",
		},
		{
			name: "replace first param",
			in:   playground + "?lan=english&layout=abc", key: ParamLanguage, value: "german",
			want: playground + "?lan=german&layout=abc",
		},
		{
			name: "no query",
			in:   playground, key: ParamLanguage, value: "spanish",
			want: playground + "?lan=spanish",
		},
		{
			name: "replace mode",
			in:   playground + "?layout=abc&mode=ergo", key: ParamMode, value: "iso",
			want: playground + "?layout=abc&mode=iso",
		},
		{
			name: "append mode",
			in:   playground + "?layout=abc", key: ParamMode, value: "ansi",
			want: playground + "?layout=abc&mode=ansi",
		},
		{
			name: "similar key untouched",
			in:   playground + "?plan=x", key: ParamLanguage, value: "dutch",
			want: playground + "?plan=x&lan=dutch",
		},
		{
			name: "fragment kept",
			in:   playground + "?layout=abc#stats", key: ParamMode, value: "iso",
			want: playground + "?layout=abc&mode=iso#stats",
		},
		{
			name: "trailing question mark",
			in:   playground + "?", key: ParamMode, value: "iso",
			want: playground + "?mode=iso",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SetQueryParam(tt.in, tt.key, tt.value))
		})
	}
}

func TestSetQueryParam_KeepsEncodedLayout(t *testing.T) {
	in := playground + "?layout=bldwz%27fouj%3Bnrtsgyhaei%2Cqxmcvkp.-%2F%5C%5E&mode=ergo&lan=english&thumb=l"
	want := playground + "?layout=bldwz%27fouj%3Bnrtsgyhaei%2Cqxmcvkp.-%2F%5C%5E&mode=ergo&lan=dutch&thumb=l"

	assert.Equal(t, want, SetQueryParam(in, ParamLanguage, "dutch"))
}

func TestResolveURL_AliasMapsMode(t *testing.T) {
	aliases := map[string]string{"anglemod": "iso"}

	got := ResolveURL(playground+"?layout=abc&mode=ergo", "anglemod", "english", aliases)
	assert.Equal(t, playground+"?layout=abc&mode=iso&lan=english", got)

	got = ResolveURL(playground+"?layout=abc&mode=ergo", "ansi", "english", aliases)
	assert.Equal(t, playground+"?layout=abc&mode=ansi&lan=english", got)
}

func TestResolveURL_Placeholders(t *testing.T) {
	got := ResolveURL("https://example.com/{mode}/{language}?layout=abc", "ergo", "english", nil)
	assert.Equal(t, "https://example.com/ergo/english?layout=abc", got)
}

func TestResolveURL_Deterministic(t *testing.T) {
	link := playground + "?layout=abc"
	assert.Equal(t, ResolveURL(link, "iso", "dutch", nil), ResolveURL(link, "iso", "dutch", nil))
}
