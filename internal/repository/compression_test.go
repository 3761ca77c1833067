package repository

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dreamteamprod/digiscript-live/internal/model"
)

func TestCompressContent_RoundTrip(t *testing.T) {
	in := []model.LineContent{dialogue("To be, or not to be"), {LineType: model.LineSpacing}}
	blob, err := CompressContent(in)
	require.NoError(t, err)
	require.Contains(t, blob, contentFormat)

	var out []model.LineContent
	require.NoError(t, DecompressContent(blob, &out))
	require.Len(t, out, 2)
	require.Equal(t, "To be, or not to be", out[0].Parts[0].LineText)
	require.Equal(t, model.LineSpacing, out[1].LineType)
}

func TestDecompressContent_Corrupt(t *testing.T) {
	good, err := CompressContent(map[string]int{"a": 1})
	require.NoError(t, err)
	packed, err := base64.StdEncoding.DecodeString(good[len(contentFormat):])
	require.NoError(t, err)
	truncated := contentFormat + base64.StdEncoding.EncodeToString(packed[:len(packed)-6])

	cases := map[string]string{
		"no prefix":      "eJyrVkpUslIyVKoFAA==",
		"bad base64":     contentFormat + "%%%",
		"not zlib":       contentFormat + base64.StdEncoding.EncodeToString([]byte("plain text")),
		"truncated zlib": truncated,
		"empty":          "",
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			var v map[string]int
			require.ErrorIs(t, DecompressContent(blob, &v), ErrDecode)
		})
	}
}
