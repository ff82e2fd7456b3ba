package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMergeableByExtension(t *testing.T) {
	require.True(t, IsMergeable("docs/notes.txt", 100))
	require.True(t, IsMergeable("src/Main.java", 100))
	require.True(t, IsMergeable(".gitignore", 100))
	require.False(t, IsMergeable("photo.png", 100))
	require.False(t, IsMergeable("archive.zip", 100))
}

func TestIsMergeableSmallDocHeuristic(t *testing.T) {
	require.True(t, IsMergeable("report.rtf", 1024))
	require.False(t, IsMergeable("report.rtf", smallDocSizeThreshold+1))
	require.True(t, IsMergeable("report.odt", smallDocSizeThreshold))
}

func TestBuildCandidateSeedsMergeMarkersForText(t *testing.T) {
	c := Conflict{Path: "notes.txt", LocalBytes: []byte("local line"), ServerBytes: []byte("server line")}
	cand := BuildCandidate(c)

	require.True(t, cand.Mergeable)
	require.Contains(t, string(cand.MergeSeed), "<<<<<<< LOCAL")
	require.Contains(t, string(cand.MergeSeed), "local line")
	require.Contains(t, string(cand.MergeSeed), "=======")
	require.Contains(t, string(cand.MergeSeed), "server line")
	require.Contains(t, string(cand.MergeSeed), ">>>>>>> SERVER")
}

func TestBuildCandidateNoMergeForBinary(t *testing.T) {
	c := Conflict{Path: "photo.png", LocalBytes: []byte{0x89, 0x50}, ServerBytes: []byte{0x89, 0x51}}
	cand := BuildCandidate(c)

	require.False(t, cand.Mergeable)
	require.Nil(t, cand.MergeSeed)
}

func TestResolveUseLocal(t *testing.T) {
	c := Conflict{LocalBytes: []byte("mine"), ServerBytes: []byte("theirs")}

	res, err := Resolve(c, USE_LOCAL, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("mine"), res.SubmitUpdate)
	require.Nil(t, res.WriteLocal)
}

func TestResolveUseServer(t *testing.T) {
	c := Conflict{LocalBytes: []byte("mine"), ServerBytes: []byte("theirs")}

	res, err := Resolve(c, USE_SERVER, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("theirs"), res.WriteLocal)
	require.Nil(t, res.SubmitUpdate)
}

func TestResolveUseMergedRequiresBytes(t *testing.T) {
	c := Conflict{LocalBytes: []byte("mine"), ServerBytes: []byte("theirs")}

	_, err := Resolve(c, USE_MERGED, nil)
	require.ErrorIs(t, err, ErrMergedBytesRequired)

	res, err := Resolve(c, USE_MERGED, []byte("combined"))
	require.NoError(t, err)
	require.Equal(t, []byte("combined"), res.WriteLocal)
	require.Equal(t, []byte("combined"), res.SubmitUpdate)
}

func TestResolveCancelledIsNoOp(t *testing.T) {
	c := Conflict{LocalBytes: []byte("mine"), ServerBytes: []byte("theirs")}

	res, err := Resolve(c, CANCELLED, nil)
	require.NoError(t, err)
	require.Nil(t, res.WriteLocal)
	require.Nil(t, res.SubmitUpdate)
}
