package depot_test

import (
	"depot/internal/depot"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type nopSeekCloser struct {
	io.ReadSeeker
}

func (nopSeekCloser) Close() error { return nil }

func uploadFile(name, content string) depot.UploadFile {
	return depot.UploadFile{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadSeekCloser, error) {
			return nopSeekCloser{strings.NewReader(content)}, nil
		},
	}
}

func TestUploaderAddMany(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	uploader := depot.NewUploader(store)
	ctx := t.Context()

	got, err := uploader.AddMany(ctx, []depot.UploadFile{
		uploadFile("a.txt", "alpha"),
		uploadFile("empty.bin", ""),
		uploadFile("b.png", "not really a png"),
		uploadFile("c", "gamma"),
	})
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Equal(t, "a.txt", got[0].FileName)
	require.Equal(t, "text/plain", got[0].ContentType)
	require.EqualValues(t, 5, got[0].Size)

	require.Equal(t, "b.png", got[1].FileName)
	require.Equal(t, "image/png", got[1].ContentType)

	require.Equal(t, "c", got[2].FileName)
	require.Equal(t, "application/octet-stream", got[2].ContentType)

	seen := map[string]bool{}
	for _, desc := range got {
		require.False(t, seen[desc.ID], "duplicate id %s", desc.ID)
		seen[desc.ID] = true

		stored, err := store.Get(ctx, desc.ID)
		require.NoError(t, err)
		require.Equal(t, desc, stored)
	}
}

func TestUploaderAddManyNothingStored(t *testing.T) {
	t.Parallel()

	uploader := depot.NewUploader(newTestStore(t))

	got, err := uploader.AddMany(t.Context(), nil)
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = uploader.AddMany(t.Context(), []depot.UploadFile{
		uploadFile("empty.txt", ""),
		{Name: "no-stream.txt", Size: 10},
	})
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUploaderAddManyStopsOnError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	uploader := depot.NewUploader(store)
	ctx := t.Context()

	cause := errors.New("multipart part unreadable")
	_, err := uploader.AddMany(ctx, []depot.UploadFile{
		uploadFile("first.txt", "one"),
		{Name: "broken.txt", Size: 3, Open: func() (io.ReadSeekCloser, error) { return nil, cause }},
		uploadFile("third.txt", "three"),
	})
	require.ErrorIs(t, err, cause)

	var names []string
	for key, err := range store.List(ctx) {
		require.NoError(t, err)
		desc, err := store.Get(ctx, key)
		require.NoError(t, err)
		names = append(names, desc.FileName)
	}
	require.Equal(t, []string{"first.txt"}, names)
}
