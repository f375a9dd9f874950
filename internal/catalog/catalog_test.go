package catalog

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/offline-catalog-worker/internal/offline"
)

const listDocument = `[
  {"Titre": "Show One", "Url Thumb": "/thumbs/one.jpg", "Catégorie": "Série", "__slug": "show-1",
   "info": "/data/show-1.json",
   "Saisons": [
     {"description": "/data/show-1-s1.json", "episodes": [
       {"thumbnail": "https://cdn.other/ep1.webp", "video": "https://cdn.other/ep1.mp4"},
       {"thumb": "/thumbs/ep2.png", "video": "/media/ep2.m3u8"},
       "not an episode"
     ]}
   ]},
  {"name": "Movie  Night", "thumbnailUrl": "/thumbs/one.jpg", "category": "film", "description": "A long night."},
  {"title": "Trailer", "thumb": "/media/trailer.mp4", "category": "post"},
  42
]`

func TestParseListNormalisesFieldVariants(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(listDocument))
	require.NoError(t, err)
	require.Len(t, c.Items, 3)

	show := c.Items[0]
	require.Equal(t, "Show One", show.Title)
	require.Equal(t, "show-1", show.EffectiveSlug())
	require.Equal(t, "série", show.NormalisedCategory())
	require.Equal(t, "/data/show-1.json", show.Metadata)
	require.Len(t, show.Children, 1)
	season := show.Children[0]
	require.Equal(t, "/data/show-1-s1.json", season.Metadata)
	require.Empty(t, season.Description)
	require.Len(t, season.Children, 2)

	movie := c.Items[1]
	require.Equal(t, "Movie  Night", movie.Title)
	require.Equal(t, "movie-night", movie.EffectiveSlug())
	require.Equal(t, "A long night.", movie.Description)
}

func TestParseObjectKeepsKeyOrderAndLooseStrings(t *testing.T) {
	t.Parallel()

	doc := `{
	  "zeta": {"Name": "Zeta", "thumb": "z.gif"},
	  "banner": "/img/banner.jpg",
	  "feed": "/feeds/latest.json",
	  "motto": "watch more",
	  "alpha": {"title": "Alpha", "slug": "alpha-custom"},
	  "count": 7
	}`
	c, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, c.Items, 2)
	require.Equal(t, "zeta", c.Items[0].Key)
	require.Equal(t, "alpha-custom", c.Items[1].EffectiveSlug())
	require.Equal(t, []string{"/img/banner.jpg", "/feeds/latest.json", "watch more"}, c.Loose)

	refs := c.CollectURLs("https://app.example/")
	require.Equal(t, []Ref{
		{URL: "https://app.example/z.gif", Kind: KindImage},
		{URL: "https://app.example/img/banner.jpg", Kind: KindImage},
		{URL: "https://app.example/feeds/latest.json", Kind: KindJSON},
	}, refs)
}

func TestParseRejectsScalarsAndGarbage(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`"just a string"`))
	require.ErrorIs(t, err, ErrUnsupportedDocument)

	_, err = Parse(nil)
	require.ErrorIs(t, err, ErrUnsupportedDocument)

	_, err = Parse([]byte(`[{"Titre": `))
	require.Error(t, err)
}

func TestCollectURLsSkipsVideoAndDuplicates(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(listDocument))
	require.NoError(t, err)

	refs := c.CollectURLs("https://app.example/")
	require.Equal(t, []Ref{
		{URL: "https://app.example/thumbs/one.jpg", Kind: KindImage},
		{URL: "https://app.example/data/show-1.json", Kind: KindJSON},
		{URL: "https://app.example/data/show-1-s1.json", Kind: KindJSON},
		{URL: "https://cdn.other/ep1.webp", Kind: KindImage},
		{URL: "https://app.example/thumbs/ep2.png", Kind: KindImage},
	}, refs)
	for _, r := range refs {
		require.False(t, offline.IsVideoURL(r.URL), r.URL)
	}
}

func TestCollectURLsClassifiesThumbnailsByExtension(t *testing.T) {
	t.Parallel()

	c, err := Parse([]byte(`[
	  {"title": "A", "thumbnail": "/thumb?id=3"},
	  {"title": "B", "thumbnail": "/shows/b.json"},
	  {"title": "C", "thumbnail": "/img/c.png?v=2"}
	]`))
	require.NoError(t, err)

	require.Equal(t, []Ref{
		{URL: "https://app.example/shows/b.json", Kind: KindJSON},
		{URL: "https://app.example/img/c.png?v=2", Kind: KindImage},
	}, c.CollectURLs("https://app.example/"))
}

func TestSlugify(t *testing.T) {
	t.Parallel()

	require.Equal(t, "the-big-show", Slugify("  The Big\tShow "))
	require.Empty(t, Slugify(""))
}

type stubMatcher struct {
	resp *offline.Response
	err  error
}

func (m stubMatcher) Match(context.Context, string) (*offline.Response, error) {
	return m.resp, m.err
}

type stubFetcher struct {
	resp  *offline.Response
	err   error
	calls int
}

func (f *stubFetcher) Fetch(context.Context, offline.Request) (*offline.Response, error) {
	f.calls++
	return f.resp, f.err
}

func TestLoaderPrefersCache(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{err: errors.New("offline")}
	l := NewLoader(stubMatcher{resp: &offline.Response{StatusCode: http.StatusOK, Body: []byte(`[{"Titre":"A"}]`)}},
		fetcher, "https://app.example/index.json", nil)

	c, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	require.Zero(t, fetcher.calls)
}

func TestLoaderFallsBackToNetwork(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{resp: &offline.Response{StatusCode: http.StatusOK, Body: []byte(`{"a":{"Name":"A"}}`)}}
	l := NewLoader(stubMatcher{err: offline.ErrNotFound}, fetcher, "https://app.example/index.json", nil)

	c, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, "A", c.Items[0].Title)

	fetcher.resp = &offline.Response{StatusCode: http.StatusNotFound}
	_, err = l.Load(context.Background())
	require.Error(t, err)
}
