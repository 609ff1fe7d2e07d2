package rakuten

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractShopCode(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"plain storefront", "https://www.rakuten.co.jp/guitar-shop/", "guitar-shop", false},
		{"storefront subpage", "https://www.rakuten.co.jp/guitar-shop/category/123/", "guitar-shop", false},
		{"gold page", "https://www.rakuten.co.jp/gold/guitar-shop/", "guitar-shop", false},
		{"item page uses first segment", "https://item.rakuten.co.jp/guitar-shop/10000123/", "guitar-shop", false},
		{"ne.jp domain", "https://www.rakuten.ne.jp/gold/guitar-shop/", "guitar-shop", false},
		{"search segment skipped", "https://www.rakuten.co.jp/search/guitar-shop/", "guitar-shop", false},
		{"review segment skipped", "https://www.rakuten.co.jp/review/guitar-shop/", "guitar-shop", false},
		{"item-prefixed segment skipped", "https://www.rakuten.co.jp/item123/guitar-shop/", "guitar-shop", false},
		{"url-encoded input", "https%3A%2F%2Fwww.rakuten.co.jp%2Fguitar-shop%2F", "guitar-shop", false},
		{"not rakuten", "https://example.com/guitar-shop/", "", true},
		{"no usable segment", "https://www.rakuten.co.jp/search/", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractShopCode(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestSource(t *testing.T, handler http.HandlerFunc, maxItems int) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := NewFactory("app-id-123")
	f.Endpoint = srv.URL
	f.PageSize = 30

	src, err := f.ForShop("https://www.rakuten.co.jp/guitar-shop/", maxItems)
	require.NoError(t, err)
	return src.(*Source)
}

func ichibaPayload(names []string, pageCount int) map[string]any {
	items := make([]map[string]any, 0, len(names))
	for _, n := range names {
		items = append(items, map[string]any{
			"Item": map[string]any{
				"itemName": n,
				"itemPrice": 1980,
				"itemUrl":   "https://item.rakuten.co.jp/guitar-shop/" + n,
				"shopName":  "ギター工房",
				"mediumImageUrls": []map[string]any{
					{"imageUrl": "https://thumbnail.image.rakuten.co.jp/img/" + n + ".jpg?_ex=128x128"},
				},
			},
		})
	}
	return map[string]any{"Items": items, "count": len(names), "pageCount": pageCount}
}

func TestSource_NextPageMapsItems(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ichibaPayload([]string{"strat", "tele"}, 4))
	}, 0)

	pg, err := src.NextPage(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, pg.Items, 2)

	first := pg.Items[0]
	assert.Equal(t, "strat", first.Name)
	assert.Equal(t, int64(1980), first.Price)
	assert.Equal(t, "https://item.rakuten.co.jp/guitar-shop/strat", first.DetailURL)
	assert.Equal(t, "https://www.rakuten.co.jp/guitar-shop/", first.SourceRef)
	assert.Equal(t, "ギター工房", first.ShopName)
	// resize query parameters are stripped
	assert.Equal(t, "https://thumbnail.image.rakuten.co.jp/img/strat.jpg", first.ImageURL)

	assert.True(t, pg.HasMore, "cursor 1 of 4 pages")
}

func TestSource_NextPageQueryParameters(t *testing.T) {
	var got map[string]string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		json.NewEncoder(w).Encode(ichibaPayload(nil, 0))
	}, 0)

	_, err := src.NextPage(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, "json", got["format"])
	assert.Equal(t, "guitar-shop", got["shopCode"])
	assert.Equal(t, "app-id-123", got["applicationId"])
	assert.Equal(t, "30", got["hits"])
	assert.Equal(t, "2", got["page"])
	assert.Equal(t, "1", got["imageFlag"])
}

func TestSource_WrongParameterMeansEmptyPage(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "wrong_parameter",
			"error_description": "shopCode is not valid",
		})
	}, 0)

	pg, err := src.NextPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, pg.Items)
	assert.False(t, pg.HasMore)
}

func TestSource_APIErrorIsReturned(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"error":             "too_many_requests",
			"error_description": "request too frequent",
		})
	}, 0)

	_, err := src.NextPage(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request too frequent")
}

func TestSource_HTTPErrorIsReturned(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 0)

	_, err := src.NextPage(context.Background(), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestSource_HasMoreHonorsMaxItems(t *testing.T) {
	names := make([]string, 30)
	for i := range names {
		names[i] = "g"
	}

	// pageCount says there is more, but maxItems caps the run at one page
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ichibaPayload(names, 10))
	}, 30)

	pg, err := src.NextPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, pg.Items, 30)
	assert.False(t, pg.HasMore)
}

func TestSource_LastPageHasNoMore(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ichibaPayload([]string{"last"}, 3))
	}, 0)

	pg, err := src.NextPage(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, pg.HasMore)
}
