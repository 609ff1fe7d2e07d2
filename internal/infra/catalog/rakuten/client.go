package rakuten

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ryotask/ecpatrol/internal/domain/catalog"
)

const (
	// Ichiba item search API
	defaultEndpoint = "https://app.rakuten.co.jp/services/api/IchibaItem/Search/20170706"
	defaultPageSize = 30
)

// Factory builds paginated ItemSources untuk satu shop Rakuten.
type Factory struct {
	AppID    string
	Endpoint string // optional override, dipakai juga untuk test
	HTTP     *http.Client
	PageSize int
}

func NewFactory(appID string) *Factory {
	return &Factory{
		AppID: appID,
		HTTP:  &http.Client{Timeout: 30 * time.Second},
	}
}

// ForShop implements catalog.SourceFactory. Shop code diekstrak dari URL di
// sini supaya URL jelek ketahuan sebelum sesi dibuat.
func (f *Factory) ForShop(shopURL string, maxItems int) (catalog.ItemSource, error) {
	code, err := ExtractShopCode(shopURL)
	if err != nil {
		return nil, err
	}
	return &Source{f: f, shopURL: shopURL, shopCode: code, maxItems: maxItems}, nil
}

// ExtractShopCode derives the shop code from a storefront URL. Service path
// segments (search/category/event/review/gold) are skipped; on
// item.rakuten.co.jp the first segment is the shop.
func ExtractShopCode(raw string) (string, error) {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid shop URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if !strings.Contains(host, "rakuten.co.jp") && !strings.Contains(host, "rakuten.ne.jp") {
		return "", fmt.Errorf("not a rakuten shop URL: %s", host)
	}

	var parts []string
	for _, p := range strings.Split(u.Path, "/") {
		if p != "" && p != "gold" {
			parts = append(parts, p)
		}
	}

	if strings.Contains(host, "item.rakuten.co.jp") && len(parts) > 0 {
		return parts[0], nil
	}

	ignored := map[string]bool{"search": true, "category": true, "event": true, "review": true}
	for _, p := range parts {
		if !ignored[p] && !strings.HasPrefix(p, "item") {
			return p, nil
		}
	}
	return "", fmt.Errorf("could not determine shop code from %s", raw)
}

// Source adalah ItemSource remote: satu halaman = 30 item dari search API.
type Source struct {
	f        *Factory
	shopURL  string
	shopCode string
	maxItems int
}

// bentuk response Ichiba yang kita pakai
type searchResponse struct {
	Items []struct {
		Item struct {
			ItemName        string `json:"itemName"`
			ItemPrice       int64  `json:"itemPrice"`
			ItemURL         string `json:"itemUrl"`
			ShopName        string `json:"shopName"`
			MediumImageURLs []struct {
				ImageURL string `json:"imageUrl"`
			} `json:"mediumImageUrls"`
		} `json:"Item"`
	} `json:"Items"`
	Count            int    `json:"count"`
	PageCount        int    `json:"pageCount"`
	APIError         string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NextPage fetches one fixed-size page. Transport failures are returned as-is
// (tidak di-retry di layer ini); controller yang memutuskan abort.
func (s *Source) NextPage(ctx context.Context, cursor int) (catalog.Page, error) {
	if cursor < 1 {
		cursor = 1
	}
	pageSize := s.f.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	endpoint := s.f.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	q := url.Values{}
	q.Set("format", "json")
	q.Set("shopCode", s.shopCode)
	q.Set("applicationId", s.f.AppID)
	q.Set("hits", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(cursor))
	q.Set("imageFlag", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return catalog.Page{}, err
	}
	resp, err := s.f.HTTP.Do(req)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return catalog.Page{}, fmt.Errorf("catalog search: status %d", resp.StatusCode)
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return catalog.Page{}, fmt.Errorf("catalog search: decode: %w", err)
	}
	if sr.APIError != "" {
		// wrong_parameter berarti shop valid tapi tidak ada hasil
		if sr.APIError == "wrong_parameter" {
			return catalog.Page{}, nil
		}
		msg := sr.ErrorDescription
		if msg == "" {
			msg = sr.APIError
		}
		return catalog.Page{}, fmt.Errorf("catalog search: %s", msg)
	}

	items := make([]catalog.Item, 0, len(sr.Items))
	for _, w := range sr.Items {
		it := catalog.Item{
			Name:      w.Item.ItemName,
			Price:     w.Item.ItemPrice,
			DetailURL: w.Item.ItemURL,
			SourceRef: s.shopURL,
			ShopName:  w.Item.ShopName,
		}
		if len(w.Item.MediumImageURLs) > 0 {
			// buang query string (parameter resize)
			it.ImageURL, _, _ = strings.Cut(w.Item.MediumImageURLs[0].ImageURL, "?")
		}
		items = append(items, it)
	}

	hasMore := len(items) > 0 && cursor < sr.PageCount
	if s.maxItems > 0 && cursor*pageSize >= s.maxItems {
		hasMore = false
	}
	return catalog.Page{Items: items, HasMore: hasMore}, nil
}
