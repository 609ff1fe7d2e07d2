package catalog

// Item satu entri katalog yang akan diperiksa.
// Immutable setelah dibuat oleh ItemSource.
type Item struct {
	Name      string `json:"name"`
	Price     int64  `json:"price,omitempty"`
	ImageURL  string `json:"image_url,omitempty"`
	DetailURL string `json:"detail_url,omitempty"`
	SourceRef string `json:"source_ref"` // shop URL atau nama file asal
	ShopName  string `json:"shop_name,omitempty"`
}

// Page satu halaman hasil retrieval dari sebuah ItemSource.
type Page struct {
	Items   []Item
	HasMore bool
}
