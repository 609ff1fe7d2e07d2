package catalog

import "context"

// ItemSource port: sumber item yang dipaginasi secara lazy.
// cursor adalah index halaman yang diminta (1-based). Implementasi remote
// mengembalikan halaman berukuran tetap; implementasi file mengembalikan
// seluruh baris sebagai satu halaman besar.
//
// Kegagalan transport TIDAK di-retry di layer ini; controller yang memutuskan
// nasib sesi (abort / keep partial results).
type ItemSource interface {
	NextPage(ctx context.Context, cursor int) (Page, error)
}

// SourceFactory membuat ItemSource untuk satu target shop.
// maxItems membatasi jumlah item yang akan dilaporkan HasMore oleh source.
type SourceFactory interface {
	ForShop(shopURL string, maxItems int) (ItemSource, error)
}
