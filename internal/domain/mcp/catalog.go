package mcp

import (
	"net/http"
	"sort"
)

// ParamHint はオペレーション引数のヒント
type ParamHint struct {
	Name     string
	Type     string
	Required bool
}

// CatalogEntry はオラクルに提示するオペレーション定義
type CatalogEntry struct {
	Name        string
	Description string
	Method      string // HTTPバックエンドでのメソッド
	Params      []ParamHint
}

// Catalog はオペレーションカタログ
type Catalog struct {
	entries []CatalogEntry
}

// NewCatalog は新しいCatalogを作成
func NewCatalog(entries ...CatalogEntry) *Catalog {
	return &Catalog{entries: entries}
}

// DefaultCatalog はストアフロントの標準オペレーションを返す
func DefaultCatalog() *Catalog {
	return NewCatalog(
		CatalogEntry{
			Name:        "get_product",
			Description: "Get a single product by its id",
			Method:      http.MethodPost,
			Params:      []ParamHint{{Name: "product_id", Type: "string", Required: true}},
		},
		CatalogEntry{
			Name:        "search_products",
			Description: "Search products by free-text query",
			Method:      http.MethodGet,
			Params: []ParamHint{
				{Name: "query", Type: "string", Required: true},
				{Name: "limit", Type: "integer"},
			},
		},
		CatalogEntry{
			Name:        "get_categories",
			Description: "List all product categories",
			Method:      http.MethodPost,
		},
		CatalogEntry{
			Name:        "get_products_by_category",
			Description: "List products in a category",
			Method:      http.MethodGet,
			Params: []ParamHint{
				{Name: "category", Type: "string", Required: true},
				{Name: "limit", Type: "integer"},
			},
		},
	)
}

// Entries はカタログの全エントリを返す
func (c *Catalog) Entries() []CatalogEntry {
	out := make([]CatalogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Lookup は名前でエントリを探す
func (c *Catalog) Lookup(name string) (CatalogEntry, bool) {
	for _, e := range c.entries {
		if e.Name == name {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// QueryOperations は GET で呼び出すオペレーション名をソートして返す
func (c *Catalog) QueryOperations() []string {
	var names []string
	for _, e := range c.entries {
		if e.Method == http.MethodGet {
			names = append(names, e.Name)
		}
	}
	sort.Strings(names)
	return names
}
