package model

// Document is a file to attach to an analysis job.
type Document struct {
	Name string
	Data []byte
}

// CatalogEntry is a downloadable document discovered by an external catalog
// (for example a scraped investor-relations page). Locator is either a local
// file path or an http(s) URL.
type CatalogEntry struct {
	Category string
	Name     string
	Locator  string
}
