package browser

import "context"

// Variant identifies which of the two admin editor UIs was detected.
type Variant string

// Editor variants the detection probe can report.
const (
	VariantBlock   Variant = "block"
	VariantClassic Variant = "classic"
)

// EditorDriver abstracts the automation sequence for one editor variant.
// The two variants need structurally different flows (the block editor must
// be switched into a raw-HTML input mode before content can be pasted, while
// the classic editor accepts raw HTML straight into its text area), so the
// state machine selects a driver once after detection and never branches on
// the variant again. Selector drift stays isolated inside one driver.
type EditorDriver interface {
	Variant() Variant
	FillTitle(ctx context.Context, title string) error
	FillBody(ctx context.Context, html string) error
	// SetTaxonomy is best-effort: callers log failures without failing the
	// job, since a missing category does not prevent a usable publish.
	SetTaxonomy(ctx context.Context, category string, tags []string) error
	PublishOrSave(ctx context.Context, publish bool) error
	// ExtractURL reads the resulting permalink from the page. An error or
	// empty result triggers the caller's slug fallback.
	ExtractURL(ctx context.Context) (string, error)
}
