package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/contentloop/publishd/internal/pipeline"
)

// BlockEditorDriver automates the modern block-based editor. Raw HTML cannot
// be typed into the visual canvas (it would be auto-converted into blocks
// character by character), so the driver switches the editor into its
// raw-HTML code mode before injecting content.
type BlockEditorDriver struct {
	engine *Engine
}

// Variant reports the detected editor variant.
func (d *BlockEditorDriver) Variant() Variant { return VariantBlock }

// FillTitle sets the post title through the editor's data store, which is
// immune to the title field moving between editor releases.
func (d *BlockEditorDriver) FillTitle(ctx context.Context, title string) error {
	js := fmt.Sprintf(
		`wp.data.dispatch('core/editor').editPost({ title: %s }); true`,
		jsString(title),
	)
	var ok bool
	if err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("set title: %w", err))
	}
	return nil
}

// FillBody switches to the code editor and writes the generated HTML into
// the raw text area.
func (d *BlockEditorDriver) FillBody(ctx context.Context, html string) error {
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.Evaluate(`wp.data.dispatch('core/edit-post').switchEditorMode('text'); true`, nil),
		chromedp.WaitVisible(`.editor-post-text-editor`, chromedp.ByQuery),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("switch to code editor: %w", err))
	}

	// The text area is a controlled component; it only notices values that
	// arrive with an input event.
	js := fmt.Sprintf(`(function(html) {
		var ta = document.querySelector('.editor-post-text-editor');
		if (!ta) { return false; }
		var setter = Object.getOwnPropertyDescriptor(window.HTMLTextAreaElement.prototype, 'value').set;
		setter.call(ta, html);
		ta.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})(%s)`, jsString(html))
	var ok bool
	if err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Evaluate(js, &ok)); err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("inject body html: %w", err))
	}
	if !ok {
		return pipeline.Errorf(pipeline.ErrKindElementNotFound, "code editor text area not found")
	}
	return nil
}

// SetTaxonomy assigns the category by label and types tags into the token
// field. Best-effort; the engine only logs failures.
func (d *BlockEditorDriver) SetTaxonomy(ctx context.Context, category string, tags []string) error {
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.Evaluate(`wp.data.dispatch('core/edit-post').openGeneralSidebar('edit-post/document'); true`, nil),
	)
	if err != nil {
		return fmt.Errorf("open document sidebar: %w", err)
	}

	if category != "" {
		js := fmt.Sprintf(`(function(name) {
			var labels = document.querySelectorAll('.editor-post-taxonomies__hierarchical-terms-list label');
			for (var i = 0; i < labels.length; i++) {
				if (labels[i].textContent.trim().toLowerCase() === name.toLowerCase()) {
					var input = document.getElementById(labels[i].htmlFor);
					if (input && !input.checked) { input.click(); }
					return true;
				}
			}
			return false;
		})(%s)`, jsString(category))
		var found bool
		if err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Evaluate(js, &found)); err != nil {
			return fmt.Errorf("set category: %w", err)
		}
		if !found {
			return fmt.Errorf("category %q not present in the terms list", category)
		}
	}

	for _, tag := range tags {
		err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
			chromedp.WaitVisible(`.components-form-token-field__input`, chromedp.ByQuery),
			chromedp.SendKeys(`.components-form-token-field__input`, tag+"\n", chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("add tag %q: %w", tag, err)
		}
	}
	return nil
}

// PublishOrSave triggers the publish flow (two-click confirmation panel) or
// saves a draft, and waits for the respective confirmation.
func (d *BlockEditorDriver) PublishOrSave(ctx context.Context, publish bool) error {
	if !publish {
		err := d.engine.run(ctx, d.engine.cfg.ConfirmTimeout,
			chromedp.Click(`button.editor-post-save-draft`, chromedp.ByQuery),
			chromedp.WaitVisible(`.editor-post-saved-state.is-saved`, chromedp.ByQuery),
		)
		if err != nil {
			return pipeline.Classify(pipeline.ErrKindPublishConfirmation, fmt.Errorf("save draft: %w", err))
		}
		return nil
	}

	err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.Click(`.editor-post-publish-button__button`, chromedp.ByQuery),
		chromedp.WaitVisible(`.editor-post-publish-panel`, chromedp.ByQuery),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindPublishConfirmation, fmt.Errorf("open publish panel: %w", err))
	}
	err = d.engine.run(ctx, d.engine.cfg.ConfirmTimeout,
		chromedp.Click(`.editor-post-publish-panel__header-publish-button button`, chromedp.ByQuery),
		chromedp.WaitVisible(`.post-publish-panel__postpublish`, chromedp.ByQuery),
	)
	if err != nil {
		// The article may or may not be live; treating this as failed gets
		// the job retried instead of silently lost.
		return pipeline.Classify(pipeline.ErrKindPublishConfirmation, fmt.Errorf("await publish confirmation: %w", err))
	}
	return nil
}

// ExtractURL reads the permalink from the editor's data store, falling back
// to the post-publish address field.
func (d *BlockEditorDriver) ExtractURL(ctx context.Context) (string, error) {
	var permalink string
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Evaluate(
		`(function() {
			var link = wp.data.select('core/editor').getPermalink();
			if (link) { return link; }
			var input = document.querySelector('.post-publish-panel__postpublish-post-address input');
			return input ? input.value : '';
		})()`, &permalink))
	if err != nil {
		return "", fmt.Errorf("read permalink: %w", err)
	}
	return permalink, nil
}

// jsString renders s as a safely quoted JavaScript string literal.
func jsString(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		// json.Marshal of a string cannot fail; keep the compiler honest.
		return `""`
	}
	return string(b)
}
