package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/contentloop/publishd/internal/pipeline"
)

// ClassicEditorDriver automates the legacy plain-text editor, which accepts
// raw HTML directly into its text area once the Text tab is active.
type ClassicEditorDriver struct {
	engine *Engine
}

// Variant reports the detected editor variant.
func (d *ClassicEditorDriver) Variant() Variant { return VariantClassic }

// FillTitle writes the post title into the title input.
func (d *ClassicEditorDriver) FillTitle(ctx context.Context, title string) error {
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.WaitVisible(`#title`, chromedp.ByID),
		chromedp.SetValue(`#title`, title, chromedp.ByID),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("set title: %w", err))
	}
	return nil
}

// FillBody activates the Text tab and writes raw HTML into the content area.
func (d *ClassicEditorDriver) FillBody(ctx context.Context, html string) error {
	// The Text tab is absent when the rich editor is disabled site-wide; the
	// text area is already raw in that case.
	var hasTextTab bool
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.Evaluate(`document.querySelector('#content-html') !== null`, &hasTextTab),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("probe text tab: %w", err))
	}
	if hasTextTab {
		if err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Click(`#content-html`, chromedp.ByID)); err != nil {
			return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("switch to text tab: %w", err))
		}
	}
	err = d.engine.run(ctx, d.engine.cfg.StepTimeout,
		chromedp.WaitVisible(`#content`, chromedp.ByID),
		chromedp.SetValue(`#content`, html, chromedp.ByID),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindElementNotFound, fmt.Errorf("inject body html: %w", err))
	}
	return nil
}

// SetTaxonomy checks the matching category checkbox and adds tags through
// the tag box. Best-effort; the engine only logs failures.
func (d *ClassicEditorDriver) SetTaxonomy(ctx context.Context, category string, tags []string) error {
	if category != "" {
		js := fmt.Sprintf(`(function(name) {
			var labels = document.querySelectorAll('#categorychecklist li label');
			for (var i = 0; i < labels.length; i++) {
				if (labels[i].textContent.trim().toLowerCase() === name.toLowerCase()) {
					var input = labels[i].querySelector('input') || document.getElementById(labels[i].htmlFor);
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
			return fmt.Errorf("category %q not present in the checklist", category)
		}
	}

	for _, tag := range tags {
		err := d.engine.run(ctx, d.engine.cfg.StepTimeout,
			chromedp.WaitVisible(`#new-tag-post_tag`, chromedp.ByID),
			chromedp.SetValue(`#new-tag-post_tag`, tag, chromedp.ByID),
			chromedp.Click(`.tagadd`, chromedp.ByQuery),
		)
		if err != nil {
			return fmt.Errorf("add tag %q: %w", tag, err)
		}
	}
	return nil
}

// PublishOrSave clicks Publish or Save Draft and waits for the admin notice
// confirming the action.
func (d *ClassicEditorDriver) PublishOrSave(ctx context.Context, publish bool) error {
	button := `#save-post`
	if publish {
		button = `#publish`
	}
	err := d.engine.run(ctx, d.engine.cfg.ConfirmTimeout,
		chromedp.Click(button, chromedp.ByID),
		chromedp.WaitVisible(`div#message`, chromedp.ByQuery),
	)
	if err != nil {
		return pipeline.Classify(pipeline.ErrKindPublishConfirmation,
			fmt.Errorf("await save confirmation: %w", err))
	}
	return nil
}

// ExtractURL reads the permalink from the sample-permalink row or the
// confirmation notice link.
func (d *ClassicEditorDriver) ExtractURL(ctx context.Context) (string, error) {
	var permalink string
	err := d.engine.run(ctx, d.engine.cfg.StepTimeout, chromedp.Evaluate(
		`(function() {
			var sample = document.querySelector('#sample-permalink a');
			if (sample && sample.href) { return sample.href; }
			var notice = document.querySelector('#message a');
			return notice ? notice.href : '';
		})()`, &permalink))
	if err != nil {
		return "", fmt.Errorf("read permalink: %w", err)
	}
	return permalink, nil
}
