// Package triage is the business boundary for sift's message triage
// engine. It defines the Service (ingest, enrichment dispatch, review,
// summaries, follow-up actions), the Enricher (classification and
// embedding with graceful degradation), the pure ranking function, the
// Store interface, and the domain models.
//
// One policy worth knowing before touching the follow-up code: any
// OpenFollowup call re-opens a done follow-up. New evidence re-opening
// an item is deliberate, and items can "keep coming back" because of
// it. Confirm intent before changing that behavior.
package triage
