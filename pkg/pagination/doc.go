// Package pagination follows paginated upstream endpoints to exhaustion.
//
// Pages are fetched strictly one at a time: the request for page n+1 is
// derived from the response of page n, so nothing is prefetched or
// reordered. A Paginator is a single-use forward iterator.
//
// Example usage:
//
//	p := pagination.New(exec, req, pagination.Options{
//		Schema: schema.MustJSON(schema.Array(nil)),
//		Next:   pagination.LinkNext,
//	})
//	for p.Next(ctx) {
//		page := p.Page()
//		// store page.Data
//	}
//	if err := p.Err(); err != nil {
//		return err
//	}
//
// Two continuation strategies are provided: LinkNext follows the
// Link: <...>; rel="next" header used by GitHub, and Offset advances a
// startAt query parameter against the total reported in the body, as Jira
// search does.
//
// MaxPages guards against runaway pagination; exceeding it fails with
// ErrTooManyPages.
package pagination
