// Package pagination collects records from paginated listings in parallel.
//
// A Collector fetches the base page, discovers the total page count from it,
// fans out one fetch per page through a worker pool and merges the extracted
// records strictly by page index, never by completion order.
//
// Example usage:
//
//	plan := pagination.Plan[novel.Chapter]{
//		PageURL:   pagination.QueryPage("p"),
//		PageCount: pagination.LastPageLink(".c-pager__item--last"),
//		Extract:   site.ExtractChapters,
//	}
//	collector, err := pagination.NewCollector(gatedClient, plan, pagination.DefaultConfig())
//	chapters, err := collector.Collect(ctx, "https://novel18.example.com/n1234ab/")
//
// The collector:
//   - extracts a single-page listing from the base body without further requests
//   - requests pages 1..N concurrently (MaxConcurrency workers, 0 means one per page)
//   - keeps pages that yield no records as empty entries at their index
//   - never aborts on a failed page; it returns a *PartialCollectionError
//     carrying the merged records and the missing page indices
//   - on cancellation stops dispatching, stops waiting for in-flight pages and
//     returns what was received as a cancelled *PartialCollectionError
package pagination
