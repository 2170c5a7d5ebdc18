// Package latest picks the release a mirror's "latest" pointer should name.
//
// It is free of I/O: callers decide which releases are eligible (complete on
// disk, not drafts) and hand them in as Candidates.
//
// Ordering
//   - Prereleases are never selected.
//   - The release with the greatest UpdatedAt wins.
//   - Equal timestamps are broken by semantic version precedence when both
//     tags parse as versions ("v1.2.3", "1.2", "v2.0.0-rc.1").
//   - Anything still tied is ordered by tag name, so the result never
//     depends on listing order.
package latest
