// Package archive packages a directory subtree into a single zip archive.
//
// [Collect] walks the subtree, skipping hidden files and pruning hidden
// directories (names starting with "."). A [Builder] then writes the entries
// into a scratch archive:
//
//   - Up to Threshold entries (default 20) are written in one pass.
//   - Larger trees are split round-robin into Workers groups (default 4),
//     entry i going to group i mod Workers. Each group is compressed into its
//     own partial archive on a bounded pool of goroutines, and the partials
//     are joined by [Merge] once every worker has finished.
//
// Merging copies the already compressed entries verbatim, so nothing is
// compressed twice. Entries appear in partial order, then in walk order within
// each partial; for a given tree the layout is reproducible.
//
// Source files that vanish or cannot be read between the walk and the write
// are skipped: a directory being archived is not expected to hold still.
// Failures writing scratch files abort the build and remove every partial.
package archive
