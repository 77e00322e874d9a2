// Package artifacts persists the files of a finished run.
//
// FSStore writes the final file set into a timestamped directory, moves
// whatever else the run left in the working tree next to it, and clears the
// working tree. An optional Mirror (S3Mirror for S3-compatible buckets)
// receives a copy of each persisted directory.
package artifacts
