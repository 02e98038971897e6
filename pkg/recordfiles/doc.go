// Package recordfiles provides a library for records and the files they
// contain, with pluggable repository and blob storage backends.
//
// A record owns file entries addressed by key. A file is initialized as
// pending, receives its content, and becomes visible once committed.
// Lifecycle hooks run inside the committing (or deleting) unit of work, so
// anything they write through HookEvent.Store commits or rolls back with the
// file that triggered them. The derived subpackage uses this to generate
// thumbnails and fulltext next to their primary file and to remove them
// again when the primary is deleted.
//
// # Derived Artifacts
//
// Artifacts are ordinary file entries. They carry their kind and the key of
// their primary in metadata (see File.Kind and File.SourceKey), and their
// keys are computed by the artifactkey package:
//
//	doc.pdf -> doc-pdf.jpg, doc-pdf.txt
//
// Implementations of repositories (memory, Postgres) and blob stores
// (memory, filesystem, S3, GCS) live under subpackages.
package recordfiles
