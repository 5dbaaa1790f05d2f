// Package crawler holds the document model, the error taxonomy, and the
// interfaces (store, fetcher, enricher, archive, publisher) that the ingest
// pipeline, storage backends and read API share.
package crawler
