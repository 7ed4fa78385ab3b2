// Package files implements the on-disk naming convention for datasets:
// raw CSV discovery and the domain=<name>/ parquet partition layout shared
// by every pipeline stage.
package files
