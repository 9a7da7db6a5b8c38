// Package harvest holds the types and collaborator contracts shared by the
// crawling, ingestion and orchestration packages.
package harvest
