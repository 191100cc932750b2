// Package tokensync gathers token metadata from many per-node SQLite databases
// into a single central relational store.
//
// Each node keeps its own local ledger,
// a database at <node>/Rubix/rubix.db,
// next to a content-addressed store
// (an IPFS repository)
// that holds a small payload for every token.
// A sync run finds every such database beneath a root directory,
// reads its token rows,
// asks the node's own content store for each token's payload,
// and upserts the enriched rows into the central store.
//
// Runs are incremental.
// A source database whose modification time has not advanced
// since it was last fully committed
// is skipped without being opened.
//
// Rows are keyed by token id,
// the network address of the machine running the sync,
// and the node name.
// The same token id reported by two nodes therefore yields two rows,
// which is what makes cross-node auditing possible
// (see the Mismatches method in the central subpackage).
//
// This package holds the data model, the configuration,
// and the Fetcher capability used for enrichment.
// The pipeline stages live in subpackages:
// source (discovery and endpoint resolution),
// extract, enrich, central, tracker,
// and syncer, which drives them all.
package tokensync
