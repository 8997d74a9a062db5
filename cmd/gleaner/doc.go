// Command gleaner inspects the enrichment queue, triggers item and batch
// runs, and hosts the daemon.
//
// One-shot commands open the queue database directly and share it safely
// with a running daemon: item leases keep two processes from enriching the
// same item, and the sweeper only resets items whose lease has lapsed.
//
//	gleaner config init
//	gleaner queue list|show|add|stats|retry|sweep|forget-raw
//	gleaner enrich <id> [--step STEP] [--return-status STATUS] [--skip-thumbnail]
//	gleaner batch [--limit N]
//	gleaner discover <feed-url>
//	gleaner doctor [--notify]
//	gleaner logs [--item ID] [--follow]
//	gleaner serve
package main
