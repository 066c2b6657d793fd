// Package webhooks is the store-and-forward queue between oracles.
//
// Inbound rows are written after the sender signature is recovered and the
// event validated; outbound rows are signed and posted when delivered. Every
// row follows pending -> completed, or pending -> pending (retry) -> failed
// once attempts reach the configured maximum. One processing batch runs in a
// single transaction and each row is handled inside its own savepoint.
package webhooks
