/*
Package message provides the types and functions used to work with guarantee
messages: the six supported kinds, the processing status state machine, the
ingestion envelope, the per-kind field parsers and the business-rule
validator.

Adding a new kind requires a code/name entry in kind.go, a typed field set in
fields.go and a parser registered in parser.go. The orchestrator does not need
to change.
*/
package message
