// Package responses renders JSON envelopes and RFC 7807 problem documents
// for the introspection API.
package responses
