// Package relay implements the inbox relay contract: the HTTP client
// used by the secure channel (create/list/post/fetch/delete) and a
// conforming reference server.
//
// The relay is untrusted. It sees only encrypted notification bytes and
// inbox metadata; listing and deletion require the bearer owner code
// issued at inbox creation, posting does not.
package relay
