// Package nostr implements the decentralized host provider. Repositories,
// issues, patches and comments are read back from relays instead of a REST
// API, so a repository already published as events can be imported again.
package nostr
