// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - HostProvider: Reads repositories, issues, pull requests and comments from a host
//   - HostProviderFactory: Detects the host family of a URL and builds its provider
//   - RelayPublisher: Publishes signed events to relays
//   - RelayQuerier: Streams events matching filters from relays
//   - Signer: Signs events with the active identity
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - TokenProvider: Host tokens. Without it, hosts are called anonymously.
//   - GitEngine: Local clone/fetch/push. Without it, GitOperations rejects requests.
//   - DataLevelStore: Persists data levels. Without it, levels live in memory only.
//   - ImportRunStore: Import history. Without it, runs are not recorded.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or connector package
package driven
