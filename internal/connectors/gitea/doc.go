// Package gitea implements the host provider for Gitea and Forgejo
// instances, including codeberg.org, over the shared rest transport.
package gitea
