// Package bitbucket implements the host provider for Bitbucket Cloud over
// the shared rest transport.
//
// Bitbucket pages carry their "next" link in the response body rather than
// a Link header, and issue ids double as issue numbers. The issue "kind"
// (bug, enhancement, ...) is imported as a label.
package bitbucket
