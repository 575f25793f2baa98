// Package cli turns command-line flags into an app.Config. Help requests
// and usage errors come back as ExitError values carrying the exit code
// main should use.
package cli
