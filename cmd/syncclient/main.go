// Command syncclient is the end-user CLI for the sync service (spec.md §4.9,
// §6): login/logout, a one-shot or continuous sync cycle, status, and
// conflict listing/resolution. Grounded on onedrive-go's main.go/root.go
// cobra composition.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
