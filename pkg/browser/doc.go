// Package browser owns the live browser sessions that workflows run against.
//
// A session is one visible browser window bound to a target URL, backed by its
// own storage partition so cookies and storage never leak between sessions.
//
// # Architecture
//
// The package is built from four cooperating objects, all constructed at
// startup and passed by reference:
//
//  1. PartitionHardener: rewrites outgoing request headers once per partition
//  2. Injector: registers the anti-fingerprint script before any page script runs
//  3. LoginRedirector: routes federated-login popups through a companion window
//  4. Registry: creates, focuses and removes sessions and reports closures
//
// The browser itself sits behind the Host interface. NewPlaywrightHost provides
// the real implementation; tests drive the same objects with an in-memory host.
//
// # Session Lifecycle
//
//  1. Create: the partition is hardened, a window opens, the injector runs,
//     the login redirector is installed and the URL is loaded
//  2. Use: plans are evaluated in the session's view
//  3. Close: the user closes the window or Remove is called; every listener
//     is unsubscribed and a closure notification is emitted
//
// # Example Usage
//
//	host, err := browser.NewPlaywrightHost(browser.PlaywrightOptions{Logger: log})
//	registry := browser.NewRegistry(host, browser.RegistryOptions{Logger: log})
//	id, err := registry.Create(ctx, "https://example.com/signup")
//	defer registry.CloseAll()
package browser
