// Package secretstore defines the key store abstraction used by quick-manage.
//
// A key store holds named secrets. Each secret carries free-form metadata and
// any number of named sub-keys, so one certificate secret can keep its
// "fullchain", "private", "chain" and "cert" material side by side:
//
//	web/example.com@fullchain
//	web/example.com@private
//
// # Names
//
// Secret names start and end with a letter, digit or underscore and may
// contain '.', '-' and '/' in between. Sub-key names follow the same rule but
// may not contain '/'. A missing sub-key means DefaultKey ("value").
//
// # Addresses
//
// ParsePath understands the full address grammar:
//
//	<store>[/<secret>[@<key>]]
//
// A path without a secret is store-only and is used for listing. Parsing is
// purely syntactic:
//
//	p := secretstore.ParsePath("local/web/example.com@private")
//	// p.Store == "local", p.Secret == "web/example.com", p.Key == "private"
//
// # Backends
//
// Concrete stores live in internal/keystores and are built from declarative
// records through a builder.Registry. Every backend must produce the same
// Secret view for the same sequence of operations; the keystores package runs
// one contract suite against all of them.
//
// # Errors
//
// Backends report failures with the kinds from internal/errors:
//   - NotFoundError for a missing secret or sub-key
//   - ValidationError for an illegal secret or key name
//   - SecurityError when a name would resolve outside the store's root
//   - ConnectivityError for transport failures of remote backends
package secretstore
