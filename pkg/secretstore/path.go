package secretstore

import "strings"

// Path is a parsed secret address of the form store[/secret[@key]]
type Path struct {
	Original string
	Store    string
	Secret   string
	Key      string
}

// ParsePath splits text into store, secret and key. The store is everything
// before the first '/', the key everything after the '@' that follows it.
// Only the shape is checked; whether the store or secret exists is the
// caller's concern.
func ParsePath(text string) Path {
	p := Path{Original: text}

	store, rest, found := strings.Cut(text, "/")
	p.Store = store
	if !found {
		return p
	}
	p.Secret, p.Key = SplitAddress(rest)
	return p
}

// Complete reports whether the path names a concrete secret
func (p Path) Complete() bool {
	return p.Secret != ""
}

// String renders the canonical form of the path
func (p Path) String() string {
	if p.Secret == "" {
		return p.Store
	}
	s := p.Store + "/" + p.Secret
	if p.Key != "" {
		s += "@" + p.Key
	}
	return s
}

// SplitAddress splits a store-less "secret@key" address
func SplitAddress(address string) (secret, key string) {
	secret, key, _ = strings.Cut(address, "@")
	return secret, key
}
