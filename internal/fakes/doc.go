// Package fakes provides in-memory stand-ins for the AWS SDK clients used by
// the object-storage file shim and the AWS-backed key stores. They satisfy
// the narrow client interfaces those packages declare, so tests can inject
// them with the usual WithXClient options.
package fakes
