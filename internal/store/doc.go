// Package store defines the persistence contracts shared by the concrete
// storage implementations: the DBTX abstraction over connections and
// transactions, and the sentinel errors storage layers translate into.
package store
