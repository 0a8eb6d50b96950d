package es

// Projection is the materialized state derived by folding events through
// stream handlers. The engine treats the value as opaque beyond cloning:
// apply passes fold into a clone and swap it in on success, so a failed or
// cancelled pass never leaves a partial fold observable.
type Projection interface {
	// Clone returns a deep copy that handlers may mutate independently of the
	// receiver.
	Clone() Projection
}

// MigrateFunc upgrades an encoded projection value from an older schema
// version to the current one. It is invoked at load when the stored version
// differs from the configured one, before decoding.
type MigrateFunc func(fromVersion int, data []byte) ([]byte, error)
