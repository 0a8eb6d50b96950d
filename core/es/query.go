package es

// QueryOptions filters event reads. It is used for external reads and
// internally for locating events to apply or react to.
type QueryOptions struct {
	// MinSeq and MaxSeq bound the sequence range, inclusive. 0 = unbounded.
	MinSeq uint64
	MaxSeq uint64
	// Stream restricts results to one stream when non-empty.
	Stream string
	// Unreacted selects only entries with at least one reactor state that is
	// not complete-successful.
	Unreacted bool
	// Reacted selects only fully reacted entries.
	Reacted bool
}

type QueryOption func(*QueryOptions)

func WithMinSeq(seq uint64) QueryOption { return func(q *QueryOptions) { q.MinSeq = seq } }
func WithMaxSeq(seq uint64) QueryOption { return func(q *QueryOptions) { q.MaxSeq = seq } }
func WithSeqRange(min, max uint64) QueryOption {
	return func(q *QueryOptions) { q.MinSeq, q.MaxSeq = min, max }
}
func WithStream(name string) QueryOption { return func(q *QueryOptions) { q.Stream = name } }
func WithUnreactedOnly() QueryOption     { return func(q *QueryOptions) { q.Unreacted = true } }
func WithReactedOnly() QueryOption       { return func(q *QueryOptions) { q.Reacted = true } }

func newQueryOptions(opts ...QueryOption) QueryOptions {
	var q QueryOptions
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

func (q QueryOptions) matches(e *Entry) bool {
	if q.MinSeq != 0 && e.Seq < q.MinSeq {
		return false
	}
	if q.MaxSeq != 0 && e.Seq > q.MaxSeq {
		return false
	}
	if q.Stream != "" && e.Stream != q.Stream {
		return false
	}
	if q.Unreacted && e.FullyReacted() {
		return false
	}
	if q.Reacted && !e.FullyReacted() {
		return false
	}
	return true
}
