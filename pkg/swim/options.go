package swim

import (
	"github.com/benbjohnson/clock"

	"github.com/andydunstall/swimrelay/pkg/log"
)

// Sampler streams samples of node addresses, used as parent candidates by
// nated nodes.
type Sampler interface {
	Samples() <-chan []PeerAddress
}

type options struct {
	sampler    Sampler
	aggregator *PeerAddress
	bootstrap  []PeerAddress
	watcher    Watcher
	clock      clock.Clock
	seed       int64
	metrics    *Metrics
	logger     log.Logger
}

type Option interface {
	apply(*options)
}

func defaultOptions() options {
	return options{
		watcher: newNopWatcher(),
		clock:   clock.New(),
		seed:    1,
		metrics: NewMetrics(),
		logger:  log.NewNopLogger(),
	}
}

type samplerOption struct {
	Sampler Sampler
}

func (o samplerOption) apply(opts *options) {
	opts.sampler = o.Sampler
}

// WithSampler sets the sampler providing parent candidates.
func WithSampler(s Sampler) Option {
	return samplerOption{Sampler: s}
}

type aggregatorOption struct {
	Aggregator PeerAddress
}

func (o aggregatorOption) apply(opts *options) {
	aggregator := o.Aggregator
	opts.aggregator = &aggregator
}

// WithAggregator sets the node to send status reports to.
func WithAggregator(addr PeerAddress) Option {
	return aggregatorOption{Aggregator: addr}
}

type bootstrapOption struct {
	Bootstrap []PeerAddress
}

func (o bootstrapOption) apply(opts *options) {
	opts.bootstrap = o.Bootstrap
}

// WithBootstrap sets the initial known members.
func WithBootstrap(addrs []PeerAddress) Option {
	return bootstrapOption{Bootstrap: addrs}
}

type watcherOption struct {
	Watcher Watcher
}

func (o watcherOption) apply(opts *options) {
	opts.watcher = o.Watcher
}

func WithWatcher(w Watcher) Option {
	return watcherOption{Watcher: w}
}

type clockOption struct {
	Clock clock.Clock
}

func (o clockOption) apply(opts *options) {
	opts.clock = o.Clock
}

func WithClock(c clock.Clock) Option {
	return clockOption{Clock: c}
}

type seedOption struct {
	Seed int64
}

func (o seedOption) apply(opts *options) {
	opts.seed = o.Seed
}

// WithSeed sets the seed of the random source used to select members and
// parents.
func WithSeed(seed int64) Option {
	return seedOption{Seed: seed}
}

type metricsOption struct {
	Metrics *Metrics
}

func (o metricsOption) apply(opts *options) {
	opts.metrics = o.Metrics
}

func WithMetrics(m *Metrics) Option {
	return metricsOption{Metrics: m}
}

type loggerOption struct {
	Logger log.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.Logger
}

func WithLogger(l log.Logger) Option {
	return loggerOption{Logger: l}
}
