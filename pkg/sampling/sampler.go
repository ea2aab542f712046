// Package sampling provides the peer sampling service used by nated nodes to
// discover open parent candidates.
//
// Each interval the sampler queries its sources for known addresses, keeps
// only open nodes, and emits a uniformly random sample. A sample that hasn't
// been consumed is replaced by the next one so consumers always see the most
// recent view.
package sampling

import (
	"context"
	"math/rand"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

type Sampler struct {
	conf *Config

	sources []Source

	samplesCh chan []swim.PeerAddress

	rand  *rand.Rand
	clock clock.Clock

	logger log.Logger
}

func NewSampler(
	conf *Config,
	sources []Source,
	seed int64,
	clock clock.Clock,
	logger log.Logger,
) *Sampler {
	return &Sampler{
		conf:      conf,
		sources:   sources,
		samplesCh: make(chan []swim.PeerAddress, 1),
		rand:      rand.New(rand.NewSource(seed)),
		clock:     clock,
		logger:    logger.WithSubsystem("sampling"),
	}
}

// AddSource adds a source to sample from. Must be called before Run.
func (s *Sampler) AddSource(source Source) {
	s.sources = append(s.sources, source)
}

// Samples returns a channel of address samples.
func (s *Sampler) Samples() <-chan []swim.PeerAddress {
	return s.samplesCh
}

// Run emits a sample immediately then every interval until the context is
// cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.conf.Interval)
	defer ticker.Stop()

	s.emit(ctx)
	for {
		select {
		case <-ticker.C:
			s.emit(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sample returns up to Size random open addresses from the sources. Sources
// that fail are skipped, and their errors are returned alongside the sample.
func (s *Sampler) Sample(ctx context.Context) ([]swim.PeerAddress, error) {
	var errs error
	seen := make(map[swim.NodeID]struct{})
	var candidates []swim.PeerAddress
	for _, source := range s.sources {
		peers, err := source.Peers(ctx)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		for _, peer := range peers {
			if !peer.IsOpen() {
				continue
			}
			if _, ok := seen[peer.ID]; ok {
				continue
			}
			seen[peer.ID] = struct{}{}
			candidates = append(candidates, peer.Clone())
		}
	}

	s.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if len(candidates) > s.conf.Size {
		candidates = candidates[:s.conf.Size]
	}
	return candidates, errs
}

func (s *Sampler) emit(ctx context.Context) {
	sample, err := s.Sample(ctx)
	if err != nil {
		s.logger.Warn("failed to query sources", zap.Error(err))
	}
	if len(sample) == 0 {
		return
	}

	// Replace any unconsumed sample.
	select {
	case <-s.samplesCh:
	default:
	}
	select {
	case s.samplesCh <- sample:
	default:
	}

	s.logger.Debug("sample", zap.Int("size", len(sample)))
}

var _ swim.Sampler = &Sampler{}
