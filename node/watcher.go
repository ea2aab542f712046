package node

import (
	"go.uber.org/zap"

	"github.com/andydunstall/swimrelay/pkg/log"
	"github.com/andydunstall/swimrelay/pkg/swim"
)

// logWatcher logs membership changes.
type logWatcher struct {
	logger log.Logger
}

func newLogWatcher(logger log.Logger) *logWatcher {
	return &logWatcher{
		logger: logger.WithSubsystem("swim.watcher"),
	}
}

func (w *logWatcher) OnJoin(addr swim.PeerAddress) {
	w.logger.Info(
		"node joined",
		zap.String("addr", addr.String()),
		zap.Int("parents", len(addr.Parents)),
	)
}

func (w *logWatcher) OnSuspect(id swim.NodeID) {
	w.logger.Info("node suspected", zap.String("id", id.String()))
}

func (w *logWatcher) OnAlive(id swim.NodeID) {
	w.logger.Info("node alive", zap.String("id", id.String()))
}

func (w *logWatcher) OnDead(id swim.NodeID) {
	w.logger.Warn("node dead", zap.String("id", id.String()))
}

var _ swim.Watcher = &logWatcher{}
