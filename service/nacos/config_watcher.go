package nacos

import (
	"context"
	"sync"

	"PPLive/logger"
	"PPLive/tools/errs"

	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
)

// Source is the part of the Nacos config client the watcher uses.
type Source interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
}

// Watcher loads one data id and hands every change to apply.
type Watcher struct {
	src    Source
	dataID string
	group  string
	apply  func(string) error

	mu      sync.RWMutex
	current string
}

func NewWatcher(src Source, dataID, group string, apply func(string) error) *Watcher {
	return &Watcher{src: src, dataID: dataID, group: group, apply: apply}
}

// Start reads the content once, applies it and subscribes to changes until
// ctx is done. A failed first read is returned; a bad later update is logged
// and the previous configuration stays in force.
func (w *Watcher) Start(ctx context.Context) error {
	content, err := w.src.GetConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	if err != nil {
		return errs.WrapMsg(err, "nacos get config", "dataId", w.dataID, "group", w.group)
	}
	if content != "" {
		if err := w.update(content); err != nil {
			return err
		}
	}

	param := vo.ConfigParam{
		DataId: w.dataID,
		Group:  w.group,
		OnChange: func(namespace, group, dataId, data string) {
			logger.Info("nacos config changed", zap.String("dataId", dataId), zap.String("group", group))
			if err := w.update(data); err != nil {
				logger.Warn("nacos config rejected", zap.String("dataId", dataId), zap.Error(err))
			}
		},
	}
	if err := w.src.ListenConfig(param); err != nil {
		return errs.WrapMsg(err, "nacos listen config", "dataId", w.dataID)
	}
	go func() {
		<-ctx.Done()
		_ = w.src.CancelListenConfig(vo.ConfigParam{DataId: w.dataID, Group: w.group})
	}()
	return nil
}

func (w *Watcher) update(data string) error {
	if w.apply != nil {
		if err := w.apply(data); err != nil {
			return err
		}
	}
	w.mu.Lock()
	w.current = data
	w.mu.Unlock()
	return nil
}

// Current is the last content that was applied successfully.
func (w *Watcher) Current() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
